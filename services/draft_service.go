package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/repository"
)

const draftKeyPrefix = "drafts/"

// Draft is the durable, unpublished snapshot of a folder's edits
type Draft struct {
	Images  map[string]models.AnnotationRecord `json:"images"`
	Options *models.DetectionOptions           `json:"options,omitempty"`
	SavedAt int64                              `json:"saved_at,omitempty"`
}

// Empty reports whether the draft holds no image
func (d Draft) Empty() bool {
	return len(d.Images) == 0
}

// DraftInfo describes a stored draft without decoding it
type DraftInfo struct {
	Folder    string `json:"folder"`
	Size      int    `json:"size"`
	UpdatedAt int64  `json:"updated_at"`
}

// DraftService persists drafts through a key-value port. It never touches the
// record store: a failed write leaves the in-memory edits as they are.
type DraftService struct {
	kv repository.KeyValueStore
}

func NewDraftService(kv repository.KeyValueStore) *DraftService {
	return &DraftService{kv: kv}
}

func DraftKey(folder string) string {
	return draftKeyPrefix + folder
}

// Save writes the draftable records of a folder and returns how many were kept
func (s *DraftService) Save(folder string, records map[string]models.AnnotationRecord, options models.DetectionOptions) (int, error) {
	draft := Draft{
		Images:  make(map[string]models.AnnotationRecord, len(records)),
		Options: &options,
		SavedAt: time.Now().Unix(),
	}
	for id, rec := range records {
		if !rec.State.IsDraftable() {
			continue
		}
		draft.Images[id] = TrimRecord(rec)
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return 0, fmt.Errorf("encoding draft for %s: %w", folder, err)
	}
	if err := s.kv.Set(DraftKey(folder), payload); err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			log.Printf("drafts: quota exceeded saving %s (%d bytes)", folder, len(payload))
		} else {
			log.Printf("drafts: ERROR saving %s: %v", folder, err)
		}
		return 0, fmt.Errorf("saving draft for %s: %w", folder, err)
	}
	log.Printf("drafts: saved %d image(s) for %s (%d bytes)", len(draft.Images), folder, len(payload))
	return len(draft.Images), nil
}

// Load returns the stored draft of a folder, or an empty draft
func (s *DraftService) Load(folder string) (Draft, error) {
	payload, err := s.kv.Get(DraftKey(folder))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Draft{Images: map[string]models.AnnotationRecord{}}, nil
		}
		return Draft{Images: map[string]models.AnnotationRecord{}}, fmt.Errorf("loading draft for %s: %w", folder, err)
	}
	var draft Draft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return Draft{Images: map[string]models.AnnotationRecord{}}, fmt.Errorf("decoding draft for %s: %w", folder, err)
	}
	if draft.Images == nil {
		draft.Images = map[string]models.AnnotationRecord{}
	}
	return draft, nil
}

// Discard removes a folder's draft entirely
func (s *DraftService) Discard(folder string) error {
	if err := s.kv.Delete(DraftKey(folder)); err != nil {
		return fmt.Errorf("discarding draft for %s: %w", folder, err)
	}
	log.Printf("drafts: discarded draft for %s", folder)
	return nil
}

// List returns every stored draft
func (s *DraftService) List() ([]DraftInfo, error) {
	entries, err := s.kv.List(draftKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	out := make([]DraftInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, DraftInfo{
			Folder:    strings.TrimPrefix(e.Key, draftKeyPrefix),
			Size:      e.Size,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return out, nil
}

// TrimRecord strips what must not be persisted from a record: rotation handle
// normalisation, display rects and locally derived duplicate markers.
func TrimRecord(rec models.AnnotationRecord) models.AnnotationRecord {
	out := rec.Clone()
	out.Data.Rects = nil
	out.Data.Pages = trimPages(out.Data.Pages)
	return out
}

func trimPages(pages []models.Region) []models.Region {
	pages = geometry.WithoutRotatedHandles(pages)
	for i := range pages {
		if pages[i].Warnings == nil {
			continue
		}
		kept := pages[i].Warnings[:0]
		for _, w := range pages[i].Warnings {
			if w != models.WarningDuplicate {
				kept = append(kept, w)
			}
		}
		pages[i].Warnings = kept
	}
	return pages
}

// DraftErrorMessage turns a draft storage failure into the message shown to
// the operator. Quota failures get their own wording.
func DraftErrorMessage(err error) string {
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return "Storage quota exceeded: your drafts are too large to save. Delete old drafts or publish your current work, then try again."
	}
	return "Unable to save the draft. Your edits are still here, please try again."
}
