package services

import (
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/workers"
)

// UntaggedCount is the number of regions that count as pages
func UntaggedCount(pages []models.Region) int {
	n := 0
	for _, p := range pages {
		if !p.IsTagged() {
			n++
		}
	}
	return n
}

// IsWarned reports whether a record needs the operator's attention: a region
// carries a display warning, or the number of untagged regions differs from
// the expected page count. Tagged regions never count, whatever the direction.
func IsWarned(rec models.AnnotationRecord, fallback models.DetectionOptions) bool {
	for _, r := range rec.Data.Rects {
		if r.Warning != "" {
			return true
		}
	}
	opts := fallback
	if rec.Options != nil {
		opts = *rec.Options
	}
	if opts.NbPagesExpected > 0 && UntaggedCount(rec.Data.Pages) != opts.NbPagesExpected {
		return true
	}
	return false
}

// WarnedImages scans records and returns the set of warned image ids
func WarnedImages(records map[string]models.AnnotationRecord, fallback models.DetectionOptions) map[string]bool {
	out := make(map[string]bool)
	for id, rec := range records {
		if IsWarned(rec, fallback) {
			out[id] = true
		}
	}
	return out
}

// Summary is a read-only scan of the folder
type Summary struct {
	Folder       string                     `json:"folder"`
	Images       int                        `json:"images"`
	Records      int                        `json:"records"`
	ByState      map[models.RecordState]int `json:"by_state"`
	Checked      int                        `json:"checked"`
	Hidden       int                        `json:"hidden"`
	AllChecked   bool                       `json:"all_checked"`
	Warned       []string                   `json:"warned"`
	DraftPending bool                       `json:"draft_pending"`
	Generation   int                        `json:"generation"`
	Flags        Flags                      `json:"flags"`
	Progress     workers.Progress           `json:"progress"`
	Percent      float64                    `json:"percent"`
}

// Summary computes folder-level facts from the store
func (s *Session) Summary() Summary {
	s.mu.Lock()
	sum := Summary{
		Folder:       s.folder,
		DraftPending: s.scam != nil && s.loadDraft == nil,
		Generation:   s.shouldRunAfter,
		Flags:        s.flags,
	}
	options := s.options
	s.mu.Unlock()

	ids := s.imageIDs()
	records := s.store.Snapshot()
	sum.Images = len(ids)
	sum.ByState = make(map[models.RecordState]int)
	sum.Warned = []string{}
	sum.AllChecked = len(ids) > 0
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			sum.AllChecked = false
			continue
		}
		sum.Records++
		sum.ByState[rec.State]++
		if rec.Checked {
			sum.Checked++
		} else {
			sum.AllChecked = false
		}
		if !rec.Visible {
			sum.Hidden++
		}
		if IsWarned(rec, options) {
			sum.Warned = append(sum.Warned, id)
		}
	}
	sum.Progress = s.queue.Progress()
	sum.Percent = sum.Progress.Percent()
	return sum
}
