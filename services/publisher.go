package services

import (
	"context"
	"fmt"
	"log"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/state"
	"github.com/camden-git/scamqc/workers"
)

// optionsList de-duplicates detection option sets by content
type optionsList struct {
	list  []models.DetectionOptions
	index map[string]int
}

func (l *optionsList) indexOf(o models.DetectionOptions) int {
	h := o.Hash()
	if i, ok := l.index[h]; ok {
		return i
	}
	l.list = append(l.list, o)
	l.index[h] = len(l.list) - 1
	return len(l.list) - 1
}

// BuildScamJSON overlays the records onto the folder's scam.json. Images
// without a record keep their published data. Regions are ordered along the
// dominant axis and stripped of engine-only fields.
func BuildScamJSON(scam models.ScamData, records map[string]models.AnnotationRecord, current models.DetectionOptions) models.ScamData {
	out := scam
	out.Files = make([]models.ScamImageData, len(scam.Files))
	opts := &optionsList{index: make(map[string]int)}

	allChecked := len(scam.Files) > 0
	for i, file := range scam.Files {
		f := file.Clone()
		f.Rects = nil

		rec, ok := records[file.ThumbnailPath]
		if ok {
			f.Pages = geometry.OrderPages(trimPages(rec.Data.Pages))
			f.Width, f.Height = rec.Data.Width, rec.Data.Height
			f.ThumbnailInfo = rec.Data.ThumbnailInfo
			f.Rotation = rec.Image.Rotation
			f.Hidden = !rec.Visible
			f.Checked = rec.Checked
			o := current
			if rec.Options != nil {
				o = *rec.Options
			}
			idx := opts.indexOf(o)
			f.OptionsIndex = &idx
		} else if file.OptionsIndex != nil && *file.OptionsIndex >= 0 && *file.OptionsIndex < len(scam.OptionsList) {
			idx := opts.indexOf(scam.OptionsList[*file.OptionsIndex])
			f.OptionsIndex = &idx
		} else {
			f.OptionsIndex = nil
		}

		if !f.Checked {
			allChecked = false
		}
		out.Files[i] = f
	}
	out.OptionsList = opts.list
	out.Checked = allChecked
	return out
}

// Publish sends the corrected scam.json of the folder to the API. On success
// every record becomes uploaded and the published flag is set.
func (s *Session) Publish(ctx context.Context) (models.ScamData, error) {
	s.mu.Lock()
	if s.scam == nil {
		s.mu.Unlock()
		return models.ScamData{}, ErrNoFolder
	}
	if s.loadDraft == nil {
		s.mu.Unlock()
		return models.ScamData{}, ErrDraftDecisionNeeded
	}
	// results landing after the upload would silently replace uploaded records
	if st := s.queue.Status(); st != workers.StatusIdle {
		s.mu.Unlock()
		return models.ScamData{}, workers.ErrAlreadyRunning
	}

	records := s.store.Snapshot()
	built := BuildScamJSON(*s.scam, records, s.options)
	if err := s.api.SaveScamJSON(ctx, s.folder, built); err != nil {
		log.Printf("session: ERROR publishing %s: %v", s.folder, err)
		s.mu.Unlock()
		return models.ScamData{}, fmt.Errorf("publishing %s: %w", s.folder, err)
	}

	s.scam = &built
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	s.editMu.Lock()
	s.store.Dispatch(state.UpdateMany(ids, models.RecordPatch{State: models.Ptr(models.StateUploaded)}))
	s.editMu.Unlock()

	s.flags = Flags{Published: true, Drafted: s.flags.Drafted}
	flags := s.flags
	log.Printf("session: published %s (%d image(s), %d option set(s))", s.folder, len(built.Files), len(built.OptionsList))
	s.mu.Unlock()

	s.notifyFlags(flags)
	return built, nil
}
