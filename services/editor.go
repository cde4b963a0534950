package services

import (
	"fmt"
	"math"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/state"
)

// Point is a position in display space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// mutate runs fn on a copy of the record and writes the result back as an
// UPDATE with state modified. The record lock is released before the session
// flags are touched.
func (s *Session) mutate(id string, fn func(rec *models.AnnotationRecord) error) (models.AnnotationRecord, error) {
	s.editMu.Lock()
	rec, ok := s.store.Get(id)
	if !ok {
		s.editMu.Unlock()
		return models.AnnotationRecord{}, fmt.Errorf("%s: %w", id, ErrNoRecord)
	}
	if err := fn(&rec); err != nil {
		s.editMu.Unlock()
		return models.AnnotationRecord{}, err
	}
	rec.State = models.StateModified
	s.store.Dispatch(state.Update(id, models.RecordPatch{
		Data:    &rec.Data,
		State:   models.Ptr(models.StateModified),
		Image:   &rec.Image,
		Visible: models.Ptr(rec.Visible),
		Checked: models.Ptr(rec.Checked),
	}))
	s.editMu.Unlock()

	s.markModified()
	return rec, nil
}

func checkIndex(rec *models.AnnotationRecord, n int) error {
	if n < 0 || n >= len(rec.Data.Pages) {
		return fmt.Errorf("region %d of %d: %w", n, len(rec.Data.Pages), ErrRegionIndex)
	}
	return nil
}

// UpdateRegion applies a drag, resize or rotate gesture expressed in display
// space to region dr.N
func (s *Session) UpdateRegion(id string, dr models.DisplayRegion) (models.AnnotationRecord, error) {
	return s.mutate(id, func(rec *models.AnnotationRecord) error {
		if err := checkIndex(rec, dr.N); err != nil {
			return err
		}
		page := rec.Data.Pages[dr.N]
		page.Rect = geometry.NewProjection(rec.Data.SourceImage).FromDisplay(dr)
		rec.Data.Pages[dr.N] = geometry.WithRotatedHandle(geometry.WithoutRotatedHandle(page), rec.Image)
		project(&rec.Data, rec.Image)
		return nil
	})
}

// AddRegion commits a region drawn by a drag gesture. The gesture is
// discarded with ErrEmptyGesture unless press and release differ on both axes.
// The new region becomes the selection.
func (s *Session) AddRegion(id string, press, release Point) (int, error) {
	if press.X == release.X || press.Y == release.Y {
		return -1, ErrEmptyGesture
	}
	n := -1
	_, err := s.mutate(id, func(rec *models.AnnotationRecord) error {
		n = len(rec.Data.Pages)
		dr := models.DisplayRegion{
			N:      n,
			X:      math.Min(press.X, release.X),
			Y:      math.Min(press.Y, release.Y),
			Width:  math.Abs(release.X - press.X),
			Height: math.Abs(release.Y - press.Y),
		}
		region := models.Region{
			Rect:     geometry.NewProjection(rec.Data.SourceImage).FromDisplay(dr),
			Warnings: []string{},
		}
		rec.Data.Pages = append(rec.Data.Pages, geometry.WithRotatedHandle(region, rec.Image))
		project(&rec.Data, rec.Image)
		s.selected[id] = n
		return nil
	})
	if err != nil {
		return -1, err
	}
	return n, nil
}

// DeleteRegion removes region n. When the selection is lost it moves to the
// new last region, so it never points past the list.
func (s *Session) DeleteRegion(id string, n int) (models.AnnotationRecord, error) {
	return s.mutate(id, func(rec *models.AnnotationRecord) error {
		if err := checkIndex(rec, n); err != nil {
			return err
		}
		pages := append([]models.Region{}, rec.Data.Pages[:n]...)
		rec.Data.Pages = append(pages, rec.Data.Pages[n+1:]...)
		project(&rec.Data, rec.Image)

		if sel, ok := s.selected[id]; ok {
			switch {
			case sel == n || sel >= len(rec.Data.Pages):
				s.selected[id] = len(rec.Data.Pages) - 1
			case sel > n:
				s.selected[id] = sel - 1
			}
		}
		return nil
	})
}

// TagRegion replaces the semantic labels of region n
func (s *Session) TagRegion(id string, n int, tags []string) (models.AnnotationRecord, error) {
	return s.mutate(id, func(rec *models.AnnotationRecord) error {
		if err := checkIndex(rec, n); err != nil {
			return err
		}
		if len(tags) == 0 {
			rec.Data.Pages[n].Tags = nil
		} else {
			rec.Data.Pages[n].Tags = append([]string(nil), tags...)
		}
		project(&rec.Data, rec.Image)
		return nil
	})
}

// SetVisible hides or shows an image. Hidden images are left out of runs.
func (s *Session) SetVisible(id string, visible bool) (models.AnnotationRecord, error) {
	return s.mutate(id, func(rec *models.AnnotationRecord) error {
		rec.Visible = visible
		rec.Image.Hidden = !visible
		rec.Data.Hidden = !visible
		return nil
	})
}

// SetChecked marks an image checked, which freezes it, or unchecks it
func (s *Session) SetChecked(id string, checked bool) (models.AnnotationRecord, error) {
	rec, err := s.mutate(id, func(rec *models.AnnotationRecord) error {
		rec.Checked = checked
		rec.Image.Checked = checked
		rec.Data.Checked = checked
		return nil
	})
	if err == nil && checked {
		s.queue.CancelImage(id)
	}
	return rec, err
}

// CheckPrevious marks an image and every image before it as checked
func (s *Session) CheckPrevious(id string) ([]string, error) {
	all := s.imageIDs()
	if all == nil {
		return nil, ErrNoFolder
	}

	s.editMu.Lock()
	var ids []string
	found := false
	for _, other := range all {
		if _, ok := s.store.Get(other); ok {
			ids = append(ids, other)
		}
		if other == id {
			found = true
			break
		}
	}
	if !found {
		s.editMu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrNoRecord)
	}
	s.store.Dispatch(state.UpdateMany(ids, models.RecordPatch{
		Checked: models.Ptr(true),
		State:   models.Ptr(models.StateModified),
	}))
	s.editMu.Unlock()

	for _, other := range ids {
		s.queue.CancelImage(other)
	}
	s.markModified()
	return ids, nil
}

// RotateImage rotates an image by a multiple of 90 degrees. Its regions
// rotate in lockstep and its dimensions swap on quarter turns. The data keeps
// the rotation the detector last saw, so the next Reconcile requests a fresh
// detection unless the image is turned back.
func (s *Session) RotateImage(id string, angle int) (models.AnnotationRecord, error) {
	if angle == 0 || angle%90 != 0 {
		return models.AnnotationRecord{}, fmt.Errorf("%d: %w", angle, ErrRotation)
	}
	return s.mutate(id, func(rec *models.AnnotationRecord) error {
		data := &rec.Data
		pages, err := geometry.RotatePages(geometry.WithoutRotatedHandles(data.Pages), angle, float64(data.Width), float64(data.Height))
		if err != nil {
			return err
		}
		if data.Pages != nil {
			data.Pages = pages
		}

		data.Width, data.Height = geometry.RotatedSize(data.Width, data.Height, angle)
		data.ThumbnailInfo.Width, data.ThumbnailInfo.Height = geometry.RotatedSize(data.ThumbnailInfo.Width, data.ThumbnailInfo.Height, angle)
		rotation := geometry.NormalizeRotation(rec.Image.Rotation + angle)

		rec.Image.Rotation = rotation
		rec.Image.Width, rec.Image.Height = data.Width, data.Height
		rec.Image.ThumbnailInfo = data.ThumbnailInfo

		project(data, rec.Image)
		return nil
	})
}

// Select sets the selected region of an image; -1 clears the selection
func (s *Session) Select(id string, n int) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	rec, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNoRecord)
	}
	if n == -1 {
		delete(s.selected, id)
		return nil
	}
	if err := checkIndex(&rec, n); err != nil {
		return err
	}
	s.selected[id] = n
	return nil
}

// Selected returns the selected region of an image, or -1
func (s *Session) Selected(id string) int {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	if n, ok := s.selected[id]; ok {
		return n
	}
	return -1
}

// RenderOrder returns the display regions of an image in draw order
func (s *Session) RenderOrder(id string) ([]models.DisplayRegion, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNoRecord)
	}
	return geometry.RenderOrder(rec.Data.Rects, s.Selected(id)), nil
}
