package services

import (
	"log"
	"sync"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/state"
	"github.com/camden-git/scamqc/workers"
)

// DecisionKind is the outcome of evaluating one image
type DecisionKind int

const (
	// DecisionWait means the draft-load choice is still pending
	DecisionWait DecisionKind = iota
	DecisionRestoreDraft
	DecisionAdoptUploaded
	DecisionSkipChecked
	DecisionRequestRun
	DecisionUpToDate
	// DecisionPlaceholder adds an empty record for a hidden or checked image
	// that has nothing to show yet, so it can still be unhidden or unchecked
	DecisionPlaceholder
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionWait:
		return "wait"
	case DecisionRestoreDraft:
		return "restore-draft"
	case DecisionAdoptUploaded:
		return "adopt-uploaded"
	case DecisionSkipChecked:
		return "skip-checked"
	case DecisionRequestRun:
		return "request-run"
	case DecisionUpToDate:
		return "up-to-date"
	case DecisionPlaceholder:
		return "placeholder"
	}
	return "unknown"
}

// ReconcileContext is everything outside the record store that an evaluation
// depends on
type ReconcileContext struct {
	// LoadDraft is nil until the operator decided whether to load the draft
	LoadDraft      *bool
	Draft          *models.AnnotationRecord
	Options        models.DetectionOptions
	ShouldRunAfter int
}

// Decision is the result of an evaluation. Record is set for the decisions
// that add a record.
type Decision struct {
	Kind   DecisionKind
	Record *models.AnnotationRecord
}

// Reconciler decides which source of truth wins for an image. It never calls
// the detector; a DecisionRequestRun is handed to the sync queue by the caller.
type Reconciler struct {
	store *state.Store
	// mu serialises read-modify-write cycles on records
	mu *sync.Mutex
}

func NewReconciler(store *state.Store, mu *sync.Mutex) *Reconciler {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Reconciler{store: store, mu: mu}
}

// Evaluate applies the priority rules to one image without touching the store
func (r *Reconciler) Evaluate(img models.ScamImageData, rc ReconcileContext) Decision {
	if rc.LoadDraft == nil {
		return Decision{Kind: DecisionWait}
	}

	id := img.ThumbnailPath
	rec, exists := r.store.Get(id)

	if *rc.LoadDraft && rc.Draft != nil && !exists {
		restored := restoreDraft(*rc.Draft, rc.ShouldRunAfter)
		return Decision{Kind: DecisionRestoreDraft, Record: &restored}
	}

	if len(img.Pages) > 0 {
		if !exists {
			adopted := adoptUploaded(img, rc.Options, rc.ShouldRunAfter)
			return Decision{Kind: DecisionAdoptUploaded, Record: &adopted}
		}
		if rec.State == models.StateUploaded && rec.Time >= rc.ShouldRunAfter && rec.Image.Rotation == rec.Data.Rotation {
			return Decision{Kind: DecisionUpToDate}
		}
	}

	if !exists && (img.Hidden || img.Checked) {
		placeholder := placeholderRecord(img, rc.Options, rc.ShouldRunAfter)
		return Decision{Kind: DecisionPlaceholder, Record: &placeholder}
	}

	checked := img.Checked
	if exists {
		checked = rec.Checked
	}
	if checked {
		return Decision{Kind: DecisionSkipChecked}
	}

	if !exists || rec.Time < rc.ShouldRunAfter || rec.Image.Rotation != rec.Data.Rotation {
		return Decision{Kind: DecisionRequestRun}
	}
	return Decision{Kind: DecisionUpToDate}
}

// Reconcile evaluates an image and performs the ADD for restore and adopt
// decisions
func (r *Reconciler) Reconcile(img models.ScamImageData, rc ReconcileContext) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.Evaluate(img, rc)
	if d.Record != nil {
		r.store.Dispatch(state.Add(img.ThumbnailPath, *d.Record))
	}
	return d
}

// ApplyResult writes a detector result into the store. The result is marked
// modified when the image was rotated after the request was submitted; its
// regions are then rotated into the current orientation. Results for images
// checked in the meantime are dropped.
func (r *Reconciler) ApplyResult(res workers.Result) (models.AnnotationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := res.Token.ImageID
	current, exists := r.store.Get(id)
	if exists && current.Checked {
		log.Printf("reconciler: dropping result for checked image %s", id)
		return models.AnnotationRecord{}, false
	}

	data := res.Data.Clone()
	data.ThumbnailPath = id
	data.Pages = geometry.WithoutRotatedHandles(data.Pages)

	image := data.SourceImage
	visible := !data.Hidden
	if exists {
		image = current.Image
		visible = current.Visible
	}

	st := models.StateNew
	if exists && current.Image.Rotation != res.Token.Rotation {
		st = models.StateModified
		delta := current.Image.Rotation - res.Token.Rotation
		pages, err := geometry.RotatePages(data.Pages, delta, float64(data.Width), float64(data.Height))
		if err != nil {
			log.Printf("reconciler: ERROR rotating stale result for %s: %v", id, err)
			return models.AnnotationRecord{}, false
		}
		data.Pages = pages
		data.Width, data.Height = geometry.RotatedSize(data.Width, data.Height, delta)
		tw, th := geometry.RotatedSize(data.ThumbnailInfo.Width, data.ThumbnailInfo.Height, delta)
		data.ThumbnailInfo.Width, data.ThumbnailInfo.Height = tw, th
		log.Printf("reconciler: result for %s computed at rotation %d, image is now at %d", id, res.Token.Rotation, current.Image.Rotation)
	}
	data.Rotation = image.Rotation
	data.Hidden = image.Hidden
	data.Checked = false
	project(&data, image)

	opts := res.Options
	rec := models.AnnotationRecord{
		Data:    data,
		State:   st,
		Time:    res.Token.Generation,
		Image:   image,
		Visible: visible,
		Checked: false,
		Options: &opts,
	}
	r.store.Dispatch(state.Add(id, rec))
	return rec, true
}

// project applies handle normalisation and recomputes the display rects
func project(data *models.ScamImageData, image models.SourceImage) {
	data.Pages = geometry.WithRotatedHandles(geometry.WithoutRotatedHandles(data.Pages), image)
	data.Rects = geometry.NewProjection(data.SourceImage).ProjectAll(data.Pages)
}

func restoreDraft(draft models.AnnotationRecord, generation int) models.AnnotationRecord {
	rec := draft.Clone()
	rec.State = models.StateDraft
	rec.Time = generation
	rec.Image.Hidden = !draft.Visible
	rec.Image.Checked = draft.Checked
	project(&rec.Data, rec.Image)
	return rec
}

// placeholderRecord stands for an image the queue will not pick up while it
// is hidden or checked. It is one generation behind so the image is computed
// once it is eligible again.
func placeholderRecord(img models.ScamImageData, options models.DetectionOptions, generation int) models.AnnotationRecord {
	rec := adoptUploaded(img, options, generation-1)
	rec.Data.Pages = nil
	rec.Data.Rects = nil
	return rec
}

func adoptUploaded(img models.ScamImageData, options models.DetectionOptions, generation int) models.AnnotationRecord {
	data := img.Clone()
	project(&data, img.SourceImage)
	opts := options
	return models.AnnotationRecord{
		Data:    data,
		State:   models.StateUploaded,
		Time:    generation,
		Image:   img.SourceImage,
		Visible: !img.Hidden,
		Checked: img.Checked,
		Options: &opts,
	}
}
