package models

// RecordState is the lifecycle tag of an AnnotationRecord
type RecordState string

const (
	StateNew      RecordState = "new"
	StateModified RecordState = "modified"
	StateDraft    RecordState = "draft"
	StateUploaded RecordState = "uploaded"
)

// IsDraftable reports whether records in this state are worth persisting in a draft
func (s RecordState) IsDraftable() bool {
	switch s {
	case StateNew, StateModified, StateDraft, StateUploaded:
		return true
	default:
		return false
	}
}

// AnnotationRecord is the authoritative per-image state, keyed by thumbnail path.
// Time is the run generation the data belongs to, not a wall-clock value.
type AnnotationRecord struct {
	Data    ScamImageData     `json:"data"`
	State   RecordState       `json:"state"`
	Time    int               `json:"time"`
	Image   SourceImage       `json:"image"`
	Visible bool              `json:"visible"`
	Checked bool              `json:"checked"`
	Options *DetectionOptions `json:"options,omitempty"`
}

// Clone returns a deep copy of the record
func (r AnnotationRecord) Clone() AnnotationRecord {
	c := r
	c.Data = r.Data.Clone()
	if r.Options != nil {
		o := *r.Options
		c.Options = &o
	}
	return c
}

// RecordPatch is a partial record. Nil fields are left untouched when merged.
type RecordPatch struct {
	Data    *ScamImageData
	State   *RecordState
	Time    *int
	Image   *SourceImage
	Visible *bool
	Checked *bool
	Options *DetectionOptions
}

// Apply shallow-merges the patch into a copy of rec. Visible and Checked are
// mirrored onto the image and its data so every writer, bulk or not, keeps
// the three in step.
func (p RecordPatch) Apply(rec AnnotationRecord) AnnotationRecord {
	if p.Data != nil {
		rec.Data = p.Data.Clone()
	}
	if p.State != nil {
		rec.State = *p.State
	}
	if p.Time != nil {
		rec.Time = *p.Time
	}
	if p.Image != nil {
		rec.Image = *p.Image
	}
	if p.Visible != nil {
		rec.Visible = *p.Visible
		rec.Image.Hidden = !rec.Visible
		rec.Data.Hidden = !rec.Visible
	}
	if p.Checked != nil {
		rec.Checked = *p.Checked
		rec.Image.Checked = rec.Checked
		rec.Data.Checked = rec.Checked
	}
	if p.Options != nil {
		o := *p.Options
		rec.Options = &o
	}
	return rec
}

// Ptr is a small helper for building patches
func Ptr[T any](v T) *T {
	return &v
}
