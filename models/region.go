package models

// Rect is a rotated rectangle in native image pixels: [cx, cy, w, h, angle].
// w and h are the un-rotated extents, angle is in degrees.
type Rect [5]float64

func (r Rect) CX() float64    { return r[0] }
func (r Rect) CY() float64    { return r[1] }
func (r Rect) W() float64     { return r[2] }
func (r Rect) H() float64     { return r[3] }
func (r Rect) Angle() float64 { return r[4] }

// Area of the rectangle in native pixels
func (r Rect) Area() float64 {
	return r[2] * r[3]
}

// Warning tags, either produced by the detector or re-derived locally.
const (
	WarningDuplicate = "duplicate"
	WarningTooSmall  = "too-small"
)

// Region is one detected or edited page within an image.
type Region struct {
	Rect          Rect     `json:"minAreaRect"`
	Warnings      []string `json:"warnings"`
	RotatedHandle bool     `json:"rotatedHandle,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	// HandleBaseAngle is the angle the region had before the handle was
	// rotated, so that removing the handle restores it bit for bit
	HandleBaseAngle float64 `json:"-"`
}

// IsTagged reports whether the region carries any semantic label, which
// excludes it from the expected page count.
func (r Region) IsTagged() bool {
	return len(r.Tags) > 0
}

// Clone returns a deep copy of the region
func (r Region) Clone() Region {
	c := r
	if r.Warnings != nil {
		c.Warnings = append([]string(nil), r.Warnings...)
	}
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return c
}

// CloneRegions deep-copies a region list, preserving nil.
func CloneRegions(pages []Region) []Region {
	if pages == nil {
		return nil
	}
	out := make([]Region, len(pages))
	for i, p := range pages {
		out[i] = p.Clone()
	}
	return out
}

// Display warning tags. An empty tag means no warning.
const (
	DisplayWarningDuplicate = "duplicate"
	DisplayWarningDetector  = "warning"
	DisplayWarningSmall     = "small"
)

// DisplayRegion is the on-screen projection of a Region for one rendering pass.
// It is regenerated whenever dimensions or the region list change and is
// never persisted.
type DisplayRegion struct {
	N        int     `json:"n"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Warning  string  `json:"warning,omitempty"`
}
