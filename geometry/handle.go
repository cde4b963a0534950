package geometry

import (
	"github.com/camden-git/scamqc/models"
)

// WithRotatedHandle keeps the interactive resize handle on the short edge: when
// the region is wider than tall and the image is not displayed sideways, w and h
// are swapped and the angle shifted by 90 degrees. The region describes the same
// rectangle afterwards.
func WithRotatedHandle(r models.Region, img models.SourceImage) models.Region {
	if r.RotatedHandle || r.Rect.W() <= r.Rect.H() || isSideways(img.Rotation) {
		return r
	}
	out := r.Clone()
	out.Rect = models.Rect{r.Rect[0], r.Rect[1], r.Rect[3], r.Rect[2], r.Rect[4] + 90}
	out.RotatedHandle = true
	out.HandleBaseAngle = r.Rect[4]
	return out
}

// WithoutRotatedHandle undoes WithRotatedHandle. It must be applied before a
// region is persisted, sent to the detector or compared for duplicates.
// While the angle is still the one WithRotatedHandle produced, the original
// angle is restored exactly; after an edit the 90 degrees are subtracted.
func WithoutRotatedHandle(r models.Region) models.Region {
	if !r.RotatedHandle {
		return r
	}
	out := r.Clone()
	angle := r.Rect[4] - 90
	if r.Rect[4] == r.HandleBaseAngle+90 {
		angle = r.HandleBaseAngle
	}
	out.Rect = models.Rect{r.Rect[0], r.Rect[1], r.Rect[3], r.Rect[2], angle}
	out.RotatedHandle = false
	out.HandleBaseAngle = 0
	return out
}

// WithRotatedHandles normalizes every region of an image
func WithRotatedHandles(pages []models.Region, img models.SourceImage) []models.Region {
	if pages == nil {
		return nil
	}
	out := make([]models.Region, len(pages))
	for i, p := range pages {
		out[i] = WithRotatedHandle(p, img)
	}
	return out
}

// WithoutRotatedHandles strips the handle normalization from every region
func WithoutRotatedHandles(pages []models.Region) []models.Region {
	if pages == nil {
		return nil
	}
	out := make([]models.Region, len(pages))
	for i, p := range pages {
		out[i] = WithoutRotatedHandle(p)
	}
	return out
}

func isSideways(rotation int) bool {
	r := NormalizeRotation(rotation)
	return r == 90 || r == 270
}

// NormalizeRotation folds any multiple of 90 into [0, 360)
func NormalizeRotation(rotation int) int {
	r := rotation % 360
	if r < 0 {
		r += 360
	}
	return r
}
