package geometry

import (
	"fmt"

	"github.com/camden-git/scamqc/models"
)

// RotatePage90 rotates a region's centre by +90 (clockwise) or -90 degrees about
// the pivot (handleX, handleY) and swaps its extents. The pivot is the centre of
// the image before rotation; the rotated centre is expressed relative to the
// rotated image, whose centre is the swapped pivot (handleY, handleX).
// The region angle is unchanged: the swapped extents describe the same shape.
func RotatePage90(r models.Region, angle int, handleX, handleY float64) (models.Region, error) {
	dx := r.Rect.CX() - handleX
	dy := r.Rect.CY() - handleY
	var cx, cy float64
	switch angle {
	case 90:
		cx, cy = handleY-dy, handleX+dx
	case -90:
		cx, cy = handleY+dy, handleX-dx
	default:
		return r, fmt.Errorf("rotate page: angle must be +90 or -90, got %d", angle)
	}
	out := r.Clone()
	out.Rect = models.Rect{cx, cy, r.Rect.H(), r.Rect.W(), r.Rect.Angle()}
	return out, nil
}

// RotatePage rotates a region along with its whole image, where width and
// height are the image's native dimensions before the rotation. A half turn is
// done as two quarter turns, the second one around the swapped pivot.
func RotatePage(r models.Region, angle int, width, height float64) (models.Region, error) {
	steps, err := quarterTurns(angle)
	if err != nil {
		return r, err
	}
	step := 90
	if steps < 0 {
		step = -90
		steps = -steps
	}
	hx, hy := width/2, height/2
	out := r
	for i := 0; i < steps; i++ {
		out, err = RotatePage90(out, step, hx, hy)
		if err != nil {
			return r, err
		}
		hx, hy = hy, hx
	}
	return out, nil
}

// RotatePages rotates every region of an image in lockstep
func RotatePages(pages []models.Region, angle int, width, height float64) ([]models.Region, error) {
	out := make([]models.Region, len(pages))
	for i, p := range pages {
		rp, err := RotatePage(p, angle, width, height)
		if err != nil {
			return nil, err
		}
		out[i] = rp
	}
	return out, nil
}

// quarterTurns converts an angle to a signed number of quarter turns, using
// the shortest direction (270 becomes -1).
func quarterTurns(angle int) (int, error) {
	if angle%90 != 0 {
		return 0, fmt.Errorf("rotate page: angle %d is not a multiple of 90", angle)
	}
	switch NormalizeRotation(angle) {
	case 0:
		return 0, nil
	case 90:
		return 1, nil
	case 270:
		return -1, nil
	}
	if angle < 0 {
		return -2, nil
	}
	return 2, nil
}

// RotatedSize returns image dimensions after rotating by angle
func RotatedSize(width, height, angle int) (int, int) {
	if isSideways(angle) {
		return height, width
	}
	return width, height
}

// ThumbnailTurn is how far a stored thumbnail must be turned clockwise to
// match the image's current rotation. Thumbnails are stored already turned by
// the rotation inherent to the folder's preprocessing.
func ThumbnailTurn(img models.SourceImage) int {
	return NormalizeRotation(img.Rotation - img.ThumbnailInfo.Rotation)
}
