// Package geometry maps page regions between native image pixels and the
// on-screen display space. Everything in here is pure and stateless.
package geometry

import (
	"math"

	"github.com/camden-git/scamqc/models"
)

// smallAreaRatio is the fraction of the largest untagged region below which
// an untagged region is flagged as small
const smallAreaRatio = 0.01

// Projection scales between native and display space, per axis.
type Projection struct {
	DisplayW float64
	DisplayH float64
	NativeW  float64
	NativeH  float64
}

// NewProjection builds the projection for an image: display space is the
// thumbnail, native space is the full-resolution image.
func NewProjection(img models.SourceImage) Projection {
	return Projection{
		DisplayW: float64(img.ThumbnailInfo.Width),
		DisplayH: float64(img.ThumbnailInfo.Height),
		NativeW:  float64(img.Width),
		NativeH:  float64(img.Height),
	}
}

func (p Projection) scaleX() float64 {
	if p.NativeW == 0 || p.DisplayW == 0 {
		return 1
	}
	return p.DisplayW / p.NativeW
}

func (p Projection) scaleY() float64 {
	if p.NativeH == 0 || p.DisplayH == 0 {
		return 1
	}
	return p.DisplayH / p.NativeH
}

// ToDisplay projects region n of allRegions into display space and derives its
// warning tag. maxRegionArea is the largest untagged native area in the list.
func (p Projection) ToDisplay(n int, region models.Region, maxRegionArea float64, allRegions []models.Region) models.DisplayRegion {
	sx, sy := p.scaleX(), p.scaleY()
	rect := region.Rect
	width := rect.W() * sx
	height := rect.H() * sy
	return models.DisplayRegion{
		N:        n,
		X:        rect.CX()*sx - width/2,
		Y:        rect.CY()*sy - height/2,
		Width:    width,
		Height:   height,
		Rotation: rect.Angle(),
		Warning:  warningFor(n, region, maxRegionArea, allRegions),
	}
}

// FromDisplay inverts ToDisplay, recovering the native rect of an edited
// display region.
func (p Projection) FromDisplay(dr models.DisplayRegion) models.Rect {
	sx, sy := p.scaleX(), p.scaleY()
	return models.Rect{
		(dr.X + dr.Width/2) / sx,
		(dr.Y + dr.Height/2) / sy,
		dr.Width / sx,
		dr.Height / sy,
		dr.Rotation,
	}
}

// ProjectAll projects every region of an image, in canonical order.
func (p Projection) ProjectAll(pages []models.Region) []models.DisplayRegion {
	if pages == nil {
		return nil
	}
	maxArea := MaxUntaggedArea(pages)
	rects := make([]models.DisplayRegion, len(pages))
	for i, r := range pages {
		rects[i] = p.ToDisplay(i, r, maxArea, pages)
	}
	return rects
}

// MaxUntaggedArea returns the largest native area among untagged regions
func MaxUntaggedArea(pages []models.Region) float64 {
	maxArea := 0.0
	for _, r := range pages {
		if r.IsTagged() {
			continue
		}
		if a := r.Rect.Area(); a > maxArea {
			maxArea = a
		}
	}
	return maxArea
}

// warningFor derives the display warning. Duplicate wins over detector
// warnings, which win over the small-area rule.
func warningFor(n int, region models.Region, maxRegionArea float64, allRegions []models.Region) string {
	if IsDuplicate(n, allRegions) {
		return models.DisplayWarningDuplicate
	}
	if hasDetectorWarning(region) {
		return models.DisplayWarningDetector
	}
	if !region.IsTagged() && maxRegionArea > 0 && region.Rect.Area() < smallAreaRatio*maxRegionArea {
		return models.DisplayWarningSmall
	}
	return ""
}

func hasDetectorWarning(region models.Region) bool {
	for _, w := range region.Warnings {
		if w != models.WarningDuplicate {
			return true
		}
	}
	return false
}

// IsDuplicate reports whether an identical rect appears earlier in the list.
// Rects are compared with their rotation handle stripped.
func IsDuplicate(n int, allRegions []models.Region) bool {
	if n <= 0 || n >= len(allRegions) {
		return false
	}
	target := WithoutRotatedHandle(allRegions[n]).Rect
	for j := 0; j < n; j++ {
		if WithoutRotatedHandle(allRegions[j]).Rect == target {
			return true
		}
	}
	return false
}

// Corners returns the four corners of a display region in drawing order,
// turned by its rotation about its centre
func Corners(dr models.DisplayRegion) [4][2]float64 {
	cx, cy := dr.X+dr.Width/2, dr.Y+dr.Height/2
	hw, hh := dr.Width/2, dr.Height/2
	rad := dr.Rotation * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	var out [4][2]float64
	for i, c := range [4][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}} {
		out[i] = [2]float64{cx + c[0]*cos - c[1]*sin, cy + c[0]*sin + c[1]*cos}
	}
	return out
}
