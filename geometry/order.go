package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/camden-git/scamqc/models"
)

// RenderOrder returns the draw order for one rendering pass: every region in
// canonical order, except the selected one which is drawn last so it sits above
// its siblings. The input slice is not modified.
func RenderOrder(rects []models.DisplayRegion, selected int) []models.DisplayRegion {
	out := make([]models.DisplayRegion, 0, len(rects))
	var sel []models.DisplayRegion
	for _, r := range rects {
		if r.N == selected {
			sel = append(sel, r)
			continue
		}
		out = append(out, r)
	}
	return append(out, sel...)
}

// OrderPages sorts regions along the dominant axis of their centres: left to
// right when they spread more horizontally, top to bottom otherwise.
func OrderPages(pages []models.Region) []models.Region {
	out := models.CloneRegions(pages)
	if len(out) < 2 {
		return out
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range out {
		minX, maxX = math.Min(minX, p.Rect.CX()), math.Max(maxX, p.Rect.CX())
		minY, maxY = math.Min(minY, p.Rect.CY()), math.Max(maxY, p.Rect.CY())
	}
	axis := 1
	if maxX-minX > maxY-minY {
		axis = 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rect[axis] < out[j].Rect[axis]
	})
	return out
}

// TruncateRatio truncates a ratio to 3 decimals for display
func TruncateRatio(v float64) float64 {
	return math.Trunc(v*1000) / 1000
}

// RoundPixels rounds a pixel dimension for display
func RoundPixels(v float64) int {
	return int(math.Round(v))
}

// DimensionsLabel formats a native rect as "W x H (ratio)" for on-screen text.
// The ratio is long side over short side.
func DimensionsLabel(r models.Rect) string {
	w, h := r.W(), r.H()
	short, long := math.Min(w, h), math.Max(w, h)
	ratio := 0.0
	if short > 0 {
		ratio = TruncateRatio(long / short)
	}
	return fmt.Sprintf("%d x %d (%.3f)", RoundPixels(w), RoundPixels(h), ratio)
}
