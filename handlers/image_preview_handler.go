package handlers

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"net/http"
	"path"
	"strconv"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/media"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/services"
	"gocv.io/x/gocv"
)

// RegionPreviewHandler draws an image's regions over its thumbnail, the way
// the operator sees them, for debugging detector output
type RegionPreviewHandler struct {
	Cache   ThumbnailRenderer
	Session *services.Session
	Store   media.Store
	// URL prefix under which saved previews are served
	PreviewURLPrefix string
}

var (
	colorRegion    = color.RGBA{0, 200, 0, 0}
	colorSelected  = color.RGBA{0, 0, 255, 0}
	colorDuplicate = color.RGBA{255, 0, 0, 0}
	colorWarning   = color.RGBA{255, 140, 0, 0}
	colorSmall     = color.RGBA{220, 200, 0, 0}
)

func regionColor(dr models.DisplayRegion, selected int) color.RGBA {
	if dr.N == selected {
		return colorSelected
	}
	switch dr.Warning {
	case models.DisplayWarningDuplicate:
		return colorDuplicate
	case models.DisplayWarningDetector:
		return colorWarning
	case models.DisplayWarningSmall:
		return colorSmall
	}
	return colorRegion
}

// ServeRegionPreview handles GET /debug/regions?id=...[&save=1]
func (h *RegionPreviewHandler) ServeRegionPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	render, err := h.Session.RenderOrder(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	thumb, err := thumbnailFor(r.Context(), h.Cache, h.Session, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	img, err := gocv.IMDecode(thumb, gocv.IMReadColor)
	if err != nil || img.Empty() {
		log.Printf("handlers.preview: failed to decode thumbnail %s with gocv: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, "decode_failed", "Failed to read thumbnail")
		return
	}
	defer img.Close()

	selected := h.Session.Selected(id)
	for _, dr := range render {
		corners := geometry.Corners(dr)
		pts := make([]image.Point, len(corners))
		for i, c := range corners {
			pts[i] = image.Pt(int(math.Round(c[0])), int(math.Round(c[1])))
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		col := regionColor(dr, selected)
		gocv.Polylines(&img, pv, true, col, 2)
		pv.Close()

		label := strconv.Itoa(dr.N)
		if dr.Warning != "" {
			label += " " + dr.Warning
		}
		gocv.PutText(&img, label, image.Pt(pts[0].X+3, pts[0].Y+14), gocv.FontHersheySimplex, 0.45, col, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		log.Printf("handlers.preview: error encoding preview for %s: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, "encode_failed", "Failed to encode preview")
		return
	}
	defer buf.Close()
	out := buf.GetBytes()

	if r.URL.Query().Get("save") == "1" && h.Store != nil {
		relPath, err := h.Store.Save(media.AssetTypePreview, "", media.ThumbnailFileExtension, bytes.NewReader(out))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"url": h.PreviewURLPrefix + path.Base(relPath)})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(out)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	if _, err := w.Write(out); err != nil {
		log.Printf("handlers.preview: error writing preview for %s: %v", id, err)
	}
}
