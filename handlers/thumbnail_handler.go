package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/camden-git/scamqc/geometry"
	"github.com/camden-git/scamqc/services"
)

// ThumbnailRenderer returns a thumbnail turned clockwise by rotation
type ThumbnailRenderer interface {
	Rendered(ctx context.Context, folder, thumbnailPath string, rotation int) ([]byte, error)
}

type ThumbnailHandler struct {
	Cache   ThumbnailRenderer
	Session *services.Session
}

// thumbnailFor resolves the image and renders its thumbnail in the image's
// current orientation
func thumbnailFor(ctx context.Context, cache ThumbnailRenderer, session *services.Session, id string) ([]byte, error) {
	src, ok := session.Source(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, services.ErrNoRecord)
	}
	return cache.Rendered(ctx, session.Folder(), id, geometry.ThumbnailTurn(src))
}

// ServeThumbnail handles GET /api/thumbnail?id=...
func (h *ThumbnailHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	data, err := thumbnailFor(r.Context(), h.Cache, h.Session, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// the bytes change with the image's rotation, so only cache briefly
	cacheDuration := time.Minute
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(cacheDuration.Seconds())))
	if _, err := w.Write(data); err != nil {
		log.Printf("handlers: error writing thumbnail %s: %v", id, err)
	}
}
