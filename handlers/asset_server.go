package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/camden-git/scamqc/media"
)

// AssetServer serves files of one asset directory of the media store. The
// request path is routePrefix followed by the file name, e.g.
//
//	r.Get("/api/previews/*", AssetServer(store, "previews", "/api/previews/"))
func AssetServer(store media.Store, subDir, routePrefix string) http.HandlerFunc {
	log.Printf("handlers: serving assets for '%s*' from '%s'", routePrefix, subDir)

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, routePrefix)
		if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
			WriteAPIError(w, http.StatusBadRequest, "invalid_asset_path", "Invalid asset path")
			return
		}

		rc, info, err := store.Get(path.Join(subDir, name))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer rc.Close()

		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		if seeker, ok := rc.(io.ReadSeeker); ok {
			http.ServeContent(w, r, name, info.ModTime(), seeker)
			return
		}
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Asset is not seekable")
	}
}
