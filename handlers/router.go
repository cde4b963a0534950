package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes groups the handlers mounted by NewRouter. Nil handlers leave their
// routes out.
type Routes struct {
	Session   *SessionHandler
	Edit      *EditHandler
	Thumbnail *ThumbnailHandler
	Preview   *RegionPreviewHandler
	Previews  http.HandlerFunc
	WebSocket http.HandlerFunc
	// middleware run before every route, e.g. CORS
	Middlewares []func(http.Handler) http.Handler
}

func NewRouter(rt Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	for _, mw := range rt.Middlewares {
		r.Use(mw)
	}

	r.Route("/api", func(r chi.Router) {
		// long-lived websocket connections must not be cut by the timeout
		if rt.WebSocket != nil {
			r.Get("/ws", rt.WebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			if h := rt.Session; h != nil {
				r.Route("/session", func(r chi.Router) {
					r.Get("/", h.GetSummary)
					r.Post("/open", h.OpenFolder)
					r.Get("/images", h.ListImages)
					r.Post("/draft/decide", h.DecideDraft)
					r.Post("/draft", h.SaveDraft)
					r.Delete("/draft", h.DiscardDraft)
					r.Post("/run", h.Run)
					r.Post("/abort", h.Abort)
					r.Get("/progress", h.GetProgress)
					r.Post("/publish", h.Publish)
					r.Get("/options", h.GetOptions)
					r.Put("/options", h.SetOptions)
				})
				r.Get("/drafts", h.ListDrafts)
				r.Delete("/drafts", h.DeleteDraft)
				r.Get("/presets", h.ListPresets)
			}

			if h := rt.Edit; h != nil {
				r.Route("/records", func(r chi.Router) {
					r.Get("/", h.GetRecord)
					r.Put("/regions", h.UpdateRegion)
					r.Post("/regions", h.AddRegion)
					r.Delete("/regions", h.DeleteRegion)
					r.Put("/tags", h.TagRegion)
					r.Put("/visible", h.SetVisible)
					r.Put("/checked", h.SetChecked)
					r.Post("/check_previous", h.CheckPrevious)
					r.Post("/rotate", h.RotateImage)
					r.Put("/selection", h.Select)
					r.Post("/cancel", h.CancelImage)
				})
			}

			if rt.Thumbnail != nil {
				r.Get("/thumbnail", rt.Thumbnail.ServeThumbnail)
			}
			if rt.Previews != nil {
				r.Get("/previews/*", rt.Previews)
			}
		})
	})

	if rt.Preview != nil {
		r.Route("/debug", func(r chi.Router) {
			// GET /debug/regions?id=thumbs/image.jpg
			r.Get("/regions", rt.Preview.ServeRegionPreview)
		})
	}
	return r
}
