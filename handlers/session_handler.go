package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/camden-git/scamqc/config"
	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/services"
)

// FolderPrefetcher warms caches for a freshly opened folder
type FolderPrefetcher interface {
	QueueFolder(folder string, thumbnailPaths []string) int
}

type SessionHandler struct {
	Session    *services.Session
	Drafts     *services.DraftService
	Presets    config.Presets
	Prefetcher FolderPrefetcher
}

type openFolderRequest struct {
	Folder string `json:"folder"`
}

// OpenFolder handles POST /api/session/open
func (h *SessionHandler) OpenFolder(w http.ResponseWriter, r *http.Request) {
	var req openFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	folder := strings.TrimSpace(req.Folder)
	if folder == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_folder", "Missing 'folder'")
		return
	}
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}

	if err := h.Session.OpenFolder(r.Context(), folder); err != nil {
		writeServiceError(w, err)
		return
	}
	if h.Prefetcher != nil {
		images := h.Session.Images()
		paths := make([]string, len(images))
		for i, img := range images {
			paths[i] = img.ID
		}
		h.Prefetcher.QueueFolder(folder, paths)
	}
	writeJSON(w, http.StatusOK, h.Session.Summary())
}

// GetSummary handles GET /api/session
func (h *SessionHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Summary())
}

// ListImages handles GET /api/session/images
func (h *SessionHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	if h.Session.Folder() == "" {
		writeServiceError(w, services.ErrNoFolder)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Images())
}

type draftDecisionRequest struct {
	Load    bool `json:"load"`
	Discard bool `json:"discard"`
}

// DecideDraft handles POST /api/session/draft/decide
func (h *SessionHandler) DecideDraft(w http.ResponseWriter, r *http.Request) {
	var req draftDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Session.DecideDraft(req.Load, req.Discard); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Summary())
}

// SaveDraft handles POST /api/session/draft
func (h *SessionHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	n, err := h.Session.SaveDraft()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": n, "flags": h.Session.Flags()})
}

// DiscardDraft handles DELETE /api/session/draft
func (h *SessionHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.DiscardDraft(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDrafts handles GET /api/drafts
func (h *SessionHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.Drafts.List()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if drafts == nil {
		drafts = []services.DraftInfo{}
	}
	writeJSON(w, http.StatusOK, drafts)
}

// DeleteDraft handles DELETE /api/drafts?folder=...
func (h *SessionHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_folder", "Missing 'folder' query parameter")
		return
	}
	if folder == h.Session.Folder() {
		h.discardOpenDraft(w)
		return
	}
	if err := h.Drafts.Discard(folder); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// discardOpenDraft goes through the session so its flags stay in sync
func (h *SessionHandler) discardOpenDraft(w http.ResponseWriter) {
	if err := h.Session.DiscardDraft(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runRequest struct {
	Selection  []string                 `json:"selection"`
	WarnedOnly bool                     `json:"warned_only"`
	Preset     string                   `json:"preset"`
	Options    *models.DetectionOptions `json:"options"`
}

// resolveOptions picks explicit options over a named preset; nil keeps the
// session's current options
func (h *SessionHandler) resolveOptions(preset string, explicit *models.DetectionOptions) (*models.DetectionOptions, error) {
	if explicit != nil {
		return explicit, nil
	}
	if preset == "" {
		return nil, nil
	}
	o, err := h.Presets.Get(preset)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Run handles POST /api/session/run
func (h *SessionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	opts, err := h.resolveOptions(req.Preset, req.Options)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "unknown_preset", err.Error())
		return
	}
	submitted, err := h.Session.Run(services.RunRequest{
		Selection:  req.Selection,
		WarnedOnly: req.WarnedOnly,
		Options:    opts,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("handlers: run requested, %d image(s) submitted", submitted)
	writeJSON(w, http.StatusAccepted, map[string]any{"submitted": submitted, "generation": h.Session.Generation()})
}

// Abort handles POST /api/session/abort
func (h *SessionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.Session.Abort()
	writeJSON(w, http.StatusOK, h.Session.Progress())
}

// GetProgress handles GET /api/session/progress
func (h *SessionHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p := h.Session.Progress()
	writeJSON(w, http.StatusOK, map[string]any{"progress": p, "percent": p.Percent()})
}

// Publish handles POST /api/session/publish
func (h *SessionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	built, err := h.Session.Publish(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files":        len(built.Files),
		"options_list": len(built.OptionsList),
		"checked":      built.Checked,
		"flags":        h.Session.Flags(),
	})
}

// ListPresets handles GET /api/presets
func (h *SessionHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Presets)
}

type optionsRequest struct {
	Preset  string                   `json:"preset"`
	Options *models.DetectionOptions `json:"options"`
}

// GetOptions handles GET /api/session/options
func (h *SessionHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Options())
}

// SetOptions handles PUT /api/session/options
func (h *SessionHandler) SetOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	opts, err := h.resolveOptions(req.Preset, req.Options)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "unknown_preset", err.Error())
		return
	}
	if opts == nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_options", "Provide 'preset' or 'options'")
		return
	}
	h.Session.SetOptions(*opts)
	writeJSON(w, http.StatusOK, h.Session.Options())
}
