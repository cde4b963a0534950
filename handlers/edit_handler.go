package handlers

import (
	"net/http"
	"strconv"

	"github.com/camden-git/scamqc/models"
	"github.com/camden-git/scamqc/services"
)

// EditHandler exposes the per-image edit operations. Images are addressed by
// their thumbnail path, passed as the "id" query parameter or body field.
type EditHandler struct {
	Session *services.Session
}

type recordResponse struct {
	Record   models.AnnotationRecord `json:"record"`
	Render   []models.DisplayRegion  `json:"render"`
	Selected int                     `json:"selected"`
	Warned   bool                    `json:"warned"`
}

func (h *EditHandler) writeRecord(w http.ResponseWriter, id string) {
	rec, ok := h.Session.Record(id)
	if !ok {
		writeServiceError(w, services.ErrNoRecord)
		return
	}
	render, err := h.Session.RenderOrder(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Record:   rec,
		Render:   render,
		Selected: h.Session.Selected(id),
		Warned:   services.IsWarned(rec, h.Session.Options()),
	})
}

func queryID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_id", "Missing 'id' query parameter")
		return "", false
	}
	return id, true
}

func requireID(w http.ResponseWriter, id string) bool {
	if id == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_id", "Missing 'id'")
		return false
	}
	return true
}

// GetRecord handles GET /api/records?id=...
func (h *EditHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	h.writeRecord(w, id)
}

type updateRegionRequest struct {
	ID     string               `json:"id"`
	Region models.DisplayRegion `json:"region"`
}

// UpdateRegion handles PUT /api/records/regions
func (h *EditHandler) UpdateRegion(w http.ResponseWriter, r *http.Request) {
	var req updateRegionRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.UpdateRegion(req.ID, req.Region); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

type addRegionRequest struct {
	ID      string         `json:"id"`
	Press   services.Point `json:"press"`
	Release services.Point `json:"release"`
}

// AddRegion handles POST /api/records/regions
func (h *EditHandler) AddRegion(w http.ResponseWriter, r *http.Request) {
	var req addRegionRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.AddRegion(req.ID, req.Press, req.Release); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

// DeleteRegion handles DELETE /api/records/regions?id=...&n=...
func (h *EditHandler) DeleteRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_index", "Invalid region index 'n'")
		return
	}
	if _, err := h.Session.DeleteRegion(id, n); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, id)
}

type tagRegionRequest struct {
	ID   string   `json:"id"`
	N    int      `json:"n"`
	Tags []string `json:"tags"`
}

// TagRegion handles PUT /api/records/tags
func (h *EditHandler) TagRegion(w http.ResponseWriter, r *http.Request) {
	var req tagRegionRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.TagRegion(req.ID, req.N, req.Tags); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

type flagRequest struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

// SetVisible handles PUT /api/records/visible
func (h *EditHandler) SetVisible(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.SetVisible(req.ID, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

// SetChecked handles PUT /api/records/checked
func (h *EditHandler) SetChecked(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.SetChecked(req.ID, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

type idRequest struct {
	ID string `json:"id"`
}

// CheckPrevious handles POST /api/records/check_previous
func (h *EditHandler) CheckPrevious(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	ids, err := h.Session.CheckPrevious(req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checked": ids})
}

type rotateRequest struct {
	ID    string `json:"id"`
	Angle int    `json:"angle"`
}

// RotateImage handles POST /api/records/rotate
func (h *EditHandler) RotateImage(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if _, err := h.Session.RotateImage(req.ID, req.Angle); err != nil {
		writeServiceError(w, err)
		return
	}
	// the detector has not seen the new orientation yet
	h.Session.Reconcile()
	h.writeRecord(w, req.ID)
}

type selectRequest struct {
	ID string `json:"id"`
	N  int    `json:"n"`
}

// Select handles PUT /api/records/selection; n = -1 clears the selection
func (h *EditHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	if err := h.Session.Select(req.ID, req.N); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeRecord(w, req.ID)
}

// CancelImage handles POST /api/records/cancel, dropping the in-flight
// detector request of one image
func (h *EditHandler) CancelImage(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeJSON(w, r, &req) || !requireID(w, req.ID) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.Session.CancelImage(req.ID)})
}
