package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/scamqc/detector"
	"github.com/camden-git/scamqc/repository"
	"github.com/camden-git/scamqc/services"
	"github.com/camden-git/scamqc/workers"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes v as the response body with the given HTTP status
func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: failed to encode response: %v", err)
	}
}

// decodeJSON reads the request body into v, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps engine errors onto the API error envelope
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNoFolder):
		WriteAPIError(w, http.StatusConflict, "no_folder", err.Error())
	case errors.Is(err, services.ErrNoRecord):
		WriteAPIError(w, http.StatusNotFound, "no_record", err.Error())
	case errors.Is(err, services.ErrRegionIndex):
		WriteAPIError(w, http.StatusNotFound, "region_not_found", err.Error())
	case errors.Is(err, services.ErrDraftDecisionNeeded):
		WriteAPIError(w, http.StatusConflict, "draft_decision_needed", err.Error())
	case errors.Is(err, services.ErrNoDraftDecision):
		WriteAPIError(w, http.StatusConflict, "no_draft_decision", err.Error())
	case errors.Is(err, services.ErrEmptyGesture), errors.Is(err, services.ErrRotation):
		WriteAPIError(w, http.StatusUnprocessableEntity, "invalid_edit", err.Error())
	case errors.Is(err, workers.ErrAlreadyRunning):
		WriteAPIError(w, http.StatusConflict, "already_running", err.Error())
	case errors.Is(err, repository.ErrQuotaExceeded):
		WriteAPIError(w, http.StatusInsufficientStorage, "quota_exceeded", services.DraftErrorMessage(err))
	default:
		var apiErr *detector.APIError
		if errors.As(err, &apiErr) {
			WriteAPIError(w, http.StatusBadGateway, "detector_error", err.Error())
			return
		}
		log.Printf("handlers: ERROR %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
