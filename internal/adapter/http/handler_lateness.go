package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/lateness"
	"github.com/arisanid/arisan/pkg/apperror"
)

// LatenessHandler exposes the lifecycle engine's public operations.
type LatenessHandler struct {
	engine *lateness.Engine
}

// NewLatenessHandler creates a new lateness handler
func NewLatenessHandler(engine *lateness.Engine) *LatenessHandler {
	return &LatenessHandler{engine: engine}
}

// RegisterRoutes registers the lateness routes
func (h *LatenessHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/contributions/{contributionID}/late", h.InitiateLateHandling).Methods("POST")
	api.HandleFunc("/late-contributions/sweep", h.Sweep).Methods("POST")
	api.HandleFunc("/late-contributions/{contributionID}/resolve", h.Resolve).Methods("POST")
	api.HandleFunc("/late-contributions/{contributionID}", h.Get).Methods("GET")
}

// Get returns the late-contribution record tracked for a contribution
func (h *LatenessHandler) Get(w http.ResponseWriter, r *http.Request) {
	contributionID := mux.Vars(r)["contributionID"]

	rec, err := h.engine.FindByContribution(r.Context(), contributionID)
	if err != nil {
		writeError(w, apperror.MapError(err))
		return
	}
	if rec == nil {
		writeError(w, apperror.NewNotFound("late contribution not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// InitiateLateHandling starts tracking a missed deadline
func (h *LatenessHandler) InitiateLateHandling(w http.ResponseWriter, r *http.Request) {
	contributionID := mux.Vars(r)["contributionID"]
	if contributionID == "" {
		writeError(w, apperror.NewBadRequest("contribution ID is required"))
		return
	}

	rec, err := h.engine.InitiateLateHandling(r.Context(), contributionID)
	if err != nil {
		writeError(w, apperror.MapError(err))
		return
	}
	if rec == nil {
		writeError(w, apperror.NewNotFound("contribution not found or fully paid"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Sweep runs one pass over every open late contribution
func (h *LatenessHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ProcessAllLateContributions(r.Context())
	if err != nil {
		if errors.Is(err, lateness.ErrSweepInProgress) {
			writeError(w, apperror.NewConflict(err.Error()))
			return
		}
		writeError(w, apperror.MapError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	ResolutionType string `json:"resolution_type"`
	Notes          string `json:"notes"`
}

// Resolve moves a tracked late contribution to a terminal status
func (h *LatenessHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	contributionID := mux.Vars(r)["contributionID"]

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.NewBadRequest("invalid request body"))
		return
	}
	if req.ResolutionType == "" {
		writeError(w, apperror.NewBadRequest("resolution_type is required"))
		return
	}

	rec, err := h.engine.FindByContribution(r.Context(), contributionID)
	if err != nil {
		writeError(w, apperror.MapError(err))
		return
	}
	if rec == nil {
		writeError(w, apperror.NewNotFound("late contribution not found"))
		return
	}
	if rec.IsResolved() {
		writeError(w, apperror.NewConflict("late contribution already resolved"))
		return
	}

	if err := h.engine.ResolveLateContribution(r.Context(), rec, domain.ResolutionType(req.ResolutionType), req.Notes); err != nil {
		writeError(w, apperror.MapError(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, appErr *apperror.AppError) {
	writeJSON(w, appErr.Status, map[string]interface{}{"error": appErr})
}
