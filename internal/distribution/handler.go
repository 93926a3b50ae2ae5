// internal/distribution/handler.go
package distribution

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the distribution session endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.handleStartSession)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Post("/sessions/{id}/recipient", h.handleSetRecipient)
	r.Put("/sessions/{id}/units", h.handleSelectUnits)
	r.Post("/sessions/{id}/review", h.handleAdvanceToReview)
	r.Post("/sessions/{id}/back", h.handleBack)
	r.Post("/sessions/{id}/authorize", h.handleAuthorize)
	r.Post("/sessions/{id}/cancel", h.handleCancelAuthorization)
	r.Delete("/sessions/{id}", h.handleAbort)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAuthorizationBusy),
		errors.Is(err, ErrAuthorizationInProgress),
		errors.Is(err, ErrConcurrentLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrEmptySelection),
		errors.Is(err, ErrRecipientInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeView(w http.ResponseWriter, view View, err error) {
	if err != nil {
		status := statusFor(err)
		// Limit conflicts carry a view the operator needs to see.
		if errors.Is(err, ErrConcurrentLimitExceeded) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(view)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.StartSession(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetSession(r.Context(), id)
	h.writeView(w, view, err)
}

func (h *Handler) handleSetRecipient(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		MemberID uuid.UUID `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.SetRecipient(r.Context(), id, req.MemberID)
	h.writeView(w, view, err)
}

func (h *Handler) handleSelectUnits(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		UnitIDs []uuid.UUID `json:"unit_ids"`
		Notes   string      `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.SelectUnits(r.Context(), id, req.UnitIDs, req.Notes)
	h.writeView(w, view, err)
}

func (h *Handler) handleAdvanceToReview(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.AdvanceToReview(r.Context(), id)
	h.writeView(w, view, err)
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.Back(r.Context(), id)
	h.writeView(w, view, err)
}

// handleAuthorize blocks for the duration of the RFID handshake. A client
// that disconnects while waiting cancels it through the request context.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.Authorize(r.Context(), id)
	h.writeView(w, view, err)
}

func (h *Handler) handleCancelAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	if err := h.service.CancelAuthorization(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	if err := h.service.Abort(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
