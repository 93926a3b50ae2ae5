// internal/inventory/handler.go
package inventory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the inventory endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/units", h.handlePackageUnit)
	r.Get("/units", h.handleListAvailable)
	r.Get("/units/{id}", h.handleGetUnit)
	r.Post("/units/consume", h.handleConsumeUnits)
	r.Post("/units/release", h.handleReleaseUnits)
}

func (h *Handler) handlePackageUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchRef    string  `json:"batch_ref"`
		WeightGrams string  `json:"weight_grams"`
		ProductType string  `json:"product_type"`
		THCPercent  *string `json:"thc_percent"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	weight, err := decimal.NewFromString(req.WeightGrams)
	if err != nil {
		http.Error(w, "invalid weight_grams", http.StatusBadRequest)
		return
	}
	var thcPercent *decimal.Decimal
	if req.THCPercent != nil {
		thc, err := decimal.NewFromString(*req.THCPercent)
		if err != nil {
			http.Error(w, "invalid thc_percent", http.StatusBadRequest)
			return
		}
		thcPercent = &thc
	}

	unit, err := h.service.PackageUnit(r.Context(), req.BatchRef, weight, req.ProductType, thcPercent)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(unit)
}

func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	var maxTHC *decimal.Decimal
	if raw := r.URL.Query().Get("max_thc"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			http.Error(w, "invalid max_thc", http.StatusBadRequest)
			return
		}
		maxTHC = &parsed
	}

	units, err := h.service.ListAvailable(r.Context(), maxTHC)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(units)
}

func (h *Handler) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid unit ID", http.StatusBadRequest)
		return
	}

	unit, err := h.service.GetUnit(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(unit)
}

type unitBatchRequest struct {
	UnitIDs        []uuid.UUID `json:"unit_ids"`
	DistributionID uuid.UUID   `json:"distribution_id"`
}

func (h *Handler) handleConsumeUnits(w http.ResponseWriter, r *http.Request) {
	var req unitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.ConsumeUnits(r.Context(), req.UnitIDs, req.DistributionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnitUnavailable) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleReleaseUnits(w http.ResponseWriter, r *http.Request) {
	var req unitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.ReleaseUnits(r.Context(), req.UnitIDs, req.DistributionID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
