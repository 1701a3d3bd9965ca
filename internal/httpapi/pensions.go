package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

type pensionRequest struct {
	PersonName     string  `json:"person_name" validate:"required"`
	CompanyName    string  `json:"company_name" validate:"required"`
	Status         string  `json:"status" validate:"omitempty,oneof=active inactive"`
	ExpirationDate string  `json:"expiration_date" validate:"required,datetime=2006-01-02"`
	MonthlyAmount  float64 `json:"monthly_amount" validate:"gte=0"`
	Lugar          string  `json:"lugar"`
	Local          string  `json:"local"`
	Notes          string  `json:"notes"`
}

type pensionResponse struct {
	ID             string  `json:"id"`
	PersonName     string  `json:"person_name"`
	CompanyName    string  `json:"company_name"`
	Status         string  `json:"status"`
	ExpirationDate string  `json:"expiration_date"`
	MonthlyAmount  float64 `json:"monthly_amount,omitempty"`
	Lugar          string  `json:"lugar,omitempty"`
	Local          string  `json:"local,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
	LastRenewal    string  `json:"last_renewal,omitempty"`
}

func toPensionResponse(p store.Pension) pensionResponse {
	resp := pensionResponse{
		ID:             p.ID,
		PersonName:     p.PersonName,
		CompanyName:    p.CompanyName,
		Status:         p.Status,
		ExpirationDate: p.ExpirationDate,
		MonthlyAmount:  p.MonthlyAmount,
		Lugar:          p.Lugar,
		Local:          p.Local,
		Notes:          p.Notes,
	}
	if !p.CreatedAt.IsZero() {
		resp.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if p.LastRenewal != nil {
		resp.LastRenewal = p.LastRenewal.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) CreatePension(w http.ResponseWriter, r *http.Request) {
	var req pensionRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	now := h.now()
	p := store.Pension{
		ID:             uuid.NewString(),
		PersonName:     req.PersonName,
		CompanyName:    req.CompanyName,
		Status:         req.Status,
		ExpirationDate: req.ExpirationDate,
		MonthlyAmount:  req.MonthlyAmount,
		Lugar:          req.Lugar,
		Local:          req.Local,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Status == "" {
		p.Status = store.StatusActive
	}
	if p.Lugar == "" {
		p.Lugar = "stw"
	}
	if err := h.st.CreatePension(r.Context(), p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Info("pension created", logx.String("id", p.ID), logx.String("expires", p.ExpirationDate))
	writeJSON(w, http.StatusCreated, toPensionResponse(p))
}

func (h *Handler) ListPensions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != store.StatusActive && status != store.StatusInactive {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	pensions, err := h.st.ListPensions(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result := make([]pensionResponse, 0, len(pensions))
	for _, p := range pensions {
		result = append(result, toPensionResponse(p))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetPension(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.st.GetPension(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toPensionResponse(p))
}

func (h *Handler) UpdatePension(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, ok, err := h.st.GetPension(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var req pensionRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	existing.PersonName = req.PersonName
	existing.CompanyName = req.CompanyName
	existing.ExpirationDate = req.ExpirationDate
	existing.MonthlyAmount = req.MonthlyAmount
	existing.Lugar = req.Lugar
	existing.Local = req.Local
	existing.Notes = req.Notes
	if req.Status != "" {
		existing.Status = req.Status
	}
	existing.UpdatedAt = h.now()
	if err := h.st.UpdatePension(r.Context(), existing); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toPensionResponse(existing))
}

func (h *Handler) RenewPension(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		NewExpirationDate string `json:"new_expiration_date" validate:"required,datetime=2006-01-02"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}
	if err := h.st.RenewPension(r.Context(), id, req.NewExpirationDate, h.now()); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Info("pension renewed", logx.String("id", id), logx.String("new_expiration", req.NewExpirationDate))
	p, ok, err := h.st.GetPension(r.Context(), id)
	if err != nil || !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, toPensionResponse(p))
}
