package httpapi

import (
	"net/http"
	"time"

	"penwatch/internal/expiry"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

type policyRequest struct {
	Enabled       bool   `json:"enabled"`
	DaysBefore    int    `json:"days_before" validate:"gte=0,lte=365"`
	ActiveStart   string `json:"active_start" validate:"omitempty,datetime=15:04"`
	ActiveEnd     string `json:"active_end" validate:"omitempty,datetime=15:04"`
	AllowWeekends bool   `json:"allow_weekends"`
	SendTime      string `json:"send_time" validate:"omitempty,datetime=15:04"`
	Timezone      string `json:"timezone"`
}

type policyResponse struct {
	UserID        string `json:"user_id"`
	Enabled       bool   `json:"enabled"`
	DaysBefore    int    `json:"days_before"`
	ActiveStart   string `json:"active_start"`
	ActiveEnd     string `json:"active_end"`
	AllowWeekends bool   `json:"allow_weekends"`
	SendTime      string `json:"send_time"`
	Timezone      string `json:"timezone,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func toPolicyResponse(p store.Policy) policyResponse {
	resp := policyResponse{
		UserID:        p.UserID,
		Enabled:       p.Enabled,
		DaysBefore:    p.DaysBefore,
		ActiveStart:   p.ActiveStart,
		ActiveEnd:     p.ActiveEnd,
		AllowWeekends: p.AllowWeekends,
		SendTime:      p.SendTime,
		Timezone:      p.Timezone,
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// GetPolicy serves the stored policy, or the client-facing defaults when the
// user has no record yet. Defaulting is resolved here so clients never see a
// partial policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	p, ok, err := h.st.GetPolicy(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		p = store.Policy{
			UserID:        userID,
			Enabled:       true,
			DaysBefore:    expiry.DefaultDaysBefore,
			ActiveStart:   expiry.DefaultActiveStart,
			ActiveEnd:     expiry.DefaultActiveEnd,
			AllowWeekends: true,
			SendTime:      expiry.DefaultSendTime,
		}
	} else {
		if p.DaysBefore <= 0 {
			p.DaysBefore = expiry.DefaultDaysBefore
		}
		if p.ActiveStart == "" {
			p.ActiveStart = expiry.DefaultActiveStart
		}
		if p.ActiveEnd == "" {
			p.ActiveEnd = expiry.DefaultActiveEnd
		}
		if p.SendTime == "" {
			p.SendTime = expiry.DefaultSendTime
		}
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(p))
}

func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req policyRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	p := store.Policy{
		UserID:        userID,
		Enabled:       req.Enabled,
		DaysBefore:    req.DaysBefore,
		ActiveStart:   req.ActiveStart,
		ActiveEnd:     req.ActiveEnd,
		AllowWeekends: req.AllowWeekends,
		SendTime:      req.SendTime,
		Timezone:      req.Timezone,
		UpdatedAt:     h.now(),
	}
	if err := h.st.PutPolicy(r.Context(), p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Info("policy updated", logx.String("user", userID), logx.Bool("enabled", p.Enabled))
	writeJSON(w, http.StatusOK, toPolicyResponse(p))
}

func (h *Handler) PutToken(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req struct {
		Token     string `json:"token" validate:"required"`
		Email     string `json:"email" validate:"omitempty,email"`
		UserAgent string `json:"user_agent"`
		Platform  string `json:"platform"`
		Language  string `json:"language"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}
	t := store.DeviceToken{
		UserID:    userID,
		Token:     req.Token,
		Email:     req.Email,
		UserAgent: req.UserAgent,
		Platform:  req.Platform,
		Language:  req.Language,
		UpdatedAt: h.now(),
	}
	if err := h.st.PutToken(r.Context(), t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Debug("token registered", logx.String("user", userID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if err := h.st.DeleteToken(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.log.Debug("token removed", logx.String("user", userID))
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat records client activity. The daily batch only considers users
// seen within the activity window, so clients call this on app start.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req struct {
		Email     string `json:"email" validate:"omitempty,email"`
		UserAgent string `json:"user_agent"`
	}
	if !h.readJSON(w, r, &req) {
		return
	}
	a := store.Activity{
		UserID:       userID,
		Email:        req.Email,
		LastActiveAt: h.now(),
		UserAgent:    req.UserAgent,
	}
	if err := h.st.UpsertActivity(r.Context(), a); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
