package httpapi

import (
	"net/http"
	"strconv"
	"time"

	logx "penwatch/pkg/logx"
)

func (h *Handler) ListLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.st.ListLog(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type logResp struct {
		ID             string `json:"id"`
		UserID         string `json:"user_id"`
		UserEmail      string `json:"user_email,omitempty"`
		PensionID      string `json:"pension_id"`
		PensionName    string `json:"pension_name"`
		ExpirationDate string `json:"expiration_date"`
		SentAt         string `json:"sent_at"`
		SuccessCount   int    `json:"success_count"`
		FailureCount   int    `json:"failure_count"`
		Message        string `json:"message"`
	}
	result := make([]logResp, 0, len(entries))
	for _, e := range entries {
		result = append(result, logResp{
			ID:             e.ID,
			UserID:         e.UserID,
			UserEmail:      e.UserEmail,
			PensionID:      e.PensionID,
			PensionName:    e.PensionName,
			ExpirationDate: e.ExpirationDate,
			SentAt:         e.SentAt.UTC().Format(time.RFC3339),
			SuccessCount:   e.SuccessCount,
			FailureCount:   e.FailureCount,
			Message:        e.Message,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// TriggerRun kicks off one batch pass immediately, outside the daily
// schedule. The pass runs synchronously so the caller sees its outcome.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.runner.Enabled() {
		http.Error(w, "expiry runner disabled", http.StatusConflict)
		return
	}
	h.log.Info("manual run requested", logx.String("remote", r.RemoteAddr))
	if err := h.runner.RunJob(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	history := h.runner.History()
	type runResp struct {
		Started     string `json:"started"`
		DurationMS  int64  `json:"duration_ms"`
		ActiveUsers int    `json:"active_users"`
		Notified    int    `json:"notified"`
		Sent        int    `json:"sent"`
		Error       string `json:"error,omitempty"`
	}
	result := make([]runResp, 0, len(history))
	for _, rep := range history {
		result = append(result, runResp{
			Started:     rep.Started.UTC().Format(time.RFC3339),
			DurationMS:  rep.Duration.Milliseconds(),
			ActiveUsers: rep.ActiveUsers,
			Notified:    rep.Notified,
			Sent:        rep.Sent,
			Error:       rep.Error,
		})
	}
	writeJSON(w, http.StatusOK, result)
}
