package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"penwatch/internal/expiry"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

const defaultListLimit = 100

// Runner is the slice of the expiry service the API needs: manual run
// trigger and run history.
type Runner interface {
	RunJob(ctx context.Context) error
	History() []expiry.RunReport
	Enabled() bool
}

type Handler struct {
	st       store.Store
	runner   Runner
	log      logx.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(st store.Store, runner Runner, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		st:       st,
		runner:   runner,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("POST /api/pensions", h.CreatePension)
	mux.HandleFunc("GET /api/pensions", h.ListPensions)
	mux.HandleFunc("GET /api/pensions/{id}", h.GetPension)
	mux.HandleFunc("PUT /api/pensions/{id}", h.UpdatePension)
	mux.HandleFunc("POST /api/pensions/{id}/renew", h.RenewPension)

	mux.HandleFunc("GET /api/users/{id}/policy", h.GetPolicy)
	mux.HandleFunc("PUT /api/users/{id}/policy", h.PutPolicy)

	mux.HandleFunc("PUT /api/users/{id}/token", h.PutToken)
	mux.HandleFunc("DELETE /api/users/{id}/token", h.DeleteToken)

	mux.HandleFunc("POST /api/users/{id}/activity", h.Heartbeat)

	mux.HandleFunc("GET /api/logs", h.ListLog)

	mux.HandleFunc("POST /api/run", h.TriggerRun)
	mux.HandleFunc("GET /api/runs", h.ListRuns)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"expiry":  h.runner.Enabled(),
		"checked": h.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
