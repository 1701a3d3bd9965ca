package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"penwatch/internal/expiry"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

type fakeRunner struct {
	enabled bool
	runErr  error
	runs    int
	history []expiry.RunReport
}

func (f *fakeRunner) RunJob(context.Context) error {
	f.runs++
	return f.runErr
}

func (f *fakeRunner) History() []expiry.RunReport { return f.history }

func (f *fakeRunner) Enabled() bool { return f.enabled }

func newTestAPI(t *testing.T) (*http.ServeMux, store.Store, *fakeRunner) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := &fakeRunner{enabled: true}
	mux := http.NewServeMux()
	NewHandler(st, runner, logx.Nop()).RegisterRoutes(mux)
	return mux, st, runner
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestPensionCreateAndGet(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rr := doJSON(t, mux, "POST", "/api/pensions", `{
		"person_name": "Juan Pérez",
		"company_name": "Acme SA",
		"expiration_date": "2024-06-04",
		"monthly_amount": 1500
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var created pensionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != "active" || created.Lugar != "stw" {
		t.Fatalf("created = %+v", created)
	}

	rr = doJSON(t, mux, "GET", "/api/pensions/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	var got pensionResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.PersonName != "Juan Pérez" || got.ExpirationDate != "2024-06-04" {
		t.Fatalf("got = %+v", got)
	}
}

func TestPensionCreateValidation(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing person", body: `{"company_name": "Acme", "expiration_date": "2024-06-04"}`},
		{name: "bad date", body: `{"person_name": "Juan", "company_name": "Acme", "expiration_date": "04/06/2024"}`},
		{name: "bad status", body: `{"person_name": "Juan", "company_name": "Acme", "expiration_date": "2024-06-04", "status": "paused"}`},
		{name: "negative amount", body: `{"person_name": "Juan", "company_name": "Acme", "expiration_date": "2024-06-04", "monthly_amount": -1}`},
		{name: "not json", body: `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, mux, "POST", "/api/pensions", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", rr.Code)
			}
		})
	}
}

func TestPensionRenew(t *testing.T) {
	mux, st, _ := newTestAPI(t)
	ctx := context.Background()

	p := store.Pension{ID: "p1", PersonName: "Juan", CompanyName: "Acme",
		Status: store.StatusInactive, ExpirationDate: "2024-06-04"}
	if err := st.CreatePension(ctx, p); err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, mux, "POST", "/api/pensions/p1/renew", `{"new_expiration_date": "2025-06-04"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("renew: %d %s", rr.Code, rr.Body.String())
	}
	var got pensionResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Status != "active" || got.ExpirationDate != "2025-06-04" || got.LastRenewal == "" {
		t.Fatalf("got = %+v", got)
	}

	rr = doJSON(t, mux, "POST", "/api/pensions/nope/renew", `{"new_expiration_date": "2025-06-04"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("renew missing: %d", rr.Code)
	}
}

func TestPensionListFilter(t *testing.T) {
	mux, st, _ := newTestAPI(t)
	ctx := context.Background()

	st.CreatePension(ctx, store.Pension{ID: "a", PersonName: "A", CompanyName: "X",
		Status: store.StatusActive, ExpirationDate: "2024-06-04"})
	st.CreatePension(ctx, store.Pension{ID: "b", PersonName: "B", CompanyName: "Y",
		Status: store.StatusInactive, ExpirationDate: "2024-06-05"})

	rr := doJSON(t, mux, "GET", "/api/pensions?status=active", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	var list []pensionResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("list = %+v", list)
	}

	if rr := doJSON(t, mux, "GET", "/api/pensions?status=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: %d", rr.Code)
	}
}

func TestPolicyPutGet(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	// Absent record: the API serves the client-facing defaults.
	rrDef := doJSON(t, mux, "GET", "/api/users/u1/policy", "")
	if rrDef.Code != http.StatusOK {
		t.Fatalf("get absent policy: %d", rrDef.Code)
	}
	var defaults policyResponse
	json.Unmarshal(rrDef.Body.Bytes(), &defaults)
	if !defaults.Enabled || defaults.DaysBefore != 3 ||
		defaults.ActiveStart != "08:00" || defaults.ActiveEnd != "22:00" || !defaults.AllowWeekends {
		t.Fatalf("defaults = %+v", defaults)
	}

	rr := doJSON(t, mux, "PUT", "/api/users/u1/policy", `{
		"enabled": true,
		"days_before": 5,
		"active_start": "07:00",
		"active_end": "21:00",
		"allow_weekends": true
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put policy: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, mux, "GET", "/api/users/u1/policy", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get policy: %d", rr.Code)
	}
	var got policyResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if !got.Enabled || got.DaysBefore != 5 || !got.AllowWeekends {
		t.Fatalf("got = %+v", got)
	}

	if rr := doJSON(t, mux, "PUT", "/api/users/u1/policy", `{"active_start": "25:00"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad active_start: %d", rr.Code)
	}
}

func TestTokenLifecycle(t *testing.T) {
	mux, st, _ := newTestAPI(t)

	rr := doJSON(t, mux, "PUT", "/api/users/u1/token", `{"token": "tok-1", "platform": "web"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("put token: %d %s", rr.Code, rr.Body.String())
	}
	tok, ok, err := st.GetToken(context.Background(), "u1")
	if err != nil || !ok || tok.Token != "tok-1" {
		t.Fatalf("token not stored: %+v ok=%v err=%v", tok, ok, err)
	}

	if rr := doJSON(t, mux, "PUT", "/api/users/u1/token", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty token: %d", rr.Code)
	}

	if rr := doJSON(t, mux, "DELETE", "/api/users/u1/token", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete token: %d", rr.Code)
	}
	if _, ok, _ := st.GetToken(context.Background(), "u1"); ok {
		t.Fatal("token survived delete")
	}
}

func TestHeartbeat(t *testing.T) {
	mux, st, _ := newTestAPI(t)

	rr := doJSON(t, mux, "POST", "/api/users/u1/activity", `{"email": "u1@example.com"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: %d %s", rr.Code, rr.Body.String())
	}
	users, err := st.QueryActiveSince(context.Background(), time.Now().Add(-time.Minute))
	if err != nil || len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("users = %+v err=%v", users, err)
	}
}

func TestTriggerRun(t *testing.T) {
	mux, _, runner := newTestAPI(t)

	rr := doJSON(t, mux, "POST", "/api/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rr.Code, rr.Body.String())
	}
	if runner.runs != 1 {
		t.Fatalf("runs = %d, want 1", runner.runs)
	}

	runner.runErr = errors.New("boom")
	if rr := doJSON(t, mux, "POST", "/api/run", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("failed run: %d", rr.Code)
	}

	runner.enabled = false
	if rr := doJSON(t, mux, "POST", "/api/run", ""); rr.Code != http.StatusConflict {
		t.Fatalf("disabled run: %d", rr.Code)
	}
}

func TestListRuns(t *testing.T) {
	mux, _, runner := newTestAPI(t)
	runner.history = []expiry.RunReport{
		{Started: time.Now(), Duration: 1200 * time.Millisecond, ActiveUsers: 2, Notified: 1, Sent: 1},
	}

	rr := doJSON(t, mux, "GET", "/api/runs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("runs: %d", rr.Code)
	}
	var got []struct {
		DurationMS  int64 `json:"duration_ms"`
		ActiveUsers int   `json:"active_users"`
	}
	json.Unmarshal(rr.Body.Bytes(), &got)
	if len(got) != 1 || got[0].DurationMS != 1200 || got[0].ActiveUsers != 2 {
		t.Fatalf("got = %+v", got)
	}
}

func TestHealth(t *testing.T) {
	mux, _, _ := newTestAPI(t)
	rr := doJSON(t, mux, "GET", "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}
