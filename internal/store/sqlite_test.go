package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "penwatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "penwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPolicyRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetPolicy(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if ok {
		t.Fatal("expected no policy for unknown user")
	}

	p := Policy{
		UserID:        "u1",
		Enabled:       true,
		DaysBefore:    5,
		ActiveStart:   "07:00",
		ActiveEnd:     "21:00",
		AllowWeekends: true,
		SendTime:      "09:00",
		Timezone:      "America/Mexico_City",
		UpdatedAt:     time.Now(),
	}
	if err := st.PutPolicy(ctx, p); err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}

	got, ok, err := st.GetPolicy(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("GetPolicy after put: ok=%v err=%v", ok, err)
	}
	if got.DaysBefore != 5 || got.ActiveStart != "07:00" || !got.AllowWeekends || got.Timezone != "America/Mexico_City" {
		t.Fatalf("got %+v", got)
	}

	// Upsert overwrites.
	p.Enabled = false
	p.DaysBefore = 1
	if err := st.PutPolicy(ctx, p); err != nil {
		t.Fatalf("PutPolicy upsert: %v", err)
	}
	got, _, _ = st.GetPolicy(ctx, "u1")
	if got.Enabled || got.DaysBefore != 1 {
		t.Fatalf("upsert did not overwrite: %+v", got)
	}
}

func TestActivityWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := func(id string, at time.Time) {
		if err := st.UpsertActivity(ctx, Activity{UserID: id, Email: id + "@x.com", LastActiveAt: at}); err != nil {
			t.Fatalf("UpsertActivity(%s): %v", id, err)
		}
	}
	seed("fresh", now.Add(-time.Hour))
	seed("edge", now.Add(-47*time.Hour))
	seed("stale", now.Add(-72*time.Hour))

	users, err := st.QueryActiveSince(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("QueryActiveSince: %v", err)
	}
	ids := map[string]bool{}
	for _, u := range users {
		ids[u.ID] = true
	}
	if !ids["fresh"] || !ids["edge"] || ids["stale"] {
		t.Fatalf("unexpected selection: %v", ids)
	}

	// Heartbeat refresh pulls a stale user back in.
	seed("stale", now)
	users, _ = st.QueryActiveSince(ctx, now.Add(-48*time.Hour))
	if len(users) != 3 {
		t.Fatalf("after refresh got %d users, want 3", len(users))
	}
}

func TestPensionLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p := Pension{
		PersonName:     "Juan",
		CompanyName:    "Acme",
		Status:         StatusActive,
		ExpirationDate: "2024-06-04",
		MonthlyAmount:  1200.50,
		Lugar:          "stw",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := st.CreatePension(ctx, p); err != nil {
		t.Fatalf("CreatePension: %v", err)
	}

	list, err := st.ListPensions(ctx, "", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPensions: %v (%d)", err, len(list))
	}
	created := list[0]
	if created.ID == "" {
		t.Fatal("CreatePension must assign an id")
	}
	if created.MonthlyAmount != 1200.50 || created.Lugar != "stw" {
		t.Fatalf("got %+v", created)
	}

	// Exact-day matching.
	match, err := st.QueryByStatusAndExpiration(ctx, StatusActive, "2024-06-04")
	if err != nil || len(match) != 1 {
		t.Fatalf("QueryByStatusAndExpiration: %v (%d)", err, len(match))
	}
	if m, _ := st.QueryByStatusAndExpiration(ctx, StatusActive, "2024-06-05"); len(m) != 0 {
		t.Fatal("must not match a different date")
	}
	if m, _ := st.QueryByStatusAndExpiration(ctx, StatusInactive, "2024-06-04"); len(m) != 0 {
		t.Fatal("must not match a different status")
	}

	// Update flips status out of the match set.
	created.Status = StatusInactive
	if err := st.UpdatePension(ctx, created); err != nil {
		t.Fatalf("UpdatePension: %v", err)
	}
	if m, _ := st.QueryByStatusAndExpiration(ctx, StatusActive, "2024-06-04"); len(m) != 0 {
		t.Fatal("inactive pension still matched")
	}

	// Renewal re-activates with the new date and stamps last_renewal.
	at := time.Now()
	if err := st.RenewPension(ctx, created.ID, "2025-06-04", at); err != nil {
		t.Fatalf("RenewPension: %v", err)
	}
	got, ok, err := st.GetPension(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("GetPension: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusActive || got.ExpirationDate != "2025-06-04" {
		t.Fatalf("after renew: %+v", got)
	}
	if got.LastRenewal == nil {
		t.Fatal("LastRenewal not set")
	}

	if err := st.RenewPension(ctx, "nope", "2025-06-04", at); err == nil {
		t.Fatal("renewing a missing pension must fail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.GetToken(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("GetToken empty: ok=%v err=%v", ok, err)
	}

	tok := DeviceToken{UserID: "u1", Token: "tok-1", Email: "u1@x.com", Platform: "web", UpdatedAt: time.Now()}
	if err := st.PutToken(ctx, tok); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	tok.Token = "tok-2"
	if err := st.PutToken(ctx, tok); err != nil {
		t.Fatalf("PutToken overwrite: %v", err)
	}
	got, ok, _ := st.GetToken(ctx, "u1")
	if !ok || got.Token != "tok-2" {
		t.Fatalf("got %+v", got)
	}

	if err := st.DeleteToken(ctx, "u1"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, ok, _ := st.GetToken(ctx, "u1"); ok {
		t.Fatal("token survived delete")
	}
}

func TestNotificationLogAppend(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := st.AppendLog(ctx, LogEntry{
			UserID:         "u1",
			PensionID:      "p1",
			PensionName:    "Juan - Acme",
			ExpirationDate: "2024-06-04",
			SentAt:         time.Now().Add(time.Duration(i) * time.Second),
			SuccessCount:   1,
			Message:        "Pensión próxima a vencer",
		})
		if err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	entries, err := st.ListLog(ctx, 2)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (limit)", len(entries))
	}
	if entries[0].ID == "" || entries[0].PensionName != "Juan - Acme" {
		t.Fatalf("got %+v", entries[0])
	}
	// Newest first.
	if entries[0].SentAt.Before(entries[1].SentAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestMarkers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetMarker(ctx, "k"); err != nil || ok {
		t.Fatalf("GetMarker empty: ok=%v err=%v", ok, err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutMarker(ctx, "k", until); err != nil {
		t.Fatalf("PutMarker: %v", err)
	}
	got, ok, err := st.GetMarker(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetMarker: ok=%v err=%v", ok, err)
	}
	if got.Unix() != until.Unix() {
		t.Fatalf("until = %v, want %v", got, until)
	}
}
