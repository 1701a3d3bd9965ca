package expiry

import (
	"context"
	"testing"
	"time"

	"penwatch/internal/store"
)

func TestTargetDate(t *testing.T) {
	t.Parallel()
	now, _ := time.Parse(DateFormat, "2024-06-01")
	if got := TargetDate(now, 3); got != "2024-06-04" {
		t.Fatalf("TargetDate = %s, want 2024-06-04", got)
	}
	// Month boundary.
	now, _ = time.Parse(DateFormat, "2024-06-29")
	if got := TargetDate(now, 3); got != "2024-07-02" {
		t.Fatalf("TargetDate = %s, want 2024-07-02", got)
	}
	if got := TargetDate(now, 0); got != "2024-06-29" {
		t.Fatalf("TargetDate = %s, want 2024-06-29", got)
	}
}

func TestMatchExpiringExactDay(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.pensions = []store.Pension{
		{ID: "p1", Status: store.StatusActive, ExpirationDate: "2024-06-04"},
		{ID: "p2", Status: store.StatusActive, ExpirationDate: "2024-06-05"},
		{ID: "p3", Status: store.StatusInactive, ExpirationDate: "2024-06-04"},
	}

	got, err := MatchExpiring(context.Background(), st, "2024-06-04")
	if err != nil {
		t.Fatalf("MatchExpiring: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("expected only p1, got %+v", got)
	}
}
