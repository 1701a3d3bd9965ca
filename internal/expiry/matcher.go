package expiry

import (
	"context"
	"time"

	"penwatch/internal/store"
)

// DateFormat is the calendar-date wire format used across the pension store,
// the notification payload, and the admin API.
const DateFormat = "2006-01-02"

// ActiveWindow is the trailing eligibility window: a user is active iff their
// last recorded interaction is at most this old.
const ActiveWindow = 48 * time.Hour

// TargetDate computes today + daysBefore as a calendar date in now's
// location, ignoring time-of-day.
func TargetDate(now time.Time, daysBefore int) string {
	return now.AddDate(0, 0, daysBefore).Format(DateFormat)
}

// MatchExpiring returns active pensions expiring exactly on targetDate.
// Exact-day matching means each pension is flagged once per lead-time window:
// it will not re-match on subsequent days unless a different daysBefore hits
// the same date or the pension is renewed.
func MatchExpiring(ctx context.Context, st store.Store, targetDate string) ([]store.Pension, error) {
	return st.QueryByStatusAndExpiration(ctx, store.StatusActive, targetDate)
}
