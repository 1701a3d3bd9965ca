package expiry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"penwatch/internal/store"
)

// Defaults shared by policy resolution and the admin API. DefaultDaysBefore is
// the single source for the lead time both the scheduler and the client
// configuration surface use.
const (
	DefaultDaysBefore  = 3
	DefaultActiveStart = "08:00"
	DefaultActiveEnd   = "22:00"
	DefaultSendTime    = "09:00"
)

// Skip/deny reasons surfaced in logs and run history.
const (
	ReasonNoPolicy     = "no policy record"
	ReasonDisabled     = "notifications disabled"
	ReasonOutsideHours = "outside active hours"
	ReasonWeekend      = "weekend sends disabled"
	ReasonOK           = "ok"
)

// Decision is the evaluator's verdict for one user at one instant.
type Decision struct {
	Proceed bool
	Reason  string

	// EvalErr is set when a check failed and the fail-open rule forced
	// Proceed. Callers log it; it never blocks.
	EvalErr *EvalError
}

// EvalError is a policy evaluation failure (e.g. an unparseable active-hours
// value). It maps to an allow verdict via Allow.
type EvalError struct {
	Check string
	Err   error
}

func (e *EvalError) Error() string { return e.Check + ": " + e.Err.Error() }

func (e *EvalError) Unwrap() error { return e.Err }

// Allow is the single place evaluation errors map to a verdict: always
// proceed. A configuration parsing error must not silently suppress an expiry
// alert; the worst case of this bias is a notification outside the user's
// preferred window, the worst case of the opposite is a missed expiration.
func Allow(*EvalError) bool { return true }

// ResolvePolicy loads a user's policy with defaults merged in, so downstream
// code never sees partial fields. Returns nil when the user has no policy
// record at all (which denies notification; an explicit record is required).
func ResolvePolicy(ctx context.Context, st store.Store, userID string) (*store.Policy, error) {
	p, ok, err := st.GetPolicy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	if p.DaysBefore <= 0 {
		p.DaysBefore = DefaultDaysBefore
	}
	if strings.TrimSpace(p.ActiveStart) == "" {
		p.ActiveStart = DefaultActiveStart
	}
	if strings.TrimSpace(p.ActiveEnd) == "" {
		p.ActiveEnd = DefaultActiveEnd
	}
	if strings.TrimSpace(p.SendTime) == "" {
		p.SendTime = DefaultSendTime
	}
	return &p, nil
}

// Evaluate decides whether now is an allowed moment to notify under p.
// Checks run in order and short-circuit on the first deny; an evaluation
// error inside a check falls through open (see Allow) and the remaining
// checks still run.
//
// Evaluation uses now's wall clock as-is. The policy's Timezone field is
// stored and served to clients but deliberately not consulted here.
func Evaluate(p *store.Policy, now time.Time) Decision {
	if p == nil {
		return Decision{Reason: ReasonNoPolicy}
	}
	if !p.Enabled {
		return Decision{Reason: ReasonDisabled}
	}

	within, evalErr := withinActiveHours(p.ActiveStart, p.ActiveEnd, now)
	if evalErr != nil {
		within = Allow(evalErr)
	}
	if !within {
		return Decision{Reason: ReasonOutsideHours}
	}

	if !p.AllowWeekends && isWeekend(now) {
		return Decision{Reason: ReasonWeekend}
	}

	return Decision{Proceed: true, Reason: ReasonOK, EvalErr: evalErr}
}

// withinActiveHours reports whether now's minute-of-day falls inside
// [start, end], inclusive on both ends.
func withinActiveHours(start, end string, now time.Time) (bool, *EvalError) {
	startMin, err := parseMinuteOfDay(start)
	if err != nil {
		return false, &EvalError{Check: "active_hours.start", Err: err}
	}
	endMin, err := parseMinuteOfDay(end)
	if err != nil {
		return false, &EvalError{Check: "active_hours.end", Err: err}
	}
	cur := now.Hour()*60 + now.Minute()
	return startMin <= cur && cur <= endMin, nil
}

// parseMinuteOfDay converts "HH:MM" to minutes since midnight.
func parseMinuteOfDay(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("time of day out of range %q", v)
	}
	return hh*60 + mm, nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
