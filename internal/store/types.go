package store

import (
	"time"
)

// Pension status values. The scheduler only ever matches StatusActive;
// the admin API flips records between the two.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Policy is one user's notification policy. A user without a row has no
// policy; callers that need defaults merged in should go through
// expiry.ResolvePolicy instead of reading this directly.
type Policy struct {
	UserID        string
	Enabled       bool
	DaysBefore    int
	ActiveStart   string // "HH:MM"
	ActiveEnd     string // "HH:MM"
	AllowWeekends bool
	SendTime      string // informational, mirrors the client default
	Timezone      string // stored and served, not consulted by evaluation
	UpdatedAt     time.Time
}

// Activity is a user's last-seen heartbeat, upserted by the client.
type Activity struct {
	UserID       string
	Email        string
	LastActiveAt time.Time
	UserAgent    string
}

// UserRef identifies a user selected by the eligibility scan.
type UserRef struct {
	ID           string
	Email        string
	LastActiveAt time.Time
}

// Pension is one recurring pension contract.
// ExpirationDate is a calendar date "YYYY-MM-DD" with no time component;
// matching is exact string equality on that column.
type Pension struct {
	ID             string
	PersonName     string
	CompanyName    string
	Status         string
	ExpirationDate string
	MonthlyAmount  float64 // 0 means not set
	Lugar          string
	Local          string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastRenewal    *time.Time
}

// DeviceToken is a user's push address. One row per user, overwritten on
// re-registration.
type DeviceToken struct {
	UserID    string
	Token     string
	Email     string
	UserAgent string
	Platform  string
	Language  string
	UpdatedAt time.Time
}

// LogEntry records one dispatched notification.
// Append-only: the scheduler writes, nothing mutates or deletes.
type LogEntry struct {
	ID             string
	UserID         string
	UserEmail      string
	PensionID      string
	PensionName    string
	ExpirationDate string
	SentAt         time.Time
	SuccessCount   int
	FailureCount   int
	Message        string
}
