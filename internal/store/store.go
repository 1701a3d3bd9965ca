package store

import (
	"context"
	"time"
)

// Store is the persistence API consumed by the expiry runner and the admin API.
//
// Lookups use the (value, ok, error) shape: ok=false with a nil error means
// the record does not exist.
type Store interface {
	// Policies
	GetPolicy(ctx context.Context, userID string) (Policy, bool, error)
	PutPolicy(ctx context.Context, p Policy) error

	// Activity
	UpsertActivity(ctx context.Context, a Activity) error
	QueryActiveSince(ctx context.Context, cutoff time.Time) ([]UserRef, error)

	// Pensions
	CreatePension(ctx context.Context, p Pension) error
	GetPension(ctx context.Context, id string) (Pension, bool, error)
	ListPensions(ctx context.Context, status string, limit int) ([]Pension, error)
	UpdatePension(ctx context.Context, p Pension) error
	RenewPension(ctx context.Context, id, newExpiration string, at time.Time) error
	QueryByStatusAndExpiration(ctx context.Context, status, date string) ([]Pension, error)

	// Device tokens
	GetToken(ctx context.Context, userID string) (DeviceToken, bool, error)
	PutToken(ctx context.Context, t DeviceToken) error
	DeleteToken(ctx context.Context, userID string) error

	// Notification log (append-only)
	AppendLog(ctx context.Context, e LogEntry) error
	ListLog(ctx context.Context, limit int) ([]LogEntry, error)

	// Sent markers (optional cross-run dedup)
	PutMarker(ctx context.Context, key string, until time.Time) error
	GetMarker(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
