package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is required: every collaborator store (policies, activity,
	// pensions, device tokens, notification log) lives in one sqlite file.
	Storage StorageConfig `json:"storage"`

	// Expiry controls the daily expiring-pension check.
	Expiry ExpiryConfig `json:"expiry"`

	// Push configures the outbound multicast delivery endpoint.
	Push PushConfig `json:"push"`

	// HTTP is the admin/client API surface (pension CRUD, policy, tokens).
	HTTP *HTTPConfig `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "path": "./penwatch.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ExpiryConfig controls the daily expiring-pension run.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - send_time: "09:00"
//   - timezone: system local
//   - run_timeout: "2m"
//   - rate_per_sec: 3
//   - dedup_window: "0s" (disabled; duplicate triggers on the same day re-send)
type ExpiryConfig struct {
	Enabled bool `json:"enabled"`

	// SendTime is the daily trigger time as "HH:MM" in Timezone.
	SendTime string `json:"send_time,omitempty"`

	// Timezone is an IANA TZ name, e.g. "America/Mexico_City".
	Timezone string `json:"timezone,omitempty"`

	RunTimeout string `json:"run_timeout,omitempty"`

	// RatePerSec caps multicast calls toward the push API.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// DedupWindow, when > 0, suppresses re-sends for the same
	// (user, pension, target date) within the window via a durable marker.
	// The marker write is not atomic with the log append, so this narrows
	// the duplicate window rather than closing it.
	DedupWindow string `json:"dedup_window,omitempty"`
}

// PushConfig configures the multicast push endpoint.
//
// DryRun short-circuits delivery (messages are built and logged but not sent);
// useful when running against a production database.
type PushConfig struct {
	Endpoint  string `json:"endpoint"`
	ServerKey string `json:"server_key"`
	Timeout   string `json:"timeout,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}
