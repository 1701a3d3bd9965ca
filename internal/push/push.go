// Package push defines the outbound multicast delivery boundary.
//
// The scheduler consumes Sender only; the concrete transport (FCM legacy HTTP)
// lives behind it so tests and dry runs can swap it out.
package push

import "context"

// Message is one logical notification fanned out to all of a user's tokens.
//
// Data field names are a wire contract with the receiving client; do not
// rename them.
type Message struct {
	Title  string
	Body   string
	Data   map[string]string
	Tokens []string
}

// Receipt reports per-multicast delivery counts. Failed tokens are not
// retried individually; counts are recorded for observability only.
type Receipt struct {
	SuccessCount int
	FailureCount int
}

// Sender delivers one multicast message.
type Sender interface {
	SendMulticast(ctx context.Context, msg Message) (Receipt, error)
}
