package push

import (
	"context"
	"sync"
)

// Fake is an in-memory Sender for tests. It records every message and can be
// scripted to fail for specific tokens.
type Fake struct {
	mu sync.Mutex

	Sent []Message
	// FailFor makes SendMulticast return Err when the message carries the token.
	FailFor map[string]bool
	Err     error
}

func NewFake() *Fake {
	return &Fake{FailFor: map[string]bool{}}
}

func (f *Fake) SendMulticast(ctx context.Context, msg Message) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tok := range msg.Tokens {
		if f.FailFor[tok] {
			return Receipt{FailureCount: len(msg.Tokens)}, f.Err
		}
	}
	f.Sent = append(f.Sent, msg)
	return Receipt{SuccessCount: len(msg.Tokens)}, nil
}

// Messages returns a copy of everything sent so far.
func (f *Fake) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.Sent))
	copy(out, f.Sent)
	return out
}
