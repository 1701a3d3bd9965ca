package expiry

import (
	"context"
	"time"

	"penwatch/internal/store"
)

// memStore is a scriptable in-memory store.Store for runner and dispatcher
// tests. Per-call error hooks simulate partial backend failures.
type memStore struct {
	policies map[string]store.Policy
	tokens   map[string]store.DeviceToken
	activity []store.Activity
	pensions []store.Pension
	logs     []store.LogEntry
	markers  map[string]time.Time

	scanErr      error
	policyErrFor map[string]error
	tokenErrFor  map[string]error
	matchErr     error
	markerErr    error
}

func newMemStore() *memStore {
	return &memStore{
		policies:     map[string]store.Policy{},
		tokens:       map[string]store.DeviceToken{},
		markers:      map[string]time.Time{},
		policyErrFor: map[string]error{},
		tokenErrFor:  map[string]error{},
	}
}

func (m *memStore) GetPolicy(_ context.Context, userID string) (store.Policy, bool, error) {
	if err := m.policyErrFor[userID]; err != nil {
		return store.Policy{}, false, err
	}
	p, ok := m.policies[userID]
	return p, ok, nil
}

func (m *memStore) PutPolicy(_ context.Context, p store.Policy) error {
	m.policies[p.UserID] = p
	return nil
}

func (m *memStore) UpsertActivity(_ context.Context, a store.Activity) error {
	m.activity = append(m.activity, a)
	return nil
}

func (m *memStore) QueryActiveSince(_ context.Context, cutoff time.Time) ([]store.UserRef, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []store.UserRef
	for _, a := range m.activity {
		if !a.LastActiveAt.Before(cutoff) {
			out = append(out, store.UserRef{ID: a.UserID, Email: a.Email, LastActiveAt: a.LastActiveAt})
		}
	}
	return out, nil
}

func (m *memStore) CreatePension(_ context.Context, p store.Pension) error {
	m.pensions = append(m.pensions, p)
	return nil
}

func (m *memStore) GetPension(_ context.Context, id string) (store.Pension, bool, error) {
	for _, p := range m.pensions {
		if p.ID == id {
			return p, true, nil
		}
	}
	return store.Pension{}, false, nil
}

func (m *memStore) ListPensions(_ context.Context, status string, limit int) ([]store.Pension, error) {
	var out []store.Pension
	for _, p := range m.pensions {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdatePension(_ context.Context, p store.Pension) error {
	for i := range m.pensions {
		if m.pensions[i].ID == p.ID {
			m.pensions[i] = p
			return nil
		}
	}
	return nil
}

func (m *memStore) RenewPension(_ context.Context, id, newExpiration string, at time.Time) error {
	for i := range m.pensions {
		if m.pensions[i].ID == id {
			m.pensions[i].ExpirationDate = newExpiration
			m.pensions[i].Status = store.StatusActive
			m.pensions[i].LastRenewal = &at
			return nil
		}
	}
	return nil
}

func (m *memStore) QueryByStatusAndExpiration(_ context.Context, status, date string) ([]store.Pension, error) {
	if m.matchErr != nil {
		return nil, m.matchErr
	}
	var out []store.Pension
	for _, p := range m.pensions {
		if p.Status == status && p.ExpirationDate == date {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetToken(_ context.Context, userID string) (store.DeviceToken, bool, error) {
	if err := m.tokenErrFor[userID]; err != nil {
		return store.DeviceToken{}, false, err
	}
	t, ok := m.tokens[userID]
	return t, ok, nil
}

func (m *memStore) PutToken(_ context.Context, t store.DeviceToken) error {
	m.tokens[t.UserID] = t
	return nil
}

func (m *memStore) DeleteToken(_ context.Context, userID string) error {
	delete(m.tokens, userID)
	return nil
}

func (m *memStore) AppendLog(_ context.Context, e store.LogEntry) error {
	m.logs = append(m.logs, e)
	return nil
}

func (m *memStore) ListLog(_ context.Context, limit int) ([]store.LogEntry, error) {
	out := append([]store.LogEntry(nil), m.logs...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) PutMarker(_ context.Context, key string, until time.Time) error {
	if m.markerErr != nil {
		return m.markerErr
	}
	m.markers[key] = until
	return nil
}

func (m *memStore) GetMarker(_ context.Context, key string) (time.Time, bool, error) {
	if m.markerErr != nil {
		return time.Time{}, false, m.markerErr
	}
	until, ok := m.markers[key]
	return until, ok, nil
}

func (m *memStore) Close() error { return nil }
