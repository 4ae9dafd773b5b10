// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	bindings    map[string]*AccountBinding // keyed by address
	credentials map[string]*Credential     // keyed by row ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		bindings:    make(map[string]*AccountBinding),
		credentials: make(map[string]*Credential),
	}
}

// UpsertAccountBinding inserts or updates the binding for an address.
func (m *MockStore) UpsertAccountBinding(ctx context.Context, b *AccountBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := *b
	cp.CredentialID = append([]byte(nil), b.CredentialID...)
	cp.UpdatedAt = now
	if existing, ok := m.bindings[b.Address]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	m.bindings[b.Address] = &cp
	return nil
}

// GetAccountBinding retrieves the binding for an address.
func (m *MockStore) GetAccountBinding(ctx context.Context, address string) (*AccountBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bindings[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	cp.CredentialID = append([]byte(nil), b.CredentialID...)
	return &cp, nil
}

// DeleteAccountBinding removes the binding for an address.
func (m *MockStore) DeleteAccountBinding(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bindings[address]; !ok {
		return ErrNotFound
	}
	delete(m.bindings, address)
	return nil
}

// CreateCredential stores a registered credential.
func (m *MockStore) CreateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	cp.CredentialID = append([]byte(nil), c.CredentialID...)
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.credentials[c.ID] = &cp
	return nil
}

// GetCredentialByCredentialID looks up a credential by its platform ID.
func (m *MockStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if bytes.Equal(c.CredentialID, credentialID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListCredentials returns all registered credentials, oldest first.
func (m *MockStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateCredentialSignCount records the authenticator's latest sign counter.
func (m *MockStore) UpdateCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.SignCount = signCount
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }
