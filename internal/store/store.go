// ABOUTME: Store interface and data types for facewallet bookkeeping
// ABOUTME: Persists address/credential associations, never key material

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AccountBinding associates an external address with the credential and the
// derived signing address last seen for it. The derived address is the
// reference point for mismatch verification; no secret material is stored.
type AccountBinding struct {
	Address        string // external address, EIP-55 form
	CredentialID   []byte // platform credential identifier (UX cache only)
	DerivedAddress string // derived signing address, EIP-55 form
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Credential is a registered passkey: the platform credential ID plus the
// public key needed to validate later assertions.
type Credential struct {
	ID           string // internal row ID
	CredentialID []byte // platform-assigned, opaque
	PublicKey    []byte // COSE public key from registration
	Transports   string // JSON-encoded transport hints
	SignCount    uint32
	CreatedAt    time.Time
}

// Store is the bookkeeping persistence interface.
type Store interface {
	// Account bindings
	UpsertAccountBinding(ctx context.Context, b *AccountBinding) error
	GetAccountBinding(ctx context.Context, address string) (*AccountBinding, error)
	DeleteAccountBinding(ctx context.Context, address string) error

	// Credentials
	CreateCredential(ctx context.Context, c *Credential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)
	ListCredentials(ctx context.Context) ([]*Credential, error)
	UpdateCredentialSignCount(ctx context.Context, id string, signCount uint32) error

	Close() error
}
