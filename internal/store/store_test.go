// ABOUTME: Tests for SQLite and mock store implementations
// ABOUTME: Runs the same scenarios against both via a shared harness

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each Store implementation under test.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "facewallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"mock":   NewMockStore(),
	}
}

func TestAccountBinding_RoundTrip(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetAccountBinding(ctx, "0xAb58")
			assert.ErrorIs(t, err, ErrNotFound)

			b := &AccountBinding{
				Address:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
				CredentialID:   []byte("cred-id"),
				DerivedAddress: "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
			}
			require.NoError(t, s.UpsertAccountBinding(ctx, b))

			got, err := s.GetAccountBinding(ctx, b.Address)
			require.NoError(t, err)
			assert.Equal(t, b.CredentialID, got.CredentialID)
			assert.Equal(t, b.DerivedAddress, got.DerivedAddress)
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestAccountBinding_UpsertUpdates(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			addr := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

			require.NoError(t, s.UpsertAccountBinding(ctx, &AccountBinding{
				Address:        addr,
				DerivedAddress: "0x1111111111111111111111111111111111111111",
			}))
			require.NoError(t, s.UpsertAccountBinding(ctx, &AccountBinding{
				Address:        addr,
				CredentialID:   []byte("new-cred"),
				DerivedAddress: "0x2222222222222222222222222222222222222222",
			}))

			got, err := s.GetAccountBinding(ctx, addr)
			require.NoError(t, err)
			assert.Equal(t, "0x2222222222222222222222222222222222222222", got.DerivedAddress)
			assert.Equal(t, []byte("new-cred"), got.CredentialID)
		})
	}
}

func TestAccountBinding_Delete(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			addr := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

			assert.ErrorIs(t, s.DeleteAccountBinding(ctx, addr), ErrNotFound)

			require.NoError(t, s.UpsertAccountBinding(ctx, &AccountBinding{
				Address:        addr,
				DerivedAddress: "0x1111111111111111111111111111111111111111",
			}))
			require.NoError(t, s.DeleteAccountBinding(ctx, addr))

			_, err := s.GetAccountBinding(ctx, addr)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCredential_RoundTrip(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetCredentialByCredentialID(ctx, []byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)

			c := &Credential{
				ID:           "row-1",
				CredentialID: []byte("platform-cred-1"),
				PublicKey:    []byte{0x01, 0x02},
				Transports:   `["internal"]`,
				SignCount:    3,
			}
			require.NoError(t, s.CreateCredential(ctx, c))

			got, err := s.GetCredentialByCredentialID(ctx, c.CredentialID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, got.ID)
			assert.Equal(t, c.PublicKey, got.PublicKey)
			assert.Equal(t, uint32(3), got.SignCount)
		})
	}
}

func TestCredential_SignCountAndList(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.ErrorIs(t, s.UpdateCredentialSignCount(ctx, "missing", 1), ErrNotFound)

			require.NoError(t, s.CreateCredential(ctx, &Credential{
				ID:           "row-1",
				CredentialID: []byte("cred-1"),
				PublicKey:    []byte{0x01},
			}))
			require.NoError(t, s.UpdateCredentialSignCount(ctx, "row-1", 7))

			got, err := s.GetCredentialByCredentialID(ctx, []byte("cred-1"))
			require.NoError(t, err)
			assert.Equal(t, uint32(7), got.SignCount)

			all, err := s.ListCredentials(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}
