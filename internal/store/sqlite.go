// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides binding/credential persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS account_bindings (
			address TEXT PRIMARY KEY,
			credential_id BLOB,
			derived_address TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			credential_id BLOB NOT NULL UNIQUE,
			public_key BLOB NOT NULL,
			transports TEXT NOT NULL DEFAULT '',
			sign_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_credential_id
			ON credentials(credential_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAccountBinding inserts or updates the binding for an address.
func (s *SQLiteStore) UpsertAccountBinding(ctx context.Context, b *AccountBinding) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_bindings (address, credential_id, derived_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			credential_id = excluded.credential_id,
			derived_address = excluded.derived_address,
			updated_at = excluded.updated_at`,
		b.Address, b.CredentialID, b.DerivedAddress, now, now)
	if err != nil {
		return fmt.Errorf("upserting account binding: %w", err)
	}
	return nil
}

// GetAccountBinding retrieves the binding for an address.
func (s *SQLiteStore) GetAccountBinding(ctx context.Context, address string) (*AccountBinding, error) {
	var b AccountBinding
	err := s.db.QueryRowContext(ctx, `
		SELECT address, credential_id, derived_address, created_at, updated_at
		FROM account_bindings WHERE address = ?`, address).
		Scan(&b.Address, &b.CredentialID, &b.DerivedAddress, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting account binding: %w", err)
	}
	return &b, nil
}

// DeleteAccountBinding removes the binding for an address.
func (s *SQLiteStore) DeleteAccountBinding(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM account_bindings WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("deleting account binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting account binding: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCredential stores a registered credential.
func (s *SQLiteStore) CreateCredential(ctx context.Context, c *Credential) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, credential_id, public_key, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.CredentialID, c.PublicKey, c.Transports, c.SignCount, createdAt)
	if err != nil {
		return fmt.Errorf("creating credential: %w", err)
	}
	return nil
}

// GetCredentialByCredentialID looks up a credential by its platform ID.
func (s *SQLiteStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT id, credential_id, public_key, transports, sign_count, created_at
		FROM credentials WHERE credential_id = ?`, credentialID).
		Scan(&c.ID, &c.CredentialID, &c.PublicKey, &c.Transports, &c.SignCount, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return &c, nil
}

// ListCredentials returns all registered credentials, oldest first.
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credential_id, public_key, transports, sign_count, created_at
		FROM credentials ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.CredentialID, &c.PublicKey, &c.Transports, &c.SignCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateCredentialSignCount records the authenticator's latest sign counter.
func (s *SQLiteStore) UpdateCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ? WHERE id = ?`, signCount, id)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
