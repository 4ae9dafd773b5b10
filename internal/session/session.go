// ABOUTME: Signing session state machine: authenticate, sign, logout
// ABOUTME: Caches the derived account in memory only and tears it down on address change

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Phathdt/facewallet/internal/binding"
	"github.com/Phathdt/facewallet/internal/config"
	"github.com/Phathdt/facewallet/internal/credential"
	"github.com/Phathdt/facewallet/internal/derive"
	"github.com/Phathdt/facewallet/internal/store"
	"github.com/Phathdt/facewallet/internal/wallet"
)

// Session errors
var (
	// ErrInvalidPIN is returned when the PIN fails format validation. No
	// hardware call happens in that case.
	ErrInvalidPIN = errors.New("PIN must be exactly 6 digits")

	// ErrNotAuthenticated is returned when sign is attempted without an
	// authenticated session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAccountMismatch is returned when a fresh derivation disagrees with
	// the recorded derived address for the bound external address. It means
	// the platform handed back a different hardware secret than before.
	ErrAccountMismatch = errors.New("derived account does not match recorded account")

	// ErrBindingChanged is returned when the bound address changed while the
	// authentication was in flight. The attempt's verification was keyed to
	// the old binding, so its result is discarded and nothing is cached.
	ErrBindingChanged = errors.New("bound address changed during authentication")
)

// DomainTag separates this derivation from any other use of the same
// hardware secret. Versioned so a future algorithm change cannot collide.
const DomainTag = "facewallet/signing-key/v1"

// pinLength is the required PIN length.
const pinLength = 6

// Manager owns the session state machine. It is Unauthenticated until a
// successful Authenticate and returns there on Logout, on any bound-address
// change, and on any authentication failure.
type Manager struct {
	gateway *credential.Gateway
	addrs   *binding.Binding
	logger  *slog.Logger

	// bookkeeping per the configured persistence policy
	persistence string
	records     store.Store       // nil unless persistence is "persistent"
	memRecords  map[string]string // external address -> derived address, "session" mode

	// authMu serializes Authenticate so two competing credential prompts can
	// never be in flight for the same session.
	authMu sync.Mutex

	// mu guards the cached account and is never held across a gateway call.
	mu      sync.RWMutex
	account *wallet.Account

	// epoch counts binding events. Authenticate snapshots it before the
	// gateway call and refuses to cache if it moved while the prompt was
	// open.
	epoch uint64
}

// NewManager wires the session manager to its collaborators and subscribes to
// address-change events. records may be nil when the persistence policy does
// not use the database.
func NewManager(gateway *credential.Gateway, addrs *binding.Binding, records store.Store, persistence string) *Manager {
	m := &Manager{
		gateway:     gateway,
		addrs:       addrs,
		logger:      slog.Default().With("component", "session"),
		persistence: persistence,
		records:     records,
		memRecords:  make(map[string]string),
	}
	addrs.Subscribe(m.handleAddressChange)
	return m
}

// Authenticate derives the signing account for the given PIN and caches it.
// When the session is already authenticated it returns the cached account
// without any hardware round-trip. Concurrent calls queue behind each other;
// the queued call then takes the fast path.
func (m *Manager) Authenticate(ctx context.Context, pin string) (*wallet.Account, error) {
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	m.authMu.Lock()
	defer m.authMu.Unlock()

	if acct := m.cachedAccount(); acct != nil {
		m.logger.Debug("authenticate fast path, cached account reused")
		return acct, nil
	}

	m.mu.RLock()
	startEpoch := m.epoch
	m.mu.RUnlock()

	digest := credential.DigestPIN(pin)
	enrollment, err := m.gateway.FindOrCreate(ctx, digest)
	if err != nil {
		return nil, err
	}

	key, err := derive.Key(enrollment.Secret, []byte(DomainTag))
	if err != nil {
		return nil, err
	}
	acct := wallet.FromKey(key)

	if err := m.verifyAndRecord(ctx, acct.Address(), enrollment.CredentialID); err != nil {
		acct.Destroy()
		return nil, err
	}

	m.mu.Lock()
	if m.epoch != startEpoch {
		m.mu.Unlock()
		acct.Destroy()
		m.logger.Info("authentication discarded, binding changed mid-flight")
		return nil, ErrBindingChanged
	}
	m.account = acct
	m.mu.Unlock()

	m.logger.Info("session authenticated",
		"derived_address", acct.Address().Hex(),
		"credential_existing", enrollment.WasExisting)
	return acct, nil
}

// Sign signs a message with the cached account. It never touches hardware.
func (m *Manager) Sign(message string) (wallet.Signature, error) {
	m.mu.RLock()
	acct := m.account
	m.mu.RUnlock()

	if acct == nil {
		return wallet.Signature{}, ErrNotAuthenticated
	}
	return acct.SignText([]byte(message))
}

// Logout clears the cached account unconditionally. Idempotent.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account != nil {
		m.account.Destroy()
		m.account = nil
		m.logger.Info("session logged out")
	}
}

// IsAuthenticated reports whether a signing account is cached.
func (m *Manager) IsAuthenticated() bool {
	return m.cachedAccount() != nil
}

// Address returns the derived signing address of the active session.
func (m *Manager) Address() (common.Address, bool) {
	acct := m.cachedAccount()
	if acct == nil {
		return common.Address{}, false
	}
	return acct.Address(), true
}

func (m *Manager) cachedAccount() *wallet.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// handleAddressChange tears the session down on every binding event, even a
// re-selection of the same address. Re-authentication is cheaper than a
// stale cache signing for the wrong binding.
func (m *Manager) handleAddressChange(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	if m.account != nil {
		m.account.Destroy()
		m.account = nil
		m.logger.Info("session invalidated by address change")
	}
}

// verifyAndRecord checks the freshly derived address against the recorded one
// for the bound external address and records it for next time, according to
// the persistence policy. With no bound address there is nothing to key the
// record on, so the check is skipped.
func (m *Manager) verifyAndRecord(ctx context.Context, derived common.Address, credentialID []byte) error {
	if m.persistence == config.PersistenceNone {
		return nil
	}
	bound, ok := m.addrs.Active()
	if !ok {
		return nil
	}
	key := bound.Hex()
	derivedHex := derived.Hex()

	switch m.persistence {
	case config.PersistenceSession:
		if prev, ok := m.memRecords[key]; ok && prev != derivedHex {
			return fmt.Errorf("%w: recorded %s, derived %s", ErrAccountMismatch, prev, derivedHex)
		}
		m.memRecords[key] = derivedHex
		return nil

	case config.PersistencePersistent:
		rec, err := m.records.GetAccountBinding(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First derivation for this address, record it below.
		case err != nil:
			return fmt.Errorf("reading account record: %w", err)
		case rec.DerivedAddress != derivedHex:
			return fmt.Errorf("%w: recorded %s, derived %s", ErrAccountMismatch, rec.DerivedAddress, derivedHex)
		}
		return m.records.UpsertAccountBinding(ctx, &store.AccountBinding{
			Address:        key,
			CredentialID:   credentialID,
			DerivedAddress: derivedHex,
		})
	}
	return nil
}

// validatePIN enforces the 6-digit numeric format before any hardware call.
func validatePIN(pin string) error {
	if len(pin) != pinLength {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}
