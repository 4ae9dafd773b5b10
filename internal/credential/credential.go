// ABOUTME: Credential capability contract and the find-or-create gateway protocol
// ABOUTME: Wraps an opaque biometric authenticator behind idempotent discovery

package credential

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
)

// Gateway errors. Callers classify with errors.Is; UserCancelled is
// recoverable, the capability errors are fatal for the device.
var (
	// ErrUserCancelled means the user declined or timed out the prompt.
	ErrUserCancelled = errors.New("user cancelled credential prompt")

	// ErrCapabilityUnavailable means the platform cannot run credential
	// ceremonies at all on this device.
	ErrCapabilityUnavailable = errors.New("credential capability unavailable")

	// ErrSecretMissing means the platform completed the ceremony but returned
	// no evaluable secret, so deterministic derivation is impossible here.
	ErrSecretMissing = errors.New("assertion returned no hardware secret")

	// ErrNotFound is returned by Authenticator.Get when no credential is
	// registered for this relying party.
	ErrNotFound = errors.New("no credential found")

	// ErrNoCredential is returned by Reauthenticate when discovery fails.
	ErrNoCredential = errors.New("no credential registered")
)

// PinDigest is the fixed-size digest of the user's PIN, used as the PRF
// evaluation input. It is recomputed per attempt and never persisted.
type PinDigest [sha256.Size]byte

// DigestPIN hashes the PIN text into the evaluation-input form.
func DigestPIN(pin string) PinDigest {
	return sha256.Sum256([]byte(pin))
}

// Assertion is the outcome of a single capability invocation: the platform's
// credential identifier and the hardware-evaluated secret. The secret exists
// only for the duration of the call chain that received it.
type Assertion struct {
	CredentialID []byte
	Secret       []byte
}

// Authenticator is the opaque platform capability. Both calls block until the
// user completes or cancels the biometric prompt; ctx bounds the wait.
type Authenticator interface {
	// Create registers a new credential, evaluating the PRF with evalInput.
	Create(ctx context.Context, evalInput []byte) (*Assertion, error)

	// Get asserts an existing credential, evaluating the PRF with evalInput.
	// Returns ErrNotFound when no credential exists for this relying party.
	Get(ctx context.Context, evalInput []byte) (*Assertion, error)
}

// Enrollment is the result of FindOrCreate.
type Enrollment struct {
	CredentialID []byte
	Secret       []byte

	// WasExisting is true when discovery found a credential instead of
	// creating one.
	WasExisting bool
}

// Gateway layers the get-or-create protocol over an Authenticator that has
// no native idempotent creation.
type Gateway struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewGateway wraps the given capability.
func NewGateway(auth Authenticator) *Gateway {
	return &Gateway{
		auth:   auth,
		logger: slog.Default().With("component", "credential"),
	}
}

// FindOrCreate probes for an existing credential first and only creates one
// when the probe finds nothing. The probe-first ordering prevents duplicate
// credentials when one already exists, for example synchronized from another
// device.
func (g *Gateway) FindOrCreate(ctx context.Context, digest PinDigest) (*Enrollment, error) {
	assertion, err := g.auth.Get(ctx, digest[:])
	switch {
	case err == nil:
		if len(assertion.Secret) == 0 {
			return nil, ErrSecretMissing
		}
		g.logger.Debug("existing credential asserted")
		return &Enrollment{
			CredentialID: assertion.CredentialID,
			Secret:       assertion.Secret,
			WasExisting:  true,
		}, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserCancelled):
		// Fall through to creation. A cancelled probe usually means the
		// platform showed an empty credential picker.
	default:
		return nil, fmt.Errorf("credential probe: %w", err)
	}

	assertion, err = g.auth.Create(ctx, digest[:])
	if err != nil {
		return nil, fmt.Errorf("credential creation: %w", err)
	}
	if len(assertion.Secret) == 0 {
		return nil, ErrSecretMissing
	}
	g.logger.Info("credential created")
	return &Enrollment{
		CredentialID: assertion.CredentialID,
		Secret:       assertion.Secret,
		WasExisting:  false,
	}, nil
}

// Reauthenticate runs only the assertion ceremony. It fails with
// ErrNoCredential when nothing is registered.
func (g *Gateway) Reauthenticate(ctx context.Context, digest PinDigest) ([]byte, error) {
	assertion, err := g.auth.Get(ctx, digest[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	if len(assertion.Secret) == 0 {
		return nil, ErrSecretMissing
	}
	return assertion.Secret, nil
}
