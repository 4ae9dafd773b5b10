// ABOUTME: Passkey broker implementing the credential capability over WebAuthn
// ABOUTME: Parks Create/Get calls until the browser completes the ceremony round-trip

package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/Phathdt/facewallet/internal/credential"
	"github.com/Phathdt/facewallet/internal/store"
)

// ErrPromptInFlight is returned when a second capability call arrives while a
// prompt is pending. The session manager serializes its callers, so hitting
// this means a caller bypassed it.
var ErrPromptInFlight = errors.New("a credential prompt is already in flight")

// ErrNoPendingPrompt is returned by ceremony endpoints when no capability
// call is waiting.
var ErrNoPendingPrompt = errors.New("no pending credential prompt")

// PromptKind tells the UI which browser ceremony to run.
type PromptKind string

const (
	// PromptRegister asks the browser for navigator.credentials.create.
	PromptRegister PromptKind = "register"
	// PromptAssert asks the browser for navigator.credentials.get.
	PromptAssert PromptKind = "assert"
)

// Cancel reasons accepted from the UI.
const (
	ReasonCancelled   = "cancelled"   // user declined or closed the prompt
	ReasonNotFound    = "not_found"   // no credential available to assert
	ReasonUnsupported = "unsupported" // platform lacks WebAuthn or the PRF extension
)

// Prompt describes the pending capability call to the UI.
type Prompt struct {
	ID        string     `json:"id"`
	Kind      PromptKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

type promptOutcome struct {
	assertion *credential.Assertion
	err       error
}

type pendingPrompt struct {
	id        string
	kind      PromptKind
	evalInput []byte
	createdAt time.Time
	result    chan promptOutcome
}

// Config holds relying-party parameters for the broker.
type Config struct {
	RPID        string
	RPOrigins   []string
	DisplayName string
}

// Broker implements credential.Authenticator by brokering between a blocked
// capability call and the browser-driven WebAuthn ceremony. Exactly one
// prompt may be pending at a time.
type Broker struct {
	web        *webauthn.WebAuthn
	creds      store.Store // nil disables credential bookkeeping and validation
	ceremonies *ceremonyStore
	logger     *slog.Logger

	mu      sync.Mutex
	pending *pendingPrompt
}

// NewBroker constructs the WebAuthn relying party and the broker around it.
func NewBroker(cfg Config, creds store.Store) (*Broker, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.DisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing webauthn: %w", err)
	}
	return &Broker{
		web:        web,
		creds:      creds,
		ceremonies: newCeremonyStore(),
		logger:     slog.Default().With("component", "passkey"),
	}, nil
}

// Close stops the ceremony store's cleanup goroutine.
func (b *Broker) Close() {
	b.ceremonies.Close()
}

// Create blocks until the browser completes a registration ceremony carrying
// evalInput as the PRF evaluation input, or until ctx expires.
func (b *Broker) Create(ctx context.Context, evalInput []byte) (*credential.Assertion, error) {
	return b.run(ctx, PromptRegister, evalInput)
}

// Get blocks until the browser completes an assertion ceremony carrying
// evalInput as the PRF evaluation input, or until ctx expires. Returns
// credential.ErrNotFound when the UI reports no credential is available.
func (b *Broker) Get(ctx context.Context, evalInput []byte) (*credential.Assertion, error) {
	return b.run(ctx, PromptAssert, evalInput)
}

func (b *Broker) run(ctx context.Context, kind PromptKind, evalInput []byte) (*credential.Assertion, error) {
	p, err := b.openPrompt(kind, evalInput)
	if err != nil {
		return nil, err
	}
	defer b.closePrompt(p)

	b.logger.Debug("credential prompt opened", "prompt_id", p.id, "kind", kind)
	select {
	case <-ctx.Done():
		// The platform prompt owns its own cancellation; from this side a
		// timeout is indistinguishable from the user walking away.
		return nil, credential.ErrUserCancelled
	case o := <-p.result:
		return o.assertion, o.err
	}
}

func (b *Broker) openPrompt(kind PromptKind, evalInput []byte) (*pendingPrompt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		return nil, ErrPromptInFlight
	}
	p := &pendingPrompt{
		id:        uuid.NewString(),
		kind:      kind,
		evalInput: append([]byte(nil), evalInput...),
		createdAt: time.Now(),
		result:    make(chan promptOutcome, 1),
	}
	b.pending = p
	return p, nil
}

func (b *Broker) closePrompt(p *pendingPrompt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == p {
		b.pending = nil
	}
}

// current returns the pending prompt matching id, if any.
func (b *Broker) current(id string) (*pendingPrompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil || b.pending.id != id {
		return nil, false
	}
	return b.pending, true
}

// resolve delivers the ceremony outcome to the blocked capability call.
func (b *Broker) resolve(p *pendingPrompt, o promptOutcome) {
	select {
	case p.result <- o:
	default:
		// Already resolved, or the caller gave up; drop it.
	}
}

// Pending reports the prompt the UI should service, if one is waiting.
func (b *Broker) Pending() (*Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return nil, false
	}
	return &Prompt{
		ID:        b.pending.id,
		Kind:      b.pending.kind,
		CreatedAt: b.pending.createdAt,
	}, true
}

// Cancel resolves the pending prompt with the failure the UI observed.
func (b *Broker) Cancel(promptID, reason string) error {
	p, ok := b.current(promptID)
	if !ok {
		return ErrNoPendingPrompt
	}

	var err error
	switch reason {
	case ReasonNotFound:
		err = credential.ErrNotFound
	case ReasonUnsupported:
		err = credential.ErrCapabilityUnavailable
	default:
		err = credential.ErrUserCancelled
	}
	b.logger.Info("credential prompt cancelled", "prompt_id", promptID, "reason", reason)
	b.resolve(p, promptOutcome{err: err})
	return nil
}
