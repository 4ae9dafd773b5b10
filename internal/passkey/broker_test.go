// ABOUTME: Tests for the passkey broker prompt lifecycle
// ABOUTME: Covers blocking semantics, single-flight, cancellation reasons, and ceremony setup

package passkey

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/Phathdt/facewallet/internal/credential"
	"github.com/Phathdt/facewallet/internal/store"
)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := NewBroker(Config{
		RPID:        "localhost",
		RPOrigins:   []string{"http://localhost:8970"},
		DisplayName: "facewallet",
	}, store.NewMockStore())
	if err != nil {
		t.Fatalf("NewBroker() error = %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

// waitPending polls until the broker exposes a pending prompt.
func waitPending(t *testing.T, b *Broker) *Prompt {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := b.Pending(); ok {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no prompt became pending")
	return nil
}

func TestNewBroker_InvalidConfig(t *testing.T) {
	_, err := NewBroker(Config{}, nil)
	if err == nil {
		t.Error("expected error for empty relying-party config")
	}
}

func TestGet_TimeoutSurfacesAsCancelled(t *testing.T) {
	b := testBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Get(ctx, []byte("eval-input"))
	if !errors.Is(err, credential.ErrUserCancelled) {
		t.Errorf("Get() error = %v, want ErrUserCancelled", err)
	}

	if _, ok := b.Pending(); ok {
		t.Error("prompt still pending after timeout")
	}
}

func TestSecondCallRejectedWhileInFlight(t *testing.T) {
	b := testBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Get(ctx, []byte("eval-input"))
	}()
	waitPending(t, b)

	_, err := b.Create(context.Background(), []byte("other"))
	if !errors.Is(err, ErrPromptInFlight) {
		t.Errorf("Create() error = %v, want ErrPromptInFlight", err)
	}

	cancel()
	<-done
}

func TestCancel_ReasonMapping(t *testing.T) {
	cases := []struct {
		reason string
		want   error
	}{
		{ReasonNotFound, credential.ErrNotFound},
		{ReasonUnsupported, credential.ErrCapabilityUnavailable},
		{ReasonCancelled, credential.ErrUserCancelled},
		{"anything-else", credential.ErrUserCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			b := testBroker(t)

			errCh := make(chan error, 1)
			go func() {
				_, err := b.Get(context.Background(), []byte("eval-input"))
				errCh <- err
			}()
			p := waitPending(t, b)

			if err := b.Cancel(p.ID, tc.reason); err != nil {
				t.Fatalf("Cancel() error = %v", err)
			}
			if err := <-errCh; !errors.Is(err, tc.want) {
				t.Errorf("Get() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestResolveFatal_TargetsOnlyItsOwnPrompt(t *testing.T) {
	b := testBroker(t)

	// First prompt's ceremony fails fatally after the prompt was replaced.
	stale, err := b.openPrompt(PromptAssert, []byte("eval-1"))
	if err != nil {
		t.Fatalf("openPrompt() error = %v", err)
	}
	b.closePrompt(stale)

	fresh, err := b.openPrompt(PromptAssert, []byte("eval-2"))
	if err != nil {
		t.Fatalf("openPrompt() error = %v", err)
	}

	b.resolveFatal(stale, credential.ErrSecretMissing)

	// The failure lands on the stale prompt; the fresh one stays unresolved.
	select {
	case o := <-stale.result:
		if !errors.Is(o.err, credential.ErrSecretMissing) {
			t.Errorf("stale prompt outcome = %v, want ErrSecretMissing", o.err)
		}
	default:
		t.Error("stale prompt did not receive its outcome")
	}
	select {
	case o := <-fresh.result:
		t.Errorf("fresh prompt unexpectedly resolved with %v", o.err)
	default:
	}
}

func TestCancel_NoPendingPrompt(t *testing.T) {
	b := testBroker(t)

	if err := b.Cancel("nope", ReasonCancelled); !errors.Is(err, ErrNoPendingPrompt) {
		t.Errorf("Cancel() error = %v, want ErrNoPendingPrompt", err)
	}
}

func TestBegin_NoPendingPrompt(t *testing.T) {
	b := testBroker(t)

	if _, err := b.Begin(context.Background(), "nope"); !errors.Is(err, ErrNoPendingPrompt) {
		t.Errorf("Begin() error = %v, want ErrNoPendingPrompt", err)
	}
}

func TestBegin_AssertCarriesPRFExtension(t *testing.T) {
	b := testBroker(t)

	evalInput := []byte("pin-digest-bytes")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Get(ctx, evalInput)
	}()
	p := waitPending(t, b)

	if p.Kind != PromptAssert {
		t.Errorf("prompt kind = %q, want %q", p.Kind, PromptAssert)
	}

	res, err := b.Begin(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if res.CeremonyToken == "" {
		t.Error("empty ceremony token")
	}

	assertion, ok := res.Options.(*protocol.CredentialAssertion)
	if !ok {
		t.Fatalf("options type = %T, want *protocol.CredentialAssertion", res.Options)
	}
	prf, ok := assertion.Response.Extensions["prf"].(map[string]any)
	if !ok {
		t.Fatal("prf extension missing from assertion options")
	}
	eval, ok := prf["eval"].(map[string]any)
	if !ok {
		t.Fatal("prf.eval missing")
	}
	first, ok := eval["first"].(protocol.URLEncodedBase64)
	if !ok {
		t.Fatalf("prf.eval.first type = %T", eval["first"])
	}
	if string(first) != string(evalInput) {
		t.Error("prf.eval.first does not carry the evaluation input")
	}

	cancel()
	<-done
}

func TestBegin_RegisterOptions(t *testing.T) {
	b := testBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Create(ctx, []byte("eval-input"))
	}()
	p := waitPending(t, b)

	if p.Kind != PromptRegister {
		t.Errorf("prompt kind = %q, want %q", p.Kind, PromptRegister)
	}

	res, err := b.Begin(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	creation, ok := res.Options.(*protocol.CredentialCreation)
	if !ok {
		t.Fatalf("options type = %T, want *protocol.CredentialCreation", res.Options)
	}
	if creation.Response.AuthenticatorSelection.ResidentKey != protocol.ResidentKeyRequirementRequired {
		t.Error("registration must require a resident key")
	}
	if _, ok := creation.Response.Extensions["prf"]; !ok {
		t.Error("prf extension missing from creation options")
	}

	cancel()
	<-done
}

func TestFinish_BadCeremonyToken(t *testing.T) {
	b := testBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Get(ctx, []byte("eval-input"))
	}()
	p := waitPending(t, b)

	err := b.Finish(context.Background(), p.ID, "bogus-token", []byte("{}"))
	if err == nil {
		t.Error("expected error for unknown ceremony token")
	}

	cancel()
	<-done
}

func TestPrfSecret(t *testing.T) {
	secret := []byte("hardware-secret-32-bytes-long!!!")
	encoded := base64.RawURLEncoding.EncodeToString(secret)

	got, err := prfSecret(protocol.AuthenticationExtensionsClientOutputs{
		"prf": map[string]any{
			"results": map[string]any{"first": encoded},
		},
	})
	if err != nil {
		t.Fatalf("prfSecret() error = %v", err)
	}
	if string(got) != string(secret) {
		t.Error("decoded secret mismatch")
	}

	// Padded encoding is tolerated.
	padded := base64.URLEncoding.EncodeToString(secret)
	if _, err := prfSecret(protocol.AuthenticationExtensionsClientOutputs{
		"prf": map[string]any{"results": map[string]any{"first": padded}},
	}); err != nil {
		t.Errorf("prfSecret(padded) error = %v", err)
	}

	for name, ext := range map[string]protocol.AuthenticationExtensionsClientOutputs{
		"no prf":        {},
		"no results":    {"prf": map[string]any{}},
		"empty first":   {"prf": map[string]any{"results": map[string]any{"first": ""}}},
		"wrong type":    {"prf": map[string]any{"results": map[string]any{"first": 42}}},
		"results wrong": {"prf": map[string]any{"results": "nope"}},
	} {
		if _, err := prfSecret(ext); !errors.Is(err, credential.ErrSecretMissing) {
			t.Errorf("%s: error = %v, want ErrSecretMissing", name, err)
		}
	}
}

func TestCeremonyStore(t *testing.T) {
	s := newCeremonyStore()
	defer s.Close()

	if _, _, ok := s.Get("missing"); ok {
		t.Error("Get() on empty store returned ok")
	}

	s.Set("tok", nil, "prompt-1")
	_, promptID, ok := s.Get("tok")
	if !ok || promptID != "prompt-1" {
		t.Errorf("Get() = %q, %v", promptID, ok)
	}

	s.Delete("tok")
	if _, _, ok := s.Get("tok"); ok {
		t.Error("Get() after Delete returned ok")
	}

	// Expired entries are invisible.
	s.Set("old", nil, "prompt-2")
	s.mu.Lock()
	s.sessions["old"].expiresAt = time.Now().Add(-time.Minute)
	s.mu.Unlock()
	if _, _, ok := s.Get("old"); ok {
		t.Error("expired session still visible")
	}
}
