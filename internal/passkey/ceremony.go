// ABOUTME: WebAuthn ceremony orchestration: begin/finish registration and assertion
// ABOUTME: Carries the PRF extension and extracts the hardware secret from its outputs

package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/Phathdt/facewallet/internal/credential"
	"github.com/Phathdt/facewallet/internal/store"
)

// rpUserID is the fixed user handle. The daemon serves one logical wallet
// user; distinct accounts come from distinct PINs, not distinct handles.
var rpUserID = []byte("facewallet")

// rpUser implements webauthn.User for the single local user.
type rpUser struct {
	name  string
	creds []webauthn.Credential
}

func (u *rpUser) WebAuthnID() []byte                         { return rpUserID }
func (u *rpUser) WebAuthnName() string                       { return u.name }
func (u *rpUser) WebAuthnDisplayName() string                { return u.name }
func (u *rpUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

// BeginResult carries ceremony options to the browser plus the token the
// finish call must echo back.
type BeginResult struct {
	// Options is the CredentialCreation or CredentialAssertion structure to
	// feed to navigator.credentials.
	Options any `json:"options"`

	// CeremonyToken links the finish call to this begin call.
	CeremonyToken string `json:"ceremony_token"`
}

// Begin builds the WebAuthn options for the pending prompt. The PRF
// extension carries the prompt's evaluation input as eval.first.
func (b *Broker) Begin(ctx context.Context, promptID string) (*BeginResult, error) {
	p, ok := b.current(promptID)
	if !ok {
		return nil, ErrNoPendingPrompt
	}

	ext := protocol.AuthenticationExtensions{
		"prf": map[string]any{
			"eval": map[string]any{
				"first": protocol.URLEncodedBase64(p.evalInput),
			},
		},
	}

	var (
		options any
		session *webauthn.SessionData
		err     error
	)
	switch p.kind {
	case PromptRegister:
		user := &rpUser{name: b.web.Config.RPDisplayName, creds: b.knownCredentials(ctx)}
		options, session, err = b.web.BeginRegistration(user,
			webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
				ResidentKey:      protocol.ResidentKeyRequirementRequired,
				UserVerification: protocol.VerificationRequired,
			}),
			webauthn.WithExtensions(ext),
		)
	case PromptAssert:
		options, session, err = b.web.BeginDiscoverableLogin(
			webauthn.WithUserVerification(protocol.VerificationRequired),
			webauthn.WithAssertionExtensions(ext),
		)
	default:
		return nil, fmt.Errorf("unknown prompt kind %q", p.kind)
	}
	if err != nil {
		return nil, fmt.Errorf("beginning %s ceremony: %w", p.kind, err)
	}

	token := uuid.NewString()
	b.ceremonies.Set(token, session, promptID)

	return &BeginResult{Options: options, CeremonyToken: token}, nil
}

// Finish consumes the browser's ceremony response, extracts the PRF output,
// and resolves the blocked capability call. The ceremony token must come
// from the matching Begin.
func (b *Broker) Finish(ctx context.Context, promptID, ceremonyToken string, response json.RawMessage) error {
	p, ok := b.current(promptID)
	if !ok {
		return ErrNoPendingPrompt
	}

	session, sessionPromptID, ok := b.ceremonies.Get(ceremonyToken)
	if !ok || sessionPromptID != promptID {
		return fmt.Errorf("invalid or expired ceremony token")
	}
	b.ceremonies.Delete(ceremonyToken)

	var (
		assertion *credential.Assertion
		err       error
	)
	switch p.kind {
	case PromptRegister:
		assertion, err = b.finishRegistration(ctx, p, session, response)
	case PromptAssert:
		assertion, err = b.finishAssertion(ctx, p, session, response)
	default:
		err = fmt.Errorf("unknown prompt kind %q", p.kind)
	}

	if err != nil {
		// A malformed response fails this HTTP call but leaves the prompt
		// pending: the UI may retry the ceremony.
		return err
	}

	b.resolve(p, promptOutcome{assertion: assertion})
	return nil
}

func (b *Broker) finishRegistration(ctx context.Context, p *pendingPrompt, session *webauthn.SessionData, response json.RawMessage) (*credential.Assertion, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("parsing registration response: %w", err)
	}

	user := &rpUser{name: b.web.Config.RPDisplayName, creds: b.knownCredentials(ctx)}
	cred, err := b.web.CreateCredential(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("verifying registration: %w", err)
	}

	secret, err := prfSecret(parsed.ClientExtensionResults)
	if err != nil {
		// The prompt is resolved fatally: this device registered a
		// credential but cannot evaluate the PRF, so deterministic
		// derivation is impossible here.
		b.resolveFatal(p, credential.ErrSecretMissing)
		return nil, credential.ErrSecretMissing
	}

	b.saveCredential(ctx, cred)
	b.logger.Info("passkey registered", "credential_id", formatCredentialID(cred.ID))
	return &credential.Assertion{CredentialID: cred.ID, Secret: secret}, nil
}

func (b *Broker) finishAssertion(ctx context.Context, p *pendingPrompt, session *webauthn.SessionData, response json.RawMessage) (*credential.Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("parsing assertion response: %w", err)
	}

	credentialID := []byte(parsed.RawID)

	// When the credential registered locally we have its public key and can
	// validate the assertion signature. A passkey synchronized from another
	// device is unknown here; its PRF output is accepted on the strength of
	// the derivation check downstream.
	if known, rec := b.lookupCredential(ctx, credentialID); known {
		user := &rpUser{name: b.web.Config.RPDisplayName, creds: b.knownCredentials(ctx)}
		validated, err := b.web.ValidateDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			if len(userHandle) > 0 && !bytes.Equal(userHandle, rpUserID) {
				return nil, errors.New("user handle mismatch")
			}
			return user, nil
		}, *session, parsed)
		if err != nil {
			return nil, fmt.Errorf("validating assertion: %w", err)
		}
		if err := b.creds.UpdateCredentialSignCount(ctx, rec.ID, validated.Authenticator.SignCount); err != nil {
			b.logger.Warn("failed to update sign count", "error", err)
		}
	}

	secret, err := prfSecret(parsed.ClientExtensionResults)
	if err != nil {
		b.resolveFatal(p, credential.ErrSecretMissing)
		return nil, credential.ErrSecretMissing
	}

	return &credential.Assertion{CredentialID: credentialID, Secret: secret}, nil
}

// resolveFatal resolves the given prompt with a fatal capability error. It
// takes the prompt the ceremony validated, not whatever happens to be
// pending, so a prompt swapped in meanwhile cannot receive another
// ceremony's failure.
func (b *Broker) resolveFatal(p *pendingPrompt, err error) {
	b.resolve(p, promptOutcome{err: err})
}

// knownCredentials loads registered credentials for exclusion and validation.
func (b *Broker) knownCredentials(ctx context.Context) []webauthn.Credential {
	if b.creds == nil {
		return nil
	}
	rows, err := b.creds.ListCredentials(ctx)
	if err != nil {
		b.logger.Warn("failed to list credentials", "error", err)
		return nil
	}
	out := make([]webauthn.Credential, 0, len(rows))
	for _, row := range rows {
		c := webauthn.Credential{
			ID:        row.CredentialID,
			PublicKey: row.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: row.SignCount,
			},
		}
		if row.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(row.Transports), &transports)
			c.Transport = transports
		}
		out = append(out, c)
	}
	return out
}

func (b *Broker) lookupCredential(ctx context.Context, credentialID []byte) (bool, *store.Credential) {
	if b.creds == nil {
		return false, nil
	}
	rec, err := b.creds.GetCredentialByCredentialID(ctx, credentialID)
	if err != nil {
		return false, nil
	}
	return true, rec
}

func (b *Broker) saveCredential(ctx context.Context, cred *webauthn.Credential) {
	if b.creds == nil {
		return
	}
	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		transportsJSON = []byte("[]")
	}
	err = b.creds.CreateCredential(ctx, &store.Credential{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		Transports:   string(transportsJSON),
		SignCount:    cred.Authenticator.SignCount,
	})
	if err != nil {
		b.logger.Warn("failed to store credential", "error", err)
	}
}

// prfSecret digs the PRF output out of the client extension results. The UI
// serializes ArrayBuffers as base64url strings.
func prfSecret(ext protocol.AuthenticationExtensionsClientOutputs) ([]byte, error) {
	prf, ok := ext["prf"].(map[string]any)
	if !ok {
		return nil, credential.ErrSecretMissing
	}
	results, ok := prf["results"].(map[string]any)
	if !ok {
		return nil, credential.ErrSecretMissing
	}
	first, ok := results["first"].(string)
	if !ok || first == "" {
		return nil, credential.ErrSecretMissing
	}

	secret, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(first, "="))
	if err != nil {
		return nil, fmt.Errorf("decoding prf output: %w", err)
	}
	if len(secret) == 0 {
		return nil, credential.ErrSecretMissing
	}
	return secret, nil
}

// formatCredentialID renders a credential ID for logs without dumping raw bytes.
func formatCredentialID(id []byte) string {
	enc := base64.RawURLEncoding.EncodeToString(id)
	if len(enc) > 12 {
		return enc[:12] + "..."
	}
	return enc
}
