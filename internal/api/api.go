// ABOUTME: Localhost JSON API exposing authenticate, sign, logout, and ceremony endpoints
// ABOUTME: Maps the session and credential error taxonomy onto HTTP responses

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Phathdt/facewallet/internal/auth"
	"github.com/Phathdt/facewallet/internal/binding"
	"github.com/Phathdt/facewallet/internal/credential"
	"github.com/Phathdt/facewallet/internal/passkey"
	"github.com/Phathdt/facewallet/internal/session"
)

// Error codes surfaced to the UI. Recoverable codes invite a retry;
// fatal:true in the response means this device cannot sign at all.
const (
	codeInvalidPIN        = "invalid_pin"
	codeInvalidAddress    = "invalid_address"
	codeUserCancelled     = "user_cancelled"
	codeNotAuthenticated  = "not_authenticated"
	codeAccountMismatch   = "account_mismatch"
	codeBindingChanged    = "binding_changed"
	codeCapabilityFailure = "capability_unavailable"
	codeInternal          = "internal"
)

// Server wires the HTTP surface to the session manager and the passkey broker.
type Server struct {
	sessions      *session.Manager
	broker        *passkey.Broker
	addrs         *binding.Binding
	verifier      *auth.JWTVerifier
	tokenTTL      time.Duration
	promptTimeout time.Duration
	logger        *slog.Logger

	// fatal flips when the platform proves unable to participate in
	// deterministic derivation; the authenticate path stays disabled for
	// the rest of the process lifetime.
	fatalMu sync.Mutex
	fatal   bool
}

// New creates the API server.
func New(sessions *session.Manager, broker *passkey.Broker, addrs *binding.Binding, verifier *auth.JWTVerifier, tokenTTL, promptTimeout time.Duration) *Server {
	return &Server{
		sessions:      sessions,
		broker:        broker,
		addrs:         addrs,
		verifier:      verifier,
		tokenTTL:      tokenTTL,
		promptTimeout: promptTimeout,
		logger:        slog.Default().With("component", "api"),
	}
}

// Routes registers all handlers on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /api/session/sign", s.requireToken(s.handleSign))
	mux.HandleFunc("POST /api/session/logout", s.requireToken(s.handleLogout))
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/binding", s.handleBinding)
	mux.HandleFunc("GET /api/passkey/pending", s.handlePasskeyPending)
	mux.HandleFunc("POST /api/passkey/begin", s.handlePasskeyBegin)
	mux.HandleFunc("POST /api/passkey/finish", s.handlePasskeyFinish)
	mux.HandleFunc("POST /api/passkey/cancel", s.handlePasskeyCancel)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Fatal bool   `json:"fatal,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, fatal bool) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, Fatal: fatal})
}

// handleAuthenticate runs the full authentication flow. The call blocks
// while the ceremony round-trip is in flight, up to the prompt timeout.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if s.isFatal() {
		writeError(w, http.StatusServiceUnavailable, codeCapabilityFailure,
			"this device cannot be used for signing", true)
		return
	}

	var req struct {
		Address string `json:"address"`
		PIN     string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}

	if req.Address != "" {
		if err := s.addrs.SetManual(req.Address); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidAddress, "invalid address", false)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.promptTimeout)
	defer cancel()

	acct, err := s.sessions.Authenticate(ctx, req.PIN)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	token, err := s.verifier.Generate(acct.Address().Hex(), s.tokenTTL)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to issue token", false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address": acct.Address().Hex(),
		"token":   token,
	})
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidPIN):
		writeError(w, http.StatusBadRequest, codeInvalidPIN, err.Error(), false)
	case errors.Is(err, credential.ErrUserCancelled):
		writeError(w, http.StatusRequestTimeout, codeUserCancelled, "prompt cancelled or timed out", false)
	case errors.Is(err, session.ErrAccountMismatch):
		writeError(w, http.StatusConflict, codeAccountMismatch, err.Error(), false)
	case errors.Is(err, session.ErrBindingChanged):
		writeError(w, http.StatusConflict, codeBindingChanged, err.Error(), false)
	case errors.Is(err, credential.ErrCapabilityUnavailable),
		errors.Is(err, credential.ErrSecretMissing):
		s.markFatal()
		writeError(w, http.StatusServiceUnavailable, codeCapabilityFailure,
			"this device cannot be used for signing", true)
	default:
		s.logger.Error("authentication failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "authentication failed", false)
	}
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}

	sig, err := s.sessions.Sign(req.Message)
	if err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, codeNotAuthenticated, err.Error(), false)
			return
		}
		s.logger.Error("signing failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "signing failed", false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"signature": sig.Hex()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"authenticated": s.sessions.IsAuthenticated(),
		"fatal":         s.isFatal(),
	}
	if addr, ok := s.sessions.Address(); ok {
		resp["address"] = addr.Hex()
	}
	if bound, ok := s.addrs.Active(); ok {
		resp["bound_address"] = bound.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}
	if err := s.addrs.SetManual(req.Address); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidAddress, "invalid address", false)
		return
	}
	addr, _ := s.addrs.Active()
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex()})
}

func (s *Server) handlePasskeyPending(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.broker.Pending()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": true, "prompt": prompt})
}

func (s *Server) handlePasskeyBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}
	res, err := s.broker.Begin(r.Context(), req.PromptID)
	if err != nil {
		if errors.Is(err, passkey.ErrNoPendingPrompt) {
			writeError(w, http.StatusNotFound, codeInternal, "no pending prompt", false)
			return
		}
		s.logger.Error("failed to begin ceremony", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to begin ceremony", false)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePasskeyFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptID      string          `json:"prompt_id"`
		CeremonyToken string          `json:"ceremony_token"`
		Response      json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}
	if err := s.broker.Finish(r.Context(), req.PromptID, req.CeremonyToken, req.Response); err != nil {
		if errors.Is(err, passkey.ErrNoPendingPrompt) {
			writeError(w, http.StatusNotFound, codeInternal, "no pending prompt", false)
			return
		}
		s.logger.Error("ceremony finish failed", "error", err)
		writeError(w, http.StatusBadRequest, codeInternal, "ceremony verification failed", false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePasskeyCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptID string `json:"prompt_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInternal, "invalid request body", false)
		return
	}
	if err := s.broker.Cancel(req.PromptID, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, codeInternal, "no pending prompt", false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireToken wraps a handler with bearer-token verification. The token
// gates the HTTP surface only; key custody lives entirely in the session.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			writeError(w, http.StatusUnauthorized, codeNotAuthenticated, errMsg, false)
			return
		}
		if _, err := s.verifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, codeNotAuthenticated, "invalid token", false)
			return
		}
		next(w, r)
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func (s *Server) isFatal() bool {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

func (s *Server) markFatal() {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	s.fatal = true
}
