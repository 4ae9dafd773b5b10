// ABOUTME: In-memory store for in-progress WebAuthn ceremony session data
// ABOUTME: Entries expire on a short TTL and are swept by a cleanup goroutine

package passkey

import (
	"context"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// ceremonyTTL bounds how long a begun ceremony may wait for its finish call.
const ceremonyTTL = 5 * time.Minute

// ceremonyData stores WebAuthn session data for an in-progress ceremony.
type ceremonyData struct {
	session   *webauthn.SessionData
	promptID  string
	expiresAt time.Time
}

// ceremonyStore is a simple in-memory session store for WebAuthn challenges.
type ceremonyStore struct {
	mu       sync.RWMutex
	sessions map[string]*ceremonyData // keyed by ceremony token
	cancel   context.CancelFunc
}

func newCeremonyStore() *ceremonyStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ceremonyStore{
		sessions: make(map[string]*ceremonyData),
		cancel:   cancel,
	}
	go s.cleanupLoop(ctx)
	return s
}

// Close stops the cleanup goroutine.
func (s *ceremonyStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ceremonyStore) Set(token string, session *webauthn.SessionData, promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = &ceremonyData{
		session:   session,
		promptID:  promptID,
		expiresAt: time.Now().Add(ceremonyTTL),
	}
}

func (s *ceremonyStore) Get(token string) (*webauthn.SessionData, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[token]
	if !ok || time.Now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.promptID, true
}

func (s *ceremonyStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *ceremonyStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.sessions {
				if now.After(v.expiresAt) {
					delete(s.sessions, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
