package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
	"golang.org/x/oauth2"
)

const DefaultSessionTTL = 15 * time.Minute

// Session is the server side state behind a browser cookie.
type Session struct {
	ID string

	// set between /login and /callback
	State    string
	Verifier string

	Token     *oauth2.Token
	User      *domain.User
	ExpiresAt time.Time
}

// Authenticated reports whether the login flow completed.
func (s *Session) Authenticated() bool {
	return s.Token != nil && s.User != nil
}

// SessionStore keeps sessions in memory with a sliding expiry.
// Callers always get copies; changes go through Update.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store whose sessions expire ttl after their last update.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create starts an empty session.
func (s *SessionStore) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	return *sess
}

// Get returns the session if it exists and has not expired.
func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveLocked(id)
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Update applies fn to a live session and extends its expiry.
func (s *SessionStore) Update(id string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveLocked(id)
	if !ok {
		return false
	}
	fn(sess)
	sess.ExpiresAt = s.now().Add(s.ttl)
	return true
}

// Delete removes a session. Unknown ids are ignored.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sweep drops expired sessions and returns how many went.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (s *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.With(nil).WithCount(n).Debug(ctx, "Expired sessions swept")
			}
		}
	}
}

func (s *SessionStore) liveLocked(id string) (*Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

// TokenSource returns a source for the session's token that writes refreshed
// tokens back into the session.
func (s *SessionStore) TokenSource(id string, base oauth2.TokenSource) oauth2.TokenSource {
	return &sessionTokenSource{store: s, id: id, base: oauth2.ReuseTokenSource(nil, base)}
}

type sessionTokenSource struct {
	store *SessionStore
	id    string
	base  oauth2.TokenSource
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.base.Token()
	if err != nil {
		return nil, err
	}
	ts.store.mu.Lock()
	if sess, ok := ts.store.sessions[ts.id]; ok && sess.Token != nil && sess.Token.AccessToken != tok.AccessToken {
		sess.Token = tok
	}
	ts.store.mu.Unlock()
	return tok, nil
}
