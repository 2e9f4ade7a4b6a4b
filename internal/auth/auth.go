// Package auth manages operator sessions. The guild membership check happens
// once at sign-in; a session token is all that's verified per request.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidSession is returned for a missing, unknown, or expired
	// session token
	ErrInvalidSession = errors.New("invalid or expired session")
	// ErrNotGuildMember is returned at sign-in when the account isn't in
	// the designated guild
	ErrNotGuildMember = errors.New("account is not a member of the required guild")
)

// A Verifier performs the identity provider's side of sign-in. Implemented
// by the discord client; faked in tests.
type Verifier interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	Identify(ctx context.Context, accessToken string) (id, username string, err error)
	MemberOfGuild(ctx context.Context, accessToken, guildID string) (bool, error)
}

// Session represents an authenticated operator
type Session struct {
	Token     string
	UserID    string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Config holds configuration for the auth service
type Config struct {
	// GuildID is the designated community an account must belong to
	GuildID string
	// SessionDuration is how long a session stays valid
	SessionDuration time.Duration
}

// Service issues and validates sessions
type Service struct {
	verifier Verifier
	cfg      Config

	mu       sync.RWMutex
	sessions map[string]*Session

	// Swappable for tests
	now func() time.Time
}

// New creates a Service backed by the given verifier
func New(v Verifier, cfg Config) *Service {
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = 24 * time.Hour
	}
	return &Service{
		verifier: v,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// LoginURL returns the provider authorize URL and the state value the
// handler should pin in a cookie for the callback
func (s *Service) LoginURL() (string, string) {
	state := generateToken("st_")
	return s.verifier.AuthURL(state), state
}

// CompleteLogin finishes the OAuth flow: exchanges the code, checks guild
// membership, and issues a session. This is the only place the membership
// check runs.
func (s *Service) CompleteLogin(ctx context.Context, code string) (*Session, error) {
	accessToken, err := s.verifier.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("error exchanging code: %w", err)
	}

	member, err := s.verifier.MemberOfGuild(ctx, accessToken, s.cfg.GuildID)
	if err != nil {
		return nil, fmt.Errorf("error checking guild membership: %w", err)
	}
	if !member {
		return nil, ErrNotGuildMember
	}

	id, username, err := s.verifier.Identify(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("error identifying account: %w", err)
	}

	now := s.now()
	session := &Session{
		Token:     generateToken("sess_"),
		UserID:    id,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionDuration),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	return session, nil
}

// ValidateSession checks a token and returns its session
func (s *Service) ValidateSession(token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidSession
	}

	if s.now().After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return nil, ErrInvalidSession
	}

	return session, nil
}

// InvalidateSession removes a session
func (s *Service) InvalidateSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func generateToken(prefix string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return prefix + base64.RawURLEncoding.EncodeToString(b)
}
