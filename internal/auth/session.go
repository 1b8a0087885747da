package auth

import (
	"strconv"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// sessionClaims is the subset of the backend token this service reads.
type sessionClaims struct {
	UserID *int64 `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Session holds the backend token used for fetches and the live feed. The
// token is issued by the backend; only its expiry and identity claims are
// read here, the signature is not checked.
type Session struct {
	mu     sync.RWMutex
	token  string
	now    func() time.Time
	parser *jwt.Parser
}

// NewSession wraps a backend token. An empty token is an anonymous session.
func NewSession(token string, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{token: token, now: now, parser: jwt.NewParser()}
}

// SetToken replaces the backend token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the raw token, or "" when the session is not authenticated.
func (s *Session) Token() string {
	if !s.IsAuthenticated() {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is present and unexpired. Tokens
// without an exp claim never expire.
func (s *Session) IsAuthenticated() bool {
	claims, ok := s.claims()
	if !ok {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.After(s.now())
}

// CurrentUser returns the identity carried by the token.
func (s *Session) CurrentUser() (domain.UserRef, bool) {
	if !s.IsAuthenticated() {
		return domain.UserRef{}, false
	}
	claims, _ := s.claims()
	user := domain.UserRef{Name: claims.Name, Email: claims.Email}
	switch {
	case claims.UserID != nil:
		user.ID = *claims.UserID
	case claims.Subject != "":
		if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			user.ID = id
		}
	}
	return user, true
}

func (s *Session) claims() (*sessionClaims, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return nil, false
	}
	claims := &sessionClaims{}
	if _, _, err := s.parser.ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}
