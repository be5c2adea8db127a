package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject holds attributes that are part of a vault session
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Email          string         `json:"email,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetEmail() string {
	return s.Email
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetExpiration() *time.Time {
	return s.ExpirationDate
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// Expired reports whether the session expiry is strictly in the past.
func (s *SessionObject) Expired(at time.Time) bool {
	return s.ExpirationDate != nil && s.ExpirationDate.Before(at)
}

// TODO: enable only in development!
func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s email=%s iss=%s iat=%s",
		s.UserID,
		s.Email,
		s.Issuer,
		issuedAt,
	)
}

// SessionExpired applies the Session invariant: a session with an
// expiry strictly before `at` must never be treated as valid,
// regardless of its presence in local state.
func SessionExpired(s Session, at time.Time) bool {
	if s == nil {
		return true
	}
	exp := s.GetExpiration()
	return exp != nil && exp.Before(at)
}

// sessionClaims is the JWT shape the session store issues and parses.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string         `json:"email,omitempty"`
	Data  map[string]any `json:"dat,omitempty"`
}

func sessionFromClaims(claims *sessionClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToDecodeSession
	}

	session := &SessionObject{
		UserID: claims.Subject,
		Email:  claims.Email,
		Issuer: claims.Issuer,
		Data:   claims.Data,
	}

	if claims.Audience != nil {
		session.Audience = append(session.Audience, claims.Audience...)
	}

	if claims.IssuedAt != nil {
		iat := claims.IssuedAt.Time
		session.IssuedAt = &iat
	}

	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		session.ExpirationDate = &exp
	}

	return session, nil
}

// sessionIdentity derives the Identity straight from session claims.
type sessionIdentity struct {
	id    string
	email string
}

func (s sessionIdentity) ID() string {
	return s.id
}

func (s sessionIdentity) Email() string {
	return s.email
}

var _ Identity = sessionIdentity{}

// claimsIdentityResolver is the default IdentityResolver: no lookup,
// the session claims are the identity.
type claimsIdentityResolver struct{}

func (claimsIdentityResolver) IdentityFromSession(_ context.Context, session Session) (Identity, error) {
	if session == nil {
		return nil, ErrNoSession
	}

	id := sessionIdentity{
		id:    session.GetUserID(),
		email: session.GetEmail(),
	}

	if id.id == "" && id.email == "" {
		return nil, ErrNoSession
	}

	return id, nil
}
