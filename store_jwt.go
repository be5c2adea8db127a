package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenSessionStore is a SessionStore backed by a signed JWT. Local
// signing uses HS256; deployments that delegate signing to an identity
// provider can point the store at a JWK Set URL instead.
type TokenSessionStore struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	keyfunc    jwt.Keyfunc

	mu        sync.Mutex
	current   *SessionObject
	listeners map[int]func(Session)
	nextID    int
}

var _ SessionStore = (*TokenSessionStore)(nil)

// TokenStoreOption customizes a TokenSessionStore.
type TokenStoreOption func(*TokenSessionStore) error

// WithStoreIssuer pins the expected token issuer.
func WithStoreIssuer(issuer string) TokenStoreOption {
	return func(s *TokenSessionStore) error {
		s.issuer = issuer
		return nil
	}
}

// WithStoreAudience pins the expected token audience.
func WithStoreAudience(audience ...string) TokenStoreOption {
	return func(s *TokenSessionStore) error {
		s.audience = append(jwt.ClaimStrings{}, audience...)
		return nil
	}
}

// WithStoreLogger overrides the default logger.
func WithStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenSessionStore) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithJWKSEndpoint resolves verification keys from a JWK Set URL with
// background refresh, replacing the local HMAC key for verification.
func WithJWKSEndpoint(ctx context.Context, jwksURL string) TokenStoreOption {
	return func(s *TokenSessionStore) error {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx: ctx,
			RefreshErrorHandler: func(err error) {
				s.logger.Error("JWK Set refresh failed: %v", err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return errors.Wrap(err, errors.CategoryOperation, "failed to get JWK Set")
		}
		s.keyfunc = jwks.Keyfunc
		return nil
	}
}

// NewTokenSessionStore builds a store that signs and verifies with the
// given HMAC key unless a JWKS endpoint option replaces verification.
func NewTokenSessionStore(signingKey []byte, opts ...TokenStoreOption) (*TokenSessionStore, error) {
	s := &TokenSessionStore{
		signingKey: signingKey,
		logger:     defLogger{},
		listeners:  map[int]func(Session){},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.keyfunc == nil {
		s.keyfunc = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				s.logger.Error("unexpected signing method: %v", t.Header["alg"])
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		}
	}

	return s, nil
}

// IssueToken signs a session token for the given principal.
func (s *TokenSessionStore) IssueToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// SetSessionFromToken verifies a token string and installs the decoded
// session as current, notifying subscribers.
func (s *TokenSessionStore) SetSessionFromToken(ctx context.Context, tokenString string) (Session, error) {
	session, err := s.decode(tokenString)
	if err != nil {
		return nil, err
	}

	s.setCurrent(session)

	return session, nil
}

func (s *TokenSessionStore) decode(tokenString string) (*SessionObject, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, s.keyfunc, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, errors.Wrap(err, ErrUnableToDecodeSession.Category, ErrUnableToDecodeSession.Message).
			WithTextCode(ErrUnableToDecodeSession.TextCode)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		s.logger.Error("could not decode or validate session claims")
		return nil, ErrUnableToDecodeSession
	}

	return sessionFromClaims(claims)
}

// GetCurrentSession returns the installed session, if any.
func (s *TokenSessionStore) GetCurrentSession(ctx context.Context) (Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil {
		return nil, ErrNoSession
	}

	return current, nil
}

// SubscribeToAuthChanges registers a listener for session transitions.
// The returned Unsubscribe is safe to call more than once.
func (s *TokenSessionStore) SubscribeToAuthChanges(fn func(Session)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignOut clears the current session and notifies subscribers.
func (s *TokenSessionStore) SignOut(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.setCurrent(nil)

	return nil
}

func (s *TokenSessionStore) setCurrent(session *SessionObject) {
	s.mu.Lock()
	s.current = session
	listeners := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	// notify outside the lock
	var snapshot Session
	if session != nil {
		snapshot = session
	}
	for _, fn := range listeners {
		fn(snapshot)
	}
}
