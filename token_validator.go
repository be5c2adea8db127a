package vault

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
)

// TokenValidation is the outcome of a signup token check. Invalid
// outcomes carry the wire code in Error; Email is set only when the
// token is redeemable.
type TokenValidation struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
	Error string `json:"error,omitempty"`
}

// TokenValidator checks single-use signup tokens against their
// lifecycle: existence, consumption, expiry, in that order.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*TokenValidation, error)
}

type tokenValidator struct {
	tokens SignupTokens
	logger Logger
	sink   ActivitySink
	now    func() time.Time
}

// TokenValidatorOption customizes the validator.
type TokenValidatorOption func(*tokenValidator)

// WithValidatorLogger overrides the default logger.
func WithValidatorLogger(logger Logger) TokenValidatorOption {
	return func(v *tokenValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithValidatorActivitySink sets the sink receiving validation events.
func WithValidatorActivitySink(sink ActivitySink) TokenValidatorOption {
	return func(v *tokenValidator) {
		v.sink = normalizeActivitySink(sink)
	}
}

// WithValidatorClock overrides the expiry time source, mostly for tests.
func WithValidatorClock(now func() time.Time) TokenValidatorOption {
	return func(v *tokenValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewTokenValidator builds a validator over the signup token store.
func NewTokenValidator(tokens SignupTokens, opts ...TokenValidatorOption) TokenValidator {
	v := &tokenValidator{
		tokens: tokens,
		logger: defLogger{},
		sink:   noopActivitySink{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// ValidateToken resolves a token to a verdict. An empty or blank
// token is a caller error and returns ErrTokenRequired with no
// lookup. Every other path yields a verdict, never an error: unknown
// tokens and storage failures produce the same invalid verdict so the
// endpoint cannot be probed for which tokens exist.
func (v *tokenValidator) ValidateToken(ctx context.Context, token string) (*TokenValidation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenRequired
	}

	record, err := v.tokens.FindByToken(ctx, token)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			v.logger.Error("token lookup failed: %v", err)
		}
		return v.reject(ctx, CodeTokenInvalid, ""), nil
	}

	if record.Used {
		return v.reject(ctx, CodeTokenUsed, record.Email), nil
	}

	if record.Expired(v.now()) {
		return v.reject(ctx, CodeTokenExpired, record.Email), nil
	}

	recordActivity(ctx, v.sink, v.logger, ActivityEvent{
		EventType: ActivityEventTokenValidated,
		Metadata: map[string]any{
			"email": record.Email,
		},
	})

	return &TokenValidation{Valid: true, Email: record.Email}, nil
}

func (v *tokenValidator) reject(ctx context.Context, code, email string) *TokenValidation {
	meta := map[string]any{
		"code": code,
	}
	if email != "" {
		meta["email"] = email
	}

	recordActivity(ctx, v.sink, v.logger, ActivityEvent{
		EventType: ActivityEventTokenRejected,
		Metadata:  meta,
	})

	return &TokenValidation{Valid: false, Error: code}
}
