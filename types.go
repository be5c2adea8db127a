package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds the attributes of a live authenticated context.
// The gate only ever holds a transient, non-owning reference; the
// session store remains the single writer.
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetEmail() string
	GetIssuedAt() *time.Time
	GetExpiration() *time.Time
	GetData() map[string]any
}

// Identity is the authenticated principal, distinct from its
// profile/display data.
type Identity interface {
	ID() string
	Email() string
}

// Unsubscribe cancels a change registration. Implementations must be
// safe to invoke more than once.
type Unsubscribe func()

// SessionStore is the authentication provider collaborator. It owns
// credential storage and is the only component allowed to mutate it.
type SessionStore interface {
	GetCurrentSession(ctx context.Context) (Session, error)
	SubscribeToAuthChanges(fn func(Session)) Unsubscribe
	SignOut(ctx context.Context) error
}

// SessionResolver exposes the current session and a subscription to
// future transitions. The change registration is installed before any
// initial read is issued, so a transition landing between the two is
// never missed.
type SessionResolver interface {
	Current(ctx context.Context) (Session, error)
	Subscribe(fn func(Session)) Unsubscribe
}

// MembershipChecker answers whether an identity currently holds active
// paid/approved status. It fails soft: lookup errors resolve to false.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, identity Identity) bool
}

// MembershipSource is the record-source strategy behind a
// MembershipChecker. Absent records return (false, nil); only
// transport/storage failures return an error.
type MembershipSource interface {
	Lookup(ctx context.Context, identity Identity) (bool, error)
}

// IdentityResolver derives the Identity backing a session. The default
// implementation reads it straight off the session claims; database
// backed deployments can swap in a repository lookup.
type IdentityResolver interface {
	IdentityFromSession(ctx context.Context, session Session) (Identity, error)
}

// Navigator is the navigation collaborator used for post-decision side
// effects. The gate never retries a redirect.
type Navigator interface {
	Redirect(path string) error
}

// NavigatorFunc adapts a function into a Navigator.
type NavigatorFunc func(path string) error

func (f NavigatorFunc) Redirect(path string) error {
	if f == nil {
		return nil
	}
	return f(path)
}

// Mailer hands off invite/login links for delivery. Delivery mechanics
// live outside this package, so the default is a no-op.
type Mailer interface {
	SendVaultAccess(ctx context.Context, email, loginURL string) error
}

type noopMailer struct{}

func (noopMailer) SendVaultAccess(context.Context, string, string) error { return nil }

// Config holds vault options
type Config interface {
	GetSigningKey() string
	GetSessionCookieName() string
	GetIssuer() string
	GetAudience() []string
	GetSiteURL() string
	GetLoginRoute() string
	GetCheckoutRoute() string
	GetWebhookSecret() string
	GetTokenTTL() time.Duration
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] VAULT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] VAULT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] VAULT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] VAULT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
