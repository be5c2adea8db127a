package vault

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// SessionKey is the request-local key holding the granted Session.
const SessionKey = "vault_session"

// CORS surface for the token validation endpoint. The endpoint is
// called from browser contexts on other origins, so it answers
// preflight and mirrors these on every response.
const (
	corsAllowOrigin  = "*"
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
)

// CORSMiddleware applies the permissive CORS policy and short-circuits
// preflight requests with an empty response.
func CORSMiddleware() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ctx.SetHeader("Access-Control-Allow-Origin", corsAllowOrigin)
			ctx.SetHeader("Access-Control-Allow-Headers", corsAllowHeaders)

			if ctx.Method() == "OPTIONS" {
				return ctx.Status(router.StatusNoContent).SendString("")
			}

			return ctx.Next()
		}
	}
}

// ResolverFactory builds the per-request SessionResolver the gate
// middleware decides against. Each request gets its own gate, so a
// decision never leaks between requests.
type ResolverFactory func(ctx router.Context) (SessionResolver, error)

// staticResolver serves a session already resolved at request time.
type staticResolver struct {
	session Session
}

func (r staticResolver) Current(ctx context.Context) (Session, error) {
	if r.session == nil {
		return nil, ErrNoSession
	}
	return r.session, nil
}

func (r staticResolver) Subscribe(fn func(Session)) Unsubscribe {
	return func() {}
}

// CookieResolverFactory decodes the session token from the named
// cookie. A missing or undecodable cookie resolves to no session
// rather than an error.
func CookieResolverFactory(store *TokenSessionStore, cookieName string, logger Logger) ResolverFactory {
	if logger == nil {
		logger = defLogger{}
	}

	return func(ctx router.Context) (SessionResolver, error) {
		token := ctx.Cookies(cookieName)
		if token == "" {
			return staticResolver{}, nil
		}

		session, err := store.decode(token)
		if err != nil {
			if !IsSessionExpiredError(err) {
				logger.Debug("session cookie decode failed: %v", err)
			}
			return staticResolver{}, nil
		}

		return staticResolver{session: session}, nil
	}
}

// StoreResolverFactory resolves against a shared session store, using
// the full subscribe-then-read resolver so in-flight auth transitions
// are observed.
func StoreResolverFactory(store SessionStore, opts ...ResolverOption) ResolverFactory {
	return func(ctx router.Context) (SessionResolver, error) {
		return NewSessionResolver(store, opts...), nil
	}
}

// routerNavigator adapts a request context into the gate's Navigator.
type routerNavigator struct {
	ctx router.Context
}

func (n routerNavigator) Redirect(path string) error {
	return n.ctx.Redirect(path, router.StatusFound)
}

// RequireMember gates a route on an active membership. Each request
// runs one access decision; denials redirect via the gate's routes and
// grants continue down the chain.
func RequireMember(factory ResolverFactory, checker MembershipChecker, opts ...GateOption) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			resolver, err := factory(ctx)
			if err != nil {
				return errors.Wrap(err, errors.CategoryInternal, "failed to resolve session")
			}

			gate := NewAccessGate(resolver, checker, routerNavigator{ctx: ctx}, opts...)
			defer gate.Close()

			state, err := gate.Check(ctx.Context())
			if err != nil {
				return ctx.Status(router.StatusInternalServerError).SendString(AccessDeniedMessage)
			}

			if !state.Granted() {
				// the gate already issued the redirect
				return nil
			}

			if session, err := resolver.Current(ctx.Context()); err == nil && session != nil {
				ctx.Locals(SessionKey, session)
			}

			return ctx.Next()
		}
	}
}
