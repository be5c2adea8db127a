package vault

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// Gatekeeper assembles the session store, membership checker, and
// protection middleware from a single Config. It is the wiring most
// applications want: build one per process and mount Protected() on
// the member-only route groups.
type Gatekeeper struct {
	cfg     Config
	store   *TokenSessionStore
	checker MembershipChecker
	logger  Logger
	sink    ActivitySink
}

// GatekeeperOption customizes the gatekeeper assembly.
type GatekeeperOption func(*Gatekeeper)

// WithGatekeeperLogger overrides the default logger. The logger is
// shared with the store and checker the gatekeeper builds.
func WithGatekeeperLogger(logger Logger) GatekeeperOption {
	return func(g *Gatekeeper) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatekeeperActivitySink sets the sink receiving membership and
// access decision events.
func WithGatekeeperActivitySink(sink ActivitySink) GatekeeperOption {
	return func(g *Gatekeeper) {
		g.sink = normalizeActivitySink(sink)
	}
}

// WithGatekeeperChecker replaces the repository backed membership
// checker, e.g. with one over NewPaidCustomersSource.
func WithGatekeeperChecker(checker MembershipChecker) GatekeeperOption {
	return func(g *Gatekeeper) {
		if checker != nil {
			g.checker = checker
		}
	}
}

// NewGatekeeper builds the vault access wiring from cfg: a JWT session
// store keyed by the configured signing key, issuer, and audience, and
// a membership checker over the repository's memberships. repo may be
// nil when WithGatekeeperChecker supplies the checker.
func NewGatekeeper(repo RepositoryManager, cfg Config, opts ...GatekeeperOption) (*Gatekeeper, error) {
	if cfg == nil {
		return nil, errors.New("gatekeeper requires a config", errors.CategoryBadInput).
			WithTextCode("CONFIG_REQUIRED")
	}

	if cfg.GetSigningKey() == "" {
		return nil, errors.New("gatekeeper requires a signing key", errors.CategoryBadInput).
			WithTextCode("SIGNING_KEY_REQUIRED")
	}

	g := &Gatekeeper{
		cfg:    cfg,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	storeOpts := []TokenStoreOption{WithStoreLogger(g.logger)}
	if issuer := cfg.GetIssuer(); issuer != "" {
		storeOpts = append(storeOpts, WithStoreIssuer(issuer))
	}
	if audience := cfg.GetAudience(); len(audience) > 0 {
		storeOpts = append(storeOpts, WithStoreAudience(audience...))
	}

	store, err := NewTokenSessionStore([]byte(cfg.GetSigningKey()), storeOpts...)
	if err != nil {
		return nil, err
	}
	g.store = store

	if g.checker == nil {
		if repo == nil {
			return nil, errors.New("gatekeeper requires a repository manager or an explicit checker", errors.CategoryBadInput).
				WithTextCode("CHECKER_REQUIRED")
		}
		g.checker = NewMembershipChecker(
			NewMembershipsSource(repo.Memberships()),
			WithCheckerLogger(g.logger),
			WithCheckerActivitySink(g.sink),
		)
	}

	return g, nil
}

// Store returns the session store, for issuing tokens and wiring
// sign-out flows.
func (g *Gatekeeper) Store() *TokenSessionStore {
	return g.store
}

// Checker returns the membership checker behind Protected().
func (g *Gatekeeper) Checker() MembershipChecker {
	return g.checker
}

// Protected returns middleware gating routes on an active membership.
// Sessions resolve from the configured cookie; denials redirect to the
// configured login and checkout routes. Extra GateOptions are applied
// after the config derived ones.
func (g *Gatekeeper) Protected(opts ...GateOption) router.MiddlewareFunc {
	gateOpts := []GateOption{
		WithGateLogger(g.logger),
		WithGateActivitySink(g.sink),
	}
	if route := g.cfg.GetLoginRoute(); route != "" {
		gateOpts = append(gateOpts, WithLoginRoute(route))
	}
	if route := g.cfg.GetCheckoutRoute(); route != "" {
		gateOpts = append(gateOpts, WithDeniedMemberRoute(route))
	}
	gateOpts = append(gateOpts, opts...)

	factory := CookieResolverFactory(g.store, g.cfg.GetSessionCookieName(), g.logger)

	return RequireMember(factory, g.checker, gateOpts...)
}
