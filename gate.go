package vault

import (
	"context"
	"sync"
	"time"
)

// AccessState is the gate's decision state. A gate starts in
// StateChecking and moves to exactly one terminal state per lifecycle.
type AccessState string

const (
	StateChecking        AccessState = "checking"
	StateGranted         AccessState = "granted"
	StateDeniedNoSession AccessState = "denied_no_session"
	StateDeniedNotMember AccessState = "denied_not_member"
)

// Terminal reports whether the state is a final decision.
func (s AccessState) Terminal() bool {
	return s == StateGranted || s == StateDeniedNoSession || s == StateDeniedNotMember
}

// Granted reports whether the state allows access to gated content.
func (s AccessState) Granted() bool {
	return s == StateGranted
}

// AccessGate composes the session resolver and membership checker into
// a single decision per lifecycle. Denials trigger at most one
// navigation side effect; a closed gate performs none.
type AccessGate struct {
	resolver   SessionResolver
	checker    MembershipChecker
	identities IdentityResolver
	navigator  Navigator
	logger     Logger
	sink       ActivitySink
	now        func() time.Time

	loginRoute  string
	deniedRoute string

	mu        sync.Mutex
	state     AccessState
	decided   bool
	navigated bool
	closed    bool
	unsub     Unsubscribe
}

// GateOption customizes an AccessGate.
type GateOption func(*AccessGate)

// WithLoginRoute sets the destination for session-less denials.
// Defaults to "/login".
func WithLoginRoute(route string) GateOption {
	return func(g *AccessGate) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithDeniedMemberRoute sets the destination for authenticated users
// without an active membership, e.g. a checkout or upgrade page.
// Defaults to the login route.
func WithDeniedMemberRoute(route string) GateOption {
	return func(g *AccessGate) {
		if route != "" {
			g.deniedRoute = route
		}
	}
}

// WithGateLogger overrides the default logger.
func WithGateLogger(logger Logger) GateOption {
	return func(g *AccessGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGateActivitySink sets the sink that receives grant/deny events.
func WithGateActivitySink(sink ActivitySink) GateOption {
	return func(g *AccessGate) {
		g.sink = normalizeActivitySink(sink)
	}
}

// WithGateClock overrides the gate's time source, mostly for tests.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *AccessGate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIdentityResolver overrides how the gate derives an Identity from
// the session. The default reads it off the session claims.
func WithIdentityResolver(resolver IdentityResolver) GateOption {
	return func(g *AccessGate) {
		if resolver != nil {
			g.identities = resolver
		}
	}
}

// NewAccessGate builds a gate over the given collaborators. The
// navigator may be nil, in which case denials only surface through the
// returned state and the activity sink.
func NewAccessGate(resolver SessionResolver, checker MembershipChecker, navigator Navigator, opts ...GateOption) *AccessGate {
	g := &AccessGate{
		resolver:   resolver,
		checker:    checker,
		identities: claimsIdentityResolver{},
		navigator:  navigator,
		logger:     defLogger{},
		sink:       noopActivitySink{},
		now:        time.Now,
		loginRoute: "/login",
		state:      StateChecking,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if g.deniedRoute == "" {
		g.deniedRoute = g.loginRoute
	}

	return g
}

// State returns the gate's current decision state.
func (g *AccessGate) State() AccessState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Check runs the access decision. The first call settles the state and
// performs the denial navigation, if any; later calls return the
// settled state without re-deciding or re-navigating. Lookup failures
// settle to StateDeniedNoSession rather than surfacing; the mount is
// never left checking. A gate closed before or during the check stays
// in StateChecking and performs no side effects.
func (g *AccessGate) Check(ctx context.Context) (AccessState, error) {
	g.mu.Lock()
	if g.closed {
		state := g.state
		g.mu.Unlock()
		return state, nil
	}
	if g.decided {
		state := g.state
		g.mu.Unlock()
		return state, nil
	}
	g.mu.Unlock()

	session, err := g.resolver.Current(ctx)
	if err != nil && !IsSessionExpiredError(err) && !IsNoSessionError(err) && !IsMalformedError(err) {
		// lookup failures are a definitive negative for this mount,
		// never a hung checking state
		g.logger.Error("session resolution failed: %v", err)
		return g.settle(ctx, StateDeniedNoSession, nil, g.loginRoute), nil
	}

	if session == nil || SessionExpired(session, g.now()) {
		return g.settle(ctx, StateDeniedNoSession, nil, g.loginRoute), nil
	}

	identity, err := g.identities.IdentityFromSession(ctx, session)
	if err != nil || identity == nil {
		return g.settle(ctx, StateDeniedNoSession, nil, g.loginRoute), nil
	}

	if !g.checker.IsActiveMember(ctx, identity) {
		return g.settle(ctx, StateDeniedNotMember, identity, g.deniedRoute), nil
	}

	return g.settle(ctx, StateGranted, identity, ""), nil
}

// WatchSignOut subscribes the gate to session transitions so a granted
// gate downgrades to StateDeniedNoSession when the session ends. The
// registration is released by Close.
func (g *AccessGate) WatchSignOut(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.unsub != nil {
		return
	}

	g.unsub = g.resolver.Subscribe(func(s Session) {
		if s != nil {
			return
		}

		g.mu.Lock()
		defer g.mu.Unlock()

		if g.closed || g.state != StateGranted {
			return
		}
		g.state = StateDeniedNoSession
	})
}

// Close tears the gate down. After Close the gate never mutates state
// or issues navigation, even if a decision was in flight.
func (g *AccessGate) Close() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.closed = true
	g.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// settle records the decision and performs the one-shot navigation.
// Returns the state actually stored, which may differ if another
// caller or Close raced us.
func (g *AccessGate) settle(ctx context.Context, state AccessState, identity Identity, route string) AccessState {
	g.mu.Lock()
	if g.closed {
		state := g.state
		g.mu.Unlock()
		return state
	}
	if g.decided {
		state := g.state
		g.mu.Unlock()
		return state
	}

	g.state = state
	g.decided = true

	navigate := route != "" && !g.navigated && g.navigator != nil
	if navigate {
		g.navigated = true
	}
	g.mu.Unlock()

	g.recordDecision(ctx, state, identity)

	if navigate {
		if err := g.navigator.Redirect(route); err != nil {
			g.logger.Warn("redirect to %s failed: %v", route, err)
		}
	}

	return state
}

func (g *AccessGate) recordDecision(ctx context.Context, state AccessState, identity Identity) {
	event := ActivityEvent{
		EventType: ActivityEventAccessDenied,
		Metadata: map[string]any{
			"state": string(state),
		},
	}

	if state == StateGranted {
		event.EventType = ActivityEventAccessGranted
	}

	if identity != nil {
		event.UserID = identity.ID()
		event.Metadata["email"] = identity.Email()
	}

	recordActivity(ctx, g.sink, g.logger, event)
}
