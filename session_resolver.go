package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// DefaultHydrationGrace is how long a nil initial read is allowed to
// settle before we trust it. Local session state may still be loading
// from storage when the first read lands; a change event arriving
// inside the grace window wins over the premature nil.
var DefaultHydrationGrace = 100 * time.Millisecond

// Resolver is the single query path for "is there a session". It
// installs its change listener on the store before issuing any read,
// so a transition occurring between registration and the initial read
// is never missed.
type Resolver struct {
	store  SessionStore
	logger Logger
	grace  time.Duration
	now    func() time.Time

	mu        sync.Mutex
	current   Session
	settled   bool
	lastSeen  string
	listeners map[int]func(Session)
	nextID    int

	hydrated    chan struct{}
	hydrateOnce sync.Once
	cancelStore Unsubscribe
}

// ResolverOption customizes Resolver construction.
type ResolverOption func(*Resolver)

// WithResolverLogger overrides the default logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHydrationGrace overrides the settle window for nil initial reads.
func WithHydrationGrace(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithResolverClock injects a custom clock (useful for tests).
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewSessionResolver wires a Resolver to the injected session store.
// There is exactly one store per process; construct the resolver once
// at composition time and share it.
func NewSessionResolver(store SessionStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:     store,
		logger:    defLogger{},
		grace:     DefaultHydrationGrace,
		now:       time.Now,
		listeners: map[int]func(Session){},
		hydrated:  make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	// Listener goes in before any read leaves; see type doc.
	r.cancelStore = store.SubscribeToAuthChanges(r.onAuthChange)

	return r
}

// Current returns the point-in-time session, nil when there is none.
// The first call performs the initial store read and, when that read
// comes back empty, waits out the hydration grace window before
// trusting the nil. Later calls are cheap snapshot reads.
func (r *Resolver) Current(ctx context.Context) (Session, error) {
	r.mu.Lock()
	if r.settled {
		s := r.current
		r.mu.Unlock()
		return r.live(s), nil
	}
	r.mu.Unlock()

	session, err := r.store.GetCurrentSession(ctx)
	if err != nil && !IsNoSessionError(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "session store read failed")
	}

	if session != nil {
		r.settle(session)
		return r.live(session), nil
	}

	// Empty read during hydration: wait one settle window for a change
	// event before concluding "no session".
	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-r.hydrated:
	case <-timer.C:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled awaiting hydration")
	}

	r.settle(nil)

	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	return r.live(s), nil
}

// Subscribe registers for future transitions. The returned handle is
// idempotent and must be called on teardown to release the slot.
func (r *Resolver) Subscribe(fn func(Session)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// SignOut delegates to the store; the resolver never mutates
// credential state itself.
func (r *Resolver) SignOut(ctx context.Context) error {
	return r.store.SignOut(ctx)
}

// Close detaches the resolver from the store.
func (r *Resolver) Close() {
	if r.cancelStore != nil {
		r.cancelStore()
	}
}

func (r *Resolver) onAuthChange(session Session) {
	fp := sessionFingerprint(session)

	r.mu.Lock()
	if r.settled && fp == r.lastSeen {
		// Not an actual transition; listeners fire at most once per real change.
		r.mu.Unlock()
		return
	}

	r.current = session
	r.lastSeen = fp
	wasSettled := r.settled
	r.settled = true

	fns := make([]func(Session), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	if !wasSettled {
		r.closeHydrated()
	}

	for _, fn := range fns {
		fn(session)
	}
}

func (r *Resolver) settle(session Session) {
	r.mu.Lock()
	if !r.settled {
		r.current = session
		r.lastSeen = sessionFingerprint(session)
		r.settled = true
	}
	r.mu.Unlock()

	r.closeHydrated()
}

func (r *Resolver) closeHydrated() {
	r.hydrateOnce.Do(func() {
		close(r.hydrated)
	})
}

// live filters out sessions that have outlived their expiry.
func (r *Resolver) live(s Session) Session {
	if s == nil {
		return nil
	}
	if SessionExpired(s, r.now()) {
		r.logger.Debug("session for %s expired, treating as absent", s.GetUserID())
		return nil
	}
	return s
}

func sessionFingerprint(s Session) string {
	if s == nil {
		return ""
	}

	iat := ""
	if t := s.GetIssuedAt(); t != nil {
		iat = t.UTC().Format(time.RFC3339Nano)
	}

	return fmt.Sprintf("%s|%s", s.GetUserID(), iat)
}
