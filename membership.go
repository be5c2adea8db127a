package vault

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// checker is the single MembershipChecker implementation; the backing
// table/key strategy is a MembershipSource selected at composition
// time. Do not duplicate this logic per table.
type checker struct {
	source MembershipSource
	logger Logger
	sink   ActivitySink
}

// CheckerOption customizes the membership checker.
type CheckerOption func(*checker)

// WithCheckerLogger overrides the default logger.
func WithCheckerLogger(logger Logger) CheckerOption {
	return func(c *checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCheckerActivitySink sets the sink that receives lookup failures.
func WithCheckerActivitySink(sink ActivitySink) CheckerOption {
	return func(c *checker) {
		c.sink = normalizeActivitySink(sink)
	}
}

// NewMembershipChecker returns a fail-soft MembershipChecker over the
// given record source. "No record" and "record with active=false" are
// both false; lookup errors are reported to the activity sink and
// resolve to false, never to a distinct user-facing state.
func NewMembershipChecker(source MembershipSource, opts ...CheckerOption) MembershipChecker {
	c := &checker{
		source: source,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

func (c *checker) IsActiveMember(ctx context.Context, identity Identity) bool {
	if identity == nil {
		return false
	}

	active, err := c.source.Lookup(ctx, identity)
	if err != nil {
		c.logger.Error("membership lookup for %s failed: %v", identity.ID(), err)
		recordActivity(ctx, c.sink, c.logger, ActivityEvent{
			EventType: ActivityEventLookupFailure,
			UserID:    identity.ID(),
			Metadata: map[string]any{
				"error": err.Error(),
			},
		})
		return false
	}

	return active
}

// membershipsSource resolves entitlement against the memberships table.
// The stable user id is the authoritative key; email matching is a
// fallback only and is case-normalized.
type membershipsSource struct {
	memberships Memberships
}

// NewMembershipsSource builds the user-id-keyed record source.
func NewMembershipsSource(memberships Memberships) MembershipSource {
	return &membershipsSource{memberships: memberships}
}

func (s *membershipsSource) Lookup(ctx context.Context, identity Identity) (bool, error) {
	if id, err := uuid.Parse(identity.ID()); err == nil && id != uuid.Nil {
		record, err := s.memberships.FindByUserID(ctx, id)
		if err == nil {
			return record.Active, nil
		}
		if !repository.IsRecordNotFound(err) {
			return false, errors.Wrap(err, errors.CategoryInternal, "membership lookup by user id failed")
		}
	}

	email := NormalizeEmail(identity.Email())
	if email == "" {
		return false, nil
	}

	record, err := s.memberships.FindByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryInternal, "membership lookup by email failed")
	}

	return record.Active, nil
}

// paidCustomersSource resolves entitlement against the email-keyed
// paid_customers table, where row presence means paid.
type paidCustomersSource struct {
	customers PaidCustomers
}

// NewPaidCustomersSource builds the email-keyed record source.
func NewPaidCustomersSource(customers PaidCustomers) MembershipSource {
	return &paidCustomersSource{customers: customers}
}

func (s *paidCustomersSource) Lookup(ctx context.Context, identity Identity) (bool, error) {
	email := NormalizeEmail(identity.Email())
	if email == "" {
		return false, nil
	}

	_, err := s.customers.FindByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryInternal, "paid customer lookup failed")
	}

	return true, nil
}

// MembershipSourceFunc adapts a function into a MembershipSource.
type MembershipSourceFunc func(ctx context.Context, identity Identity) (bool, error)

func (f MembershipSourceFunc) Lookup(ctx context.Context, identity Identity) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f(ctx, identity)
}
