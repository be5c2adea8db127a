package vault

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Members() Members
	Memberships() Memberships
	PaidCustomers() PaidCustomers
	SignupTokens() SignupTokens
	Invites() Invites
}

type mngr struct {
	db            *bun.DB
	members       Members
	memberships   Memberships
	paidCustomers PaidCustomers
	signupTokens  SignupTokens
	invites       Invites
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		members:       NewMembersRepository(db),
		memberships:   NewMembershipsRepository(db),
		paidCustomers: NewPaidCustomersRepository(db),
		signupTokens:  NewSignupTokensRepository(db),
		invites:       NewInvitesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.members == nil {
		return errors.New("repository members should be initialized")
	}

	if m.memberships == nil {
		return errors.New("repository memberships should be initialized")
	}

	if m.paidCustomers == nil {
		return errors.New("repository paidCustomers should be initialized")
	}

	if m.signupTokens == nil {
		return errors.New("repository signupTokens should be initialized")
	}

	if m.invites == nil {
		return errors.New("repository invites should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Members() Members {
	return m.members
}

func (m mngr) Memberships() Memberships {
	return m.memberships
}

func (m mngr) PaidCustomers() PaidCustomers {
	return m.paidCustomers
}

func (m mngr) SignupTokens() SignupTokens {
	return m.signupTokens
}

func (m mngr) Invites() Invites {
	return m.invites
}
