package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeSignupTokenSQL flips a token to used only while it is still
// unused and unexpired. The WHERE clause is the concurrency guard: two
// racing redeems produce exactly one returned row.
var ConsumeSignupTokenSQL = `UPDATE "signup_tokens" AS "stk"
SET
	"used" = TRUE,
	"used_at" = ?
WHERE
	"stk"."token" = ?
AND "stk"."used" = FALSE
AND "stk"."expires_at" > ?
RETURNING *;`

// Memberships persists entitlement rows.
type Memberships interface {
	repository.Repository[*Membership]

	FindByUserID(ctx context.Context, userID uuid.UUID) (*Membership, error)
	FindByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Membership, error)
	FindByEmail(ctx context.Context, email string) (*Membership, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Membership, error)
}

type memberships struct {
	repository.Repository[*Membership]
	db *bun.DB
}

var _ Memberships = (*memberships)(nil)

func NewMembershipsRepository(db *bun.DB) Memberships {
	repo := repository.NewRepository[*Membership](db, repository.ModelHandlers[*Membership]{
		NewRecord: func() *Membership { return &Membership{} },
		GetID: func(m *Membership) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Membership, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &memberships{
		Repository: repo,
		db:         db,
	}
}

func (a *memberships) FindByUserID(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	return a.FindByUserIDTx(ctx, a.db, userID)
}

func (a *memberships) FindByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Membership, error) {
	record := &Membership{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"user_id": userID.String()})
	}
	return record, nil
}

func (a *memberships) FindByEmail(ctx context.Context, email string) (*Membership, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *memberships) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Membership, error) {
	record := &Membership{}
	err := tx.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email})
	}
	return record, nil
}

// PaidCustomers persists the email-keyed entitlement variant.
type PaidCustomers interface {
	repository.Repository[*PaidCustomer]

	FindByEmail(ctx context.Context, email string) (*PaidCustomer, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PaidCustomer, error)
}

type paidCustomers struct {
	repository.Repository[*PaidCustomer]
	db *bun.DB
}

var _ PaidCustomers = (*paidCustomers)(nil)

func NewPaidCustomersRepository(db *bun.DB) PaidCustomers {
	repo := repository.NewRepository[*PaidCustomer](db, repository.ModelHandlers[*PaidCustomer]{
		NewRecord: func() *PaidCustomer { return &PaidCustomer{} },
		GetID: func(c *PaidCustomer) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *PaidCustomer, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &paidCustomers{
		Repository: repo,
		db:         db,
	}
}

func (a *paidCustomers) FindByEmail(ctx context.Context, email string) (*PaidCustomer, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *paidCustomers) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PaidCustomer, error) {
	record := &PaidCustomer{}
	err := tx.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email})
	}
	return record, nil
}

// SignupTokens persists single-use signup credentials.
type SignupTokens interface {
	repository.Repository[*SignupToken]

	FindByToken(ctx context.Context, token string) (*SignupToken, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*SignupToken, error)
	FindByOrderID(ctx context.Context, orderID string) (*SignupToken, error)
	FindByOrderIDTx(ctx context.Context, tx bun.IDB, orderID string) (*SignupToken, error)
	Consume(ctx context.Context, token string, at time.Time) error
	ConsumeTx(ctx context.Context, tx bun.IDB, token string, at time.Time) error
}

type signupTokens struct {
	repository.Repository[*SignupToken]
	db *bun.DB
}

var _ SignupTokens = (*signupTokens)(nil)

func NewSignupTokensRepository(db *bun.DB) SignupTokens {
	repo := repository.NewRepository[*SignupToken](db, repository.ModelHandlers[*SignupToken]{
		NewRecord: func() *SignupToken { return &SignupToken{} },
		GetID: func(t *SignupToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *SignupToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &signupTokens{
		Repository: repo,
		db:         db,
	}
}

func (a *signupTokens) FindByToken(ctx context.Context, token string) (*SignupToken, error) {
	return a.FindByTokenTx(ctx, a.db, token)
}

func (a *signupTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*SignupToken, error) {
	record := &SignupToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		// the token value never goes in error metadata
		return nil, notFoundOr(err, nil)
	}
	return record, nil
}

func (a *signupTokens) FindByOrderID(ctx context.Context, orderID string) (*SignupToken, error) {
	return a.FindByOrderIDTx(ctx, a.db, orderID)
}

func (a *signupTokens) FindByOrderIDTx(ctx context.Context, tx bun.IDB, orderID string) (*SignupToken, error) {
	record := &SignupToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"order_id": orderID})
	}
	return record, nil
}

func (a *signupTokens) Consume(ctx context.Context, token string, at time.Time) error {
	return a.ConsumeTx(ctx, a.db, token, at)
}

func (a *signupTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, at time.Time) error {
	res, err := a.Repository.RawTx(ctx, tx, ConsumeSignupTokenSQL, at, token, at)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound()
	}

	return nil
}

// Invites persists member-issued invite codes.
type Invites interface {
	repository.Repository[*Invite]

	FindByCode(ctx context.Context, code string) (*Invite, error)
	FindByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Invite, error)
}

type invites struct {
	repository.Repository[*Invite]
	db *bun.DB
}

var _ Invites = (*invites)(nil)

func NewInvitesRepository(db *bun.DB) Invites {
	repo := repository.NewRepository[*Invite](db, repository.ModelHandlers[*Invite]{
		NewRecord: func() *Invite { return &Invite{} },
		GetID: func(i *Invite) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Invite, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "invite_code"
		},
	})

	return &invites{
		Repository: repo,
		db:         db,
	}
}

func (a *invites) FindByCode(ctx context.Context, code string) (*Invite, error) {
	return a.FindByCodeTx(ctx, a.db, code)
}

func (a *invites) FindByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Invite, error) {
	record := &Invite{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.invite_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"invite_code": code})
	}
	return record, nil
}

func notFoundOr(err error, meta map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) {
		nf := repository.NewRecordNotFound()
		if meta != nil {
			nf = nf.WithMetadata(meta)
		}
		return nf
	}
	return err
}
