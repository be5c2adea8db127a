package vault

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Members persists vault accounts.
type Members interface {
	repository.Repository[*Member]

	Register(ctx context.Context, member *Member) (*Member, error)
	RegisterTx(ctx context.Context, tx bun.IDB, member *Member) (*Member, error)
	FindByEmail(ctx context.Context, email string) (*Member, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Member, error)
}

type members struct {
	repository.Repository[*Member]
	db *bun.DB
}

var (
	_ Members                        = (*members)(nil)
	_ repository.Repository[*Member] = (*members)(nil)
)

func NewMembersRepository(db *bun.DB) Members {
	repo := repository.NewRepository[*Member](db, repository.ModelHandlers[*Member]{
		NewRecord: func() *Member { return &Member{} },
		GetID: func(m *Member) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Member, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &members{
		Repository: repo,
		db:         db,
	}
}

func (a *members) Register(ctx context.Context, member *Member) (*Member, error) {
	return a.RegisterTx(ctx, a.db, member)
}

func (a *members) RegisterTx(ctx context.Context, tx bun.IDB, member *Member) (*Member, error) {
	member.Email = NormalizeEmail(member.Email)
	return a.Repository.CreateTx(ctx, tx, member)
}

func (a *members) FindByEmail(ctx context.Context, email string) (*Member, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *members) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Member, error) {
	record := &Member{}
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
