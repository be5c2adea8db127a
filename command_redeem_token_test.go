package vault_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-vault"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func redeemRepo(t *testing.T, tokens *MockSignupTokens, members *MockMembers, memberships *MockMemberships, txErr error) *MockRepositoryManager {
	t.Helper()

	repo := &MockRepositoryManager{}
	repo.On("SignupTokens").Return(tokens)
	if members != nil {
		repo.On("Members").Return(members)
	}
	if memberships != nil {
		repo.On("Memberships").Return(memberships)
	}
	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).
		Return(txErr).
		Run(func(args mock.Arguments) {
			fn := args.Get(2).(func(context.Context, bun.Tx) error)
			var tx bun.Tx
			err := fn(args.Get(0).(context.Context), tx)
			if txErr == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		}).Once()

	return repo
}

func TestRedeemSignupToken_HappyPath(t *testing.T) {
	ctx := context.Background()

	record := &vault.SignupToken{
		Token:     "feedfacefeedface",
		Email:     "Buyer@Example.com",
		OrderID:   "ord-1001",
		ExpiresAt: timePtr(time.Now().Add(time.Hour)),
	}

	tokens := &MockSignupTokens{}
	tokens.On("FindByTokenTx", mock.Anything, mock.Anything, "feedfacefeedface").
		Return(record, nil).Once()
	tokens.On("ConsumeTx", mock.Anything, mock.Anything, "feedfacefeedface", mock.Anything).
		Return(nil).Once()

	expectedID, err := hashid.NewUUID("buyer@example.com")
	require.NoError(t, err)

	members := &MockMembers{}
	members.On("RegisterTx", mock.Anything, mock.Anything, mock.MatchedBy(func(m *vault.Member) bool {
		return m.Email == "buyer@example.com" &&
			m.Username == "buyer" &&
			m.FirstName == "Pepe" &&
			m.Phone == "+14155550100" &&
			m.PasswordHash != "" &&
			m.PasswordHash != "sup3rs3cret!" &&
			m.Metadata["order_id"] == "ord-1001" &&
			m.ID == expectedID
	})).Return(&vault.Member{
		ID:    expectedID,
		Email: "buyer@example.com",
	}, nil).Once()

	memberships := &MockMemberships{}
	memberships.On("CreateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(m *vault.Membership) bool {
		return m.Active && m.Email == "buyer@example.com" && m.UserID != nil && *m.UserID == expectedID
	})).Return(&vault.Membership{
		UserID: &expectedID,
		Email:  "buyer@example.com",
		Active: true,
	}, nil).Once()

	repo := redeemRepo(t, tokens, members, memberships, nil)
	sink := &capturingSink{}

	handler := vault.NewRedeemSignupTokenHandler(repo, vault.WithRedeemActivitySink(sink))

	var resp *vault.RedeemSignupTokenResponse
	msg := vault.RedeemSignupTokenMessage{
		Token:     "feedfacefeedface",
		FirstName: "Pepe",
		LastName:  "Rone",
		Phone:     "415 555 0100",
		Password:  "sup3rs3cret!",
		OnResponse: func(r *vault.RedeemSignupTokenResponse) {
			resp = r
		},
	}

	require.NoError(t, handler.Execute(ctx, msg))
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Member)
	require.NotNil(t, resp.Membership)
	assert.True(t, resp.Membership.Active)

	redeemed := sink.byType(vault.ActivityEventTokenRedeemed)
	require.Len(t, redeemed, 1)
	assert.Equal(t, expectedID.String(), redeemed[0].UserID)

	tokens.AssertExpectations(t)
	members.AssertExpectations(t)
	memberships.AssertExpectations(t)
}

func TestRedeemSignupToken_EmptyToken(t *testing.T) {
	repo := &MockRepositoryManager{}
	handler := vault.NewRedeemSignupTokenHandler(repo)

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Password: "sup3rs3cret!",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrTokenRequired))

	repo.AssertNotCalled(t, "RunInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemSignupToken_ShortPasswordRejected(t *testing.T) {
	repo := &MockRepositoryManager{}
	handler := vault.NewRedeemSignupTokenHandler(repo)

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Token:    "feedfacefeedface",
		Password: "short",
	})
	require.Error(t, err)

	repo.AssertNotCalled(t, "RunInTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemSignupToken_UnknownToken(t *testing.T) {
	tokens := &MockSignupTokens{}
	tokens.On("FindByTokenTx", mock.Anything, mock.Anything, "nope").
		Return(nil, repository.NewRecordNotFound()).Once()

	repo := redeemRepo(t, tokens, nil, nil, vault.ErrTokenInvalid)
	handler := vault.NewRedeemSignupTokenHandler(repo)

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Token:    "nope",
		Password: "sup3rs3cret!",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrTokenInvalid))
}

func TestRedeemSignupToken_UsedToken(t *testing.T) {
	record := &vault.SignupToken{
		Token:     "feedfacefeedface",
		Email:     "buyer@example.com",
		Used:      true,
		ExpiresAt: timePtr(time.Now().Add(time.Hour)),
	}

	tokens := &MockSignupTokens{}
	tokens.On("FindByTokenTx", mock.Anything, mock.Anything, "feedfacefeedface").
		Return(record, nil).Once()

	repo := redeemRepo(t, tokens, nil, nil, vault.ErrTokenUsed)
	handler := vault.NewRedeemSignupTokenHandler(repo)

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Token:    "feedfacefeedface",
		Password: "sup3rs3cret!",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrTokenUsed))

	tokens.AssertNotCalled(t, "ConsumeTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemSignupToken_ExpiredToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := &vault.SignupToken{
		Token:     "feedfacefeedface",
		Email:     "buyer@example.com",
		ExpiresAt: timePtr(now.Add(-time.Minute)),
	}

	tokens := &MockSignupTokens{}
	tokens.On("FindByTokenTx", mock.Anything, mock.Anything, "feedfacefeedface").
		Return(record, nil).Once()

	repo := redeemRepo(t, tokens, nil, nil, vault.ErrTokenExpired)
	handler := vault.NewRedeemSignupTokenHandler(repo, vault.WithRedeemClock(func() time.Time {
		return now
	}))

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Token:    "feedfacefeedface",
		Password: "sup3rs3cret!",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrTokenExpired))
}

func TestRedeemSignupToken_LostConsumeRaceReportsUsed(t *testing.T) {
	record := &vault.SignupToken{
		Token:     "feedfacefeedface",
		Email:     "buyer@example.com",
		ExpiresAt: timePtr(time.Now().Add(time.Hour)),
	}

	tokens := &MockSignupTokens{}
	tokens.On("FindByTokenTx", mock.Anything, mock.Anything, "feedfacefeedface").
		Return(record, nil).Once()
	tokens.On("ConsumeTx", mock.Anything, mock.Anything, "feedfacefeedface", mock.Anything).
		Return(repository.NewRecordNotFound()).Once()

	repo := redeemRepo(t, tokens, nil, nil, vault.ErrTokenUsed)
	handler := vault.NewRedeemSignupTokenHandler(repo)

	err := handler.Execute(context.Background(), vault.RedeemSignupTokenMessage{
		Token:    "feedfacefeedface",
		Password: "sup3rs3cret!",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrTokenUsed))
}

func TestNormalizeHelpers(t *testing.T) {
	assert.Equal(t, "buyer@example.com", vault.NormalizeEmail("  Buyer@Example.COM "))
}
