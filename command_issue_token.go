package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// DefaultSignupTokenTTL is how long an issued token stays redeemable.
const DefaultSignupTokenTTL = 7 * 24 * time.Hour

const signupTokenBytes = 32

type IssueSignupTokenMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Purchaser email."`
	OrderID    string `json:"order_id" example:"5479386120234" doc:"Upstream order identifier."`
	OnResponse func(resp *IssueSignupTokenResponse)
}

func (m IssueSignupTokenMessage) Type() string { return "vault.token_issue" }

func (m IssueSignupTokenMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
		validation.Field(&m.OrderID, validation.Required),
	)
}

type IssueSignupTokenResponse struct {
	Token     *SignupToken
	AccessURL string
	Replayed  bool
	Success   bool
}

// IssueSignupTokenHandler mints a single-use signup token after a paid
// order. Issuance is idempotent per order: a replayed order returns
// the original token without minting a second one.
type IssueSignupTokenHandler struct {
	repo   RepositoryManager
	mailer Mailer
	logger Logger
	sink   ActivitySink
	now    func() time.Time

	siteURL string
	ttl     time.Duration
}

type IssueSignupTokenOption func(*IssueSignupTokenHandler)

func WithIssueMailer(mailer Mailer) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		if mailer != nil {
			h.mailer = mailer
		}
	}
}

func WithIssueTTL(ttl time.Duration) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

func WithIssueSiteURL(siteURL string) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		if siteURL != "" {
			h.siteURL = siteURL
		}
	}
}

func WithIssueLogger(logger Logger) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithIssueActivitySink(sink ActivitySink) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func WithIssueClock(now func() time.Time) IssueSignupTokenOption {
	return func(h *IssueSignupTokenHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewIssueSignupTokenHandler(repo RepositoryManager, opts ...IssueSignupTokenOption) *IssueSignupTokenHandler {
	h := &IssueSignupTokenHandler{
		repo:   repo,
		mailer: noopMailer{},
		logger: defLogger{},
		sink:   noopActivitySink{},
		now:    time.Now,
		ttl:    DefaultSignupTokenTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *IssueSignupTokenHandler) Execute(ctx context.Context, event IssueSignupTokenMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return h.execute(ctx, event)
	}
}

func (h *IssueSignupTokenHandler) execute(ctx context.Context, event IssueSignupTokenMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	resp := &IssueSignupTokenResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := h.repo.SignupTokens().FindByOrderIDTx(ctx, tx, event.OrderID)
		if err == nil {
			resp.Token = existing
			resp.Replayed = true
			return nil
		}
		if !repository.IsRecordNotFound(err) {
			return fmt.Errorf("error checking order: %w", err)
		}

		token, err := generateSignupToken()
		if err != nil {
			return err
		}

		expiresAt := h.now().Add(h.ttl)
		record := &SignupToken{
			Token:     token,
			Email:     NormalizeEmail(event.Email),
			OrderID:   event.OrderID,
			ExpiresAt: &expiresAt,
		}

		record, err = h.repo.SignupTokens().CreateTx(ctx, tx, record)
		if err != nil {
			return fmt.Errorf("error creating token: %w", err)
		}

		resp.Token = record
		return nil
	})
	if err != nil {
		return err
	}

	if resp.Token != nil {
		resp.AccessURL = fmt.Sprintf("%s/vault/access?token=%s", h.siteURL, resp.Token.Token)
	}

	if resp.Token != nil && !resp.Replayed {
		if err := h.mailer.SendVaultAccess(ctx, resp.Token.Email, resp.AccessURL); err != nil {
			h.logger.Error("access email to %s failed: %v", resp.Token.Email, err)
		}

		recordActivity(ctx, h.sink, h.logger, ActivityEvent{
			EventType: ActivityEventTokenIssued,
			Metadata: map[string]any{
				"email":    resp.Token.Email,
				"order_id": resp.Token.OrderID,
			},
		})
	}

	resp.Success = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func generateSignupToken() (string, error) {
	buf := make([]byte, signupTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("error generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
