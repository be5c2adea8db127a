package vault

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

type RedeemSignupTokenMessage struct {
	Token      string `json:"token" doc:"Single-use signup token."`
	Username   string `json:"username" example:"pepe.rone" doc:"Desired username."`
	FirstName  string `json:"first_name" example:"Pepe" doc:"Customer first name."`
	LastName   string `json:"last_name" example:"Rone" doc:"Customer last name."`
	Phone      string `json:"phone" example:"+1 415 555 0100" doc:"Contact phone."`
	Password   string `json:"password" doc:"Cleartext password, hashed before storage."`
	Region     string `json:"region" example:"US" doc:"Default region for phone parsing."`
	OnResponse func(resp *RedeemSignupTokenResponse)
}

func (m RedeemSignupTokenMessage) Type() string { return "vault.token_redeem" }

func (m RedeemSignupTokenMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, validation.Required, validation.Length(8, 0)),
	)
}

type RedeemSignupTokenResponse struct {
	Member     *Member
	Membership *Membership
	Success    bool
}

// RedeemSignupTokenHandler consumes a signup token and provisions the
// member plus an active membership in one transaction. The conditional
// consume is the only writer of the used flag, so a replayed redeem or
// a racing one reports token_used instead of double-provisioning.
type RedeemSignupTokenHandler struct {
	repo   RepositoryManager
	logger Logger
	sink   ActivitySink
	now    func() time.Time
}

type RedeemSignupTokenOption func(*RedeemSignupTokenHandler)

func WithRedeemLogger(logger Logger) RedeemSignupTokenOption {
	return func(h *RedeemSignupTokenHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithRedeemActivitySink(sink ActivitySink) RedeemSignupTokenOption {
	return func(h *RedeemSignupTokenHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func WithRedeemClock(now func() time.Time) RedeemSignupTokenOption {
	return func(h *RedeemSignupTokenHandler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewRedeemSignupTokenHandler(repo RepositoryManager, opts ...RedeemSignupTokenOption) *RedeemSignupTokenHandler {
	h := &RedeemSignupTokenHandler{
		repo:   repo,
		logger: defLogger{},
		sink:   noopActivitySink{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *RedeemSignupTokenHandler) Execute(ctx context.Context, event RedeemSignupTokenMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during token redemption",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RedeemSignupTokenHandler) execute(ctx context.Context, event RedeemSignupTokenMessage) error {
	if event.Token == "" {
		return ErrTokenRequired
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid redeem request")
	}

	member := &Member{}
	membership := &Membership{}
	resp := &RedeemSignupTokenResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.repo.SignupTokens().FindByTokenTx(ctx, tx, event.Token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "error getting token")
		}

		if record.Used {
			return ErrTokenUsed
		}

		if record.Expired(h.now()) {
			return ErrTokenExpired
		}

		if err := h.repo.SignupTokens().ConsumeTx(ctx, tx, event.Token, h.now()); err != nil {
			if repository.IsRecordNotFound(err) {
				// lost the race to a concurrent redeem
				return ErrTokenUsed
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "error consuming token")
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		member.Email = NormalizeEmail(record.Email)
		member.Username = getUsername(event.Username, member.Email)
		member.FirstName = event.FirstName
		member.LastName = event.LastName
		member.Phone = normalizePhone(event.Phone, event.Region)
		member.PasswordHash = hash
		member.AddMetadata("order_id", record.OrderID)

		if id, err := hashid.NewUUID(member.Email); err == nil {
			member.ID = id
		}

		if member, err = h.repo.Members().RegisterTx(ctx, tx, member); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create member")
		}

		membership.UserID = &member.ID
		membership.Email = member.Email
		membership.Active = true

		if membership, err = h.repo.Memberships().CreateTx(ctx, tx, membership); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create membership")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "token redemption transaction failed")
	}

	recordActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: ActivityEventTokenRedeemed,
		UserID:    member.ID.String(),
		Metadata: map[string]any{
			"email": member.Email,
		},
	})

	resp.Member = member
	resp.Membership = membership
	resp.Success = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

// normalizePhone formats a contact number to E.164 when it parses;
// unparseable input is stored as given.
func normalizePhone(phone, region string) string {
	if phone == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}

	parsed, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return phone
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}
