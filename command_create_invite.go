package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CreateInviteMessage struct {
	InviterID  string `json:"inviter_id" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Member issuing the invite."`
	OnResponse func(resp *CreateInviteResponse)
}

func (m CreateInviteMessage) Type() string { return "vault.invite_create" }

func (m CreateInviteMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.InviterID, validation.Required),
	)
}

type CreateInviteResponse struct {
	Invite  *Invite
	JoinURL string
	Success bool
}

// CreateInviteHandler mints a short shareable invite code on behalf of
// an existing member.
type CreateInviteHandler struct {
	repo   RepositoryManager
	logger Logger
	sink   ActivitySink

	siteURL string
}

type CreateInviteOption func(*CreateInviteHandler)

func WithInviteSiteURL(siteURL string) CreateInviteOption {
	return func(h *CreateInviteHandler) {
		if siteURL != "" {
			h.siteURL = siteURL
		}
	}
}

func WithInviteLogger(logger Logger) CreateInviteOption {
	return func(h *CreateInviteHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithInviteActivitySink(sink ActivitySink) CreateInviteOption {
	return func(h *CreateInviteHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func NewCreateInviteHandler(repo RepositoryManager, opts ...CreateInviteOption) *CreateInviteHandler {
	h := &CreateInviteHandler{
		repo:   repo,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *CreateInviteHandler) Execute(ctx context.Context, event CreateInviteMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during invite creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateInviteHandler) execute(ctx context.Context, event CreateInviteMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid invite request")
	}

	inviterID, err := uuid.Parse(event.InviterID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid inviter id")
	}

	invite := &Invite{
		InviterID: &inviterID,
		Code:      newInviteCode(),
	}

	resp := &CreateInviteResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if invite, err = h.repo.Invites().CreateTx(ctx, tx, invite); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create invite")
		}
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invite transaction failed")
	}

	recordActivity(ctx, h.sink, h.logger, ActivityEvent{
		EventType: ActivityEventInviteCreated,
		UserID:    event.InviterID,
		Metadata: map[string]any{
			"invite_code": invite.Code,
		},
	})

	resp.Invite = invite
	resp.JoinURL = fmt.Sprintf("%s/join?invite=%s", h.siteURL, invite.Code)
	resp.Success = true

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// newInviteCode derives a short shareable code from a random UUID.
func newInviteCode() string {
	return strings.ToUpper(uuid.New().String()[:8])
}
