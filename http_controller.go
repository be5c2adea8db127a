package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// WebhookSignatureHeader carries the upstream HMAC of the raw payload.
const WebhookSignatureHeader = "X-Webhook-Hmac-Sha256"

// RegisterVaultRoutes mounts the vault endpoints on the given router.
// The invites endpoint needs an authenticated session in request
// locals, so it is wrapped with the controller's auth middleware.
func RegisterVaultRoutes[T any](app router.Router[T], opts ...VaultControllerOption) {
	controller := NewVaultController(opts...)

	app.Post(controller.Routes.ValidateToken, controller.ValidateTokenPost).
		SetName("vault-token.post")

	app.Post(controller.Routes.OrderWebhook, controller.OrderPaidWebhook).
		SetName("vault-webhook.post")

	if controller.Auth != nil {
		app.Post(controller.Routes.Invites, controller.InviteCreatePost, controller.Auth).
			SetName("vault-invite.post")
	} else {
		app.Post(controller.Routes.Invites, controller.InviteCreatePost).
			SetName("vault-invite.post")
	}
}

type VaultControllerRoutes struct {
	ValidateToken string
	OrderWebhook  string
	Invites       string
}

type VaultController struct {
	Debug         bool
	Logger        Logger
	Repo          RepositoryManager
	Routes        *VaultControllerRoutes
	Validator     TokenValidator
	Issuer        *IssueSignupTokenHandler
	Inviter       *CreateInviteHandler
	Sink          ActivitySink
	Auth          router.MiddlewareFunc
	WebhookSecret string
}

type VaultControllerOption func(*VaultController) *VaultController

func NewVaultController(opts ...VaultControllerOption) *VaultController {
	c := &VaultController{
		Logger: defLogger{},
		Sink:   noopActivitySink{},
		Routes: &VaultControllerRoutes{
			ValidateToken: "/validate-token",
			OrderWebhook:  "/webhooks/order-paid",
			Invites:       "/invites",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in vault controller...")
	}

	if c.Validator == nil {
		c.Validator = NewTokenValidator(
			c.Repo.SignupTokens(),
			WithValidatorLogger(c.Logger),
			WithValidatorActivitySink(c.Sink),
		)
	}

	if c.Issuer == nil {
		c.Issuer = NewIssueSignupTokenHandler(
			c.Repo,
			WithIssueLogger(c.Logger),
			WithIssueActivitySink(c.Sink),
		)
	}

	if c.Inviter == nil {
		c.Inviter = NewCreateInviteHandler(
			c.Repo,
			WithInviteLogger(c.Logger),
			WithInviteActivitySink(c.Sink),
		)
	}

	return c
}

func WithControllerRepo(repo RepositoryManager) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Repo = repo
		return c
	}
}

func WithControllerLogger(logger Logger) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerValidator(validator TokenValidator) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Validator = validator
		return c
	}
}

func WithControllerIssuer(issuer *IssueSignupTokenHandler) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Issuer = issuer
		return c
	}
}

func WithControllerInviter(inviter *CreateInviteHandler) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Inviter = inviter
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Sink = normalizeActivitySink(sink)
		return c
	}
}

// WithControllerAuthMiddleware sets the middleware protecting the
// invites endpoint, e.g. Gatekeeper.Protected() or RequireMember.
func WithControllerAuthMiddleware(mw router.MiddlewareFunc) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Auth = mw
		return c
	}
}

func WithControllerWebhookSecret(secret string) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.WebhookSecret = secret
		return c
	}
}

func WithControllerDebug(debug bool) VaultControllerOption {
	return func(c *VaultController) *VaultController {
		c.Debug = debug
		return c
	}
}

// ValidateTokenRequest payload
type ValidateTokenRequest struct {
	Token string `form:"token" json:"token"`
}

func (a *VaultController) ValidateTokenPost(ctx router.Context) error {
	payload := new(ValidateTokenRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("validate token parse payload: %v", err)
		return ctx.JSON(router.StatusBadRequest, &TokenValidation{
			Valid: false,
			Error: CodeTokenRequired,
		})
	}

	if a.Debug {
		a.Logger.Debug("validate token payload: %s", print.MaybePrettyJSON(payload))
	}

	result, err := a.Validator.ValidateToken(ctx.Context(), payload.Token)
	if err != nil {
		if errors.Is(err, ErrTokenRequired) {
			return ctx.JSON(router.StatusBadRequest, &TokenValidation{
				Valid: false,
				Error: CodeTokenRequired,
			})
		}

		a.Logger.Error("validate token error: %v", err)
		return ctx.JSON(router.StatusInternalServerError, &TokenValidation{
			Valid: false,
			Error: CodeServerError,
		})
	}

	return ctx.JSON(router.StatusOK, result)
}

// OrderPaidPayload is the upstream order notification body.
type OrderPaidPayload struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
}

// Validate will run validation rules
func (p OrderPaidPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OrderID, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// OrderPaidWebhook verifies the payload signature over the raw body,
// then issues a signup token for the purchaser. Replayed orders are
// acknowledged without minting a second token.
func (a *VaultController) OrderPaidWebhook(ctx router.Context) error {
	body := ctx.Body()

	if !a.verifySignature(body, ctx.Header(WebhookSignatureHeader)) {
		recordActivity(ctx.Context(), a.Sink, a.Logger, ActivityEvent{
			EventType: ActivityEventSignatureRejected,
		})
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "invalid signature",
		})
	}

	payload := new(OrderPaidPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("order webhook parse payload: %v", err)
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "invalid payload",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	msg := IssueSignupTokenMessage{
		Email:   payload.Email,
		OrderID: payload.OrderID,
	}

	if err := a.Issuer.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("order webhook issue error: %v", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": CodeServerError,
		})
	}

	return ctx.JSON(router.StatusOK, map[string]bool{
		"success": true,
	})
}

func (a *VaultController) verifySignature(body []byte, signature string) bool {
	if a.WebhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.WebhookSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *VaultController) InviteCreatePost(ctx router.Context) error {
	session, ok := ctx.Locals(SessionKey).(Session)
	if !ok || session == nil {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": AccessDeniedMessage,
		})
	}

	var resp *CreateInviteResponse
	msg := CreateInviteMessage{
		InviterID: session.GetUserID(),
		OnResponse: func(r *CreateInviteResponse) {
			resp = r
		},
	}

	if err := a.Inviter.Execute(ctx.Context(), msg); err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) && richErr.Category == errors.CategoryValidation {
			return ctx.JSON(router.StatusBadRequest, map[string]string{
				"error": richErr.Message,
			})
		}

		a.Logger.Error("invite create error: %v", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": CodeServerError,
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"invite_code": resp.Invite.Code,
		"join_url":    resp.JoinURL,
	})
}
