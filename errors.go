package vault

import (
	"strings"

	"github.com/goliatone/go-errors"
)

// Wire codes for the token validation boundary. Business negatives all
// travel as `{valid:false, error:<code>}` with HTTP 200; only the
// missing-token precondition gets a 4xx.
const (
	CodeTokenRequired = "token_required"
	CodeTokenInvalid  = "invalid_token"
	CodeTokenUsed     = "token_used"
	CodeTokenExpired  = "token_expired"
	CodeServerError   = "server_error"
)

// ErrTokenRequired is the precondition failure for an empty token; no
// lookup is performed.
var ErrTokenRequired = errors.New("token is required", errors.CategoryValidation).
	WithTextCode("TOKEN_REQUIRED").
	WithCode(errors.CodeBadRequest)

// ErrTokenInvalid covers both "no such token" and storage failures so
// the response surface cannot be used as a token-guessing oracle.
var ErrTokenInvalid = errors.New("invalid token", errors.CategoryAuth).
	WithTextCode("INVALID_TOKEN").
	WithCode(errors.CodeUnauthorized)

// ErrTokenUsed is returned for a consumed token. A token that is both
// used and expired reports used; the earlier lifecycle failure wins.
var ErrTokenUsed = errors.New("token has already been used", errors.CategoryConflict).
	WithTextCode("TOKEN_USED").
	WithCode(errors.CodeConflict)

var ErrTokenExpired = errors.New("token has expired", errors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrNoSession is the error when no live session could be found
var ErrNoSession = errors.New("unable to find session", errors.CategoryAuth).
	WithTextCode("NO_SESSION").
	WithCode(errors.CodeUnauthorized)

// ErrSessionExpired marks a session with an expiry strictly in the past
var ErrSessionExpired = errors.New("session has expired", errors.CategoryAuth).
	WithTextCode("SESSION_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrNotMember is returned when a session has no active membership behind it
var ErrNotMember = errors.New("no active membership", errors.CategoryAuthz).
	WithTextCode("NOT_MEMBER").
	WithCode(errors.CodeForbidden)

// ErrUnableToDecodeSession unable to decode the session credential
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode("SESSION_MALFORMED").
	WithCode(errors.CodeUnauthorized)

// ErrInvalidSignature is returned by the order webhook when the HMAC check fails
var ErrInvalidSignature = errors.New("invalid webhook signature", errors.CategoryAuth).
	WithTextCode("INVALID_SIGNATURE").
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString guards against hashing an empty password
var ErrNoEmptyString = errors.New("string cannot be empty", errors.CategoryValidation).
	WithTextCode("EMPTY_STRING").
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode("PASSWORD_MISMATCH").
	WithCode(errors.CodeUnauthorized)

// AccessDeniedMessage is the only copy ever shown to an unauthorized
// visitor; internal reasons stay internal.
const AccessDeniedMessage = "This vault is restricted to verified members only."

// WireCode maps a validation sentinel to its boundary code. Anything
// unrecognized collapses to the generic invalid code.
func WireCode(err error) string {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return CodeTokenInvalid
	}

	switch richErr.TextCode {
	case "TOKEN_REQUIRED":
		return CodeTokenRequired
	case "TOKEN_USED":
		return CodeTokenUsed
	case "TOKEN_EXPIRED":
		return CodeTokenExpired
	default:
		return CodeTokenInvalid
	}
}

// IsSessionExpiredError will check for expired session credentials
func IsSessionExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsNoSessionError will check for a missing session credential
func IsNoSessionError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNoSession)
}

// IsMalformedError will check for undecodable credentials
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
