package vault

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Member is the provisioned vault account backing an Identity.
type Member struct {
	bun.BaseModel `bun:"table:members,alias:mbr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Username      string         `bun:"username,notnull,unique" json:"username,omitempty"`
	FirstName     string         `bun:"first_name" json:"first_name,omitempty"`
	LastName      string         `bun:"last_name" json:"last_name,omitempty"`
	Phone         string         `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash  string         `bun:"password_hash" json:"password_hash,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (m *Member) AddMetadata(key string, val any) *Member {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = val
	return m
}

// Membership is the persisted entitlement row. UserID is the
// authoritative key; Email is a case-normalized fallback for rows
// imported before the account existed.
type Membership struct {
	bun.BaseModel `bun:"table:memberships,alias:mshp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Member        *Member    `bun:"rel:has-one,join:user_id=id" json:"member,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	Active        bool       `bun:"is_active,notnull" json:"is_active"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// PaidCustomer is the email-keyed entitlement variant: presence of a
// row means paid. Some deployments carry this table instead of
// memberships; the checker picks one source at composition time.
type PaidCustomer struct {
	bun.BaseModel `bun:"table:paid_customers,alias:pdc"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// SignupToken is a single-use, time-bounded credential for initial
// account creation. It never un-uses or un-expires.
type SignupToken struct {
	bun.BaseModel `bun:"table:signup_tokens,alias:stk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	OrderID       string     `bun:"order_id" json:"order_id,omitempty"`
	Used          bool       `bun:"used,notnull" json:"used"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	ExpiresAt     *time.Time `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the token's expiry is strictly in the past.
func (t *SignupToken) Expired(at time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(at)
}

// Invite is a member-issued invite link record.
type Invite struct {
	bun.BaseModel `bun:"table:invites,alias:inv"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	InviterID     *uuid.UUID `bun:"inviter_id,notnull" json:"inviter_id,omitempty"`
	Code          string     `bun:"invite_code,notnull,unique" json:"invite_code,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email for fallback matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
