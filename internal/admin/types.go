package admin

import (
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/game"
	"jeoparty/internal/plan"
)

const (
	ActionSuspend            = "user.suspend"
	ActionUnsuspend          = "user.unsuspend"
	ActionGrant              = "user.grant"
	ActionRevokeGrant        = "user.grant_revoke"
	ActionCustomPlan         = "user.custom_plan"
	ActionClearCustomPlan    = "user.custom_plan_clear"
	ActionRefund             = "billing.refund"
	ActionImpersonationStart = "impersonation.start"
	ActionImpersonationEnd   = "impersonation.end"
	ActionImpersonatedWrite  = "impersonation.action"
)

const (
	MinImpersonationMinutes     = 5
	MaxImpersonationMinutes     = 60
	DefaultImpersonationMinutes = 30
	MaxImpersonationsPerHour    = 10

	MinGrantDays = 1
	MaxGrantDays = 365
)

// Actor is the admin performing an action and where the request came from.
type Actor struct {
	AdminID string
	IP      string
}

type AuditEntry struct {
	ID           int64          `json:"id"`
	AdminID      string         `json:"admin_id"`
	Action       string         `json:"action"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	Details      map[string]any `json:"details"`
	IP           string         `json:"ip,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type AuditFilter struct {
	AdminID      string
	TargetUserID string
	Action       string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

type UserFilter struct {
	Query     string
	Tier      plan.Tier
	Status    plan.Status
	Suspended *bool
	Limit     int
	Offset    int
}

type Session struct {
	ID        string     `json:"id"`
	AdminID   string     `json:"admin_id"`
	TargetID  string     `json:"target_id"`
	Reason    string     `json:"reason"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s Session) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

type Refund struct {
	ID              string    `json:"id"`
	AdminID         string    `json:"admin_id"`
	UserID          string    `json:"user_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	StripeRefundID  string    `json:"stripe_refund_id"`
	AmountCents     int64     `json:"amount_cents"`
	Reason          string    `json:"reason"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProfileChange is applied to a profile together with its audit row. Nil parts are left alone.
type ProfileChange struct {
	Suspend *SuspendChange
	Grant   *GrantChange
	Custom  *plan.Overrides
}

type SuspendChange struct {
	Suspended bool
	Reason    string
	At        time.Time
}

// GrantChange sets a complimentary tier. An empty Tier revokes it.
type GrantChange struct {
	Tier      plan.Tier
	ExpiresAt *time.Time
}

type UserDetail struct {
	Profile        account.Profile `json:"profile"`
	Plan           plan.Plan       `json:"plan"`
	Usage          account.Usage   `json:"usage"`
	RecentGames    []game.Game     `json:"recent_games"`
	RecentAudit    []AuditEntry    `json:"recent_audit"`
	Refunds        []Refund        `json:"refunds"`
	Impersonations []Session       `json:"active_impersonations"`
}

type ReasonInput struct {
	Reason string `json:"reason"`
}

type GrantInput struct {
	Tier   string `json:"tier" validate:"required"`
	Days   int    `json:"days" validate:"min=1,max=365"`
	Reason string `json:"reason"`
}

type CustomPlanInput struct {
	MaxTeams       *int     `json:"max_teams" validate:"omitempty,min=2,max=20"`
	MaxBanks       *int     `json:"max_banks" validate:"omitempty,min=-1,max=10000"`
	MaxActiveGames *int     `json:"max_active_games" validate:"omitempty,min=-1,max=1000"`
	Features       []string `json:"features"`
	Reason         string   `json:"reason"`
}

type RefundInput struct {
	UserID          string `json:"user_id" validate:"required,uuid"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required,startswith=pi_,max=255"`
	AmountCents     int64  `json:"amount_cents" validate:"min=0"`
	Reason          string `json:"reason"`
}

type ImpersonationInput struct {
	TargetUserID string `json:"target_user_id" validate:"required,uuid"`
	Reason       string `json:"reason"`
	Minutes      int    `json:"minutes"`
}

type EndImpersonationResult struct {
	SessionID    string `json:"session_id"`
	AlreadyEnded bool   `json:"already_ended"`
}
