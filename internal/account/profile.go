package account

import (
	"time"

	"jeoparty/internal/plan"
)

const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

type Profile struct {
	ID                   string         `json:"id"`
	Email                string         `json:"email"`
	DisplayName          string         `json:"display_name"`
	Role                 string         `json:"role"`
	Tier                 plan.Tier      `json:"tier"`
	Status               plan.Status    `json:"status"`
	TrialEndsAt          *time.Time     `json:"trial_ends_at,omitempty"`
	GrantTier            plan.Tier      `json:"grant_tier,omitempty"`
	GrantExpiresAt       *time.Time     `json:"grant_expires_at,omitempty"`
	StripeCustomerID     string         `json:"-"`
	StripeSubscriptionID string         `json:"-"`
	BillingInterval      string         `json:"billing_interval,omitempty"`
	CurrentPeriodEnd     *time.Time     `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool           `json:"cancel_at_period_end"`
	Suspended            bool           `json:"suspended"`
	SuspendedReason      string         `json:"suspended_reason,omitempty"`
	SuspendedAt          *time.Time     `json:"suspended_at,omitempty"`
	Custom               plan.Overrides `json:"custom_plan"`
	Active               bool           `json:"active"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// HasSubscription reports whether a Stripe subscription is attached.
func (p Profile) HasSubscription() bool {
	return p.StripeSubscriptionID != ""
}

func (p Profile) Subject() plan.Subject {
	return plan.Subject{
		Tier:           p.Tier,
		Status:         p.Status,
		TrialEndsAt:    p.TrialEndsAt,
		GrantTier:      p.GrantTier,
		GrantExpiresAt: p.GrantExpiresAt,
		Suspended:      p.Suspended,
		Custom:         p.Custom,
	}
}

func (p Profile) Plan(now time.Time) plan.Plan {
	return plan.Effective(p.Subject(), now)
}

type Usage struct {
	Banks     int `json:"banks"`
	OpenGames int `json:"open_games"`
}

type Me struct {
	Profile Profile   `json:"profile"`
	Plan    plan.Plan `json:"plan"`
	Usage   Usage     `json:"usage"`
}
