package billing

import (
	"context"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/config"
	"jeoparty/internal/plan"
)

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoicePaid          = "invoice.paid"
)

// Provider is the part of Stripe the service talks to.
type Provider interface {
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// PaymentIntentCustomer returns the customer id a payment intent was charged to.
	PaymentIntentCustomer(ctx context.Context, paymentIntentID string) (string, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

type Store interface {
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	GetProfileByCustomer(ctx context.Context, customerID string) (account.Profile, error)
	SetStripeCustomer(ctx context.Context, userID, customerID string) error
	LinkSubscription(ctx context.Context, userID, customerID, subscriptionID string) error
	UpdateSubscription(ctx context.Context, userID string, u SubscriptionUpdate) (account.Profile, error)
	SetBillingStatus(ctx context.Context, userID string, status plan.Status) error
	// ClaimEvent runs apply only for the first delivery of an event id, atomically with
	// recording it. claimed is false for a replay.
	ClaimEvent(ctx context.Context, id, eventType string, apply func(context.Context) error) (claimed bool, err error)
}

type CheckoutRequest struct {
	UserID         string
	CustomerID     string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type Subscription struct {
	ID                string
	CustomerID        string
	UserID            string
	Status            string
	PriceID           string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// SubscriptionUpdate is written to the profile after Stripe reports a change.
// An empty SubscriptionID clears the subscription.
type SubscriptionUpdate struct {
	SubscriptionID    string
	Tier              plan.Tier
	Status            plan.Status
	Interval          string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutCompleted
	Subscription *Subscription
	Invoice      *Invoice
}

type CheckoutCompleted struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
}

type Invoice struct {
	CustomerID     string
	SubscriptionID string
}

type RefundRequest struct {
	PaymentIntentID string
	AmountCents     int64
	Reason          string
	IdempotencyKey  string
}

type RefundResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
}

type Status struct {
	Tier              plan.Tier   `json:"tier"`
	Status            plan.Status `json:"status"`
	Interval          string      `json:"interval,omitempty"`
	CurrentPeriodEnd  *time.Time  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
	HasSubscription   bool        `json:"has_subscription"`
	TrialEndsAt       *time.Time  `json:"trial_ends_at,omitempty"`
	Plan              plan.Plan   `json:"plan"`
}

type PlanInput struct {
	Tier     string `json:"tier" validate:"required"`
	Interval string `json:"interval" validate:"required,oneof=month year"`
}

// Prices maps tiers and intervals to Stripe price ids and back.
type Prices struct {
	book config.PriceBook
}

func NewPrices(book config.PriceBook) Prices {
	return Prices{book: book}
}

func (p Prices) ID(tier plan.Tier, interval string) string {
	switch {
	case tier == plan.TierBasic && interval == IntervalMonth:
		return p.book.BasicMonthly
	case tier == plan.TierBasic && interval == IntervalYear:
		return p.book.BasicYearly
	case tier == plan.TierPremium && interval == IntervalMonth:
		return p.book.PremiumMonthly
	case tier == plan.TierPremium && interval == IntervalYear:
		return p.book.PremiumYearly
	default:
		return ""
	}
}

// Lookup resolves a price id. ok is false for prices this service does not sell.
func (p Prices) Lookup(priceID string) (tier plan.Tier, interval string, ok bool) {
	if priceID == "" {
		return "", "", false
	}
	switch priceID {
	case p.book.BasicMonthly:
		return plan.TierBasic, IntervalMonth, true
	case p.book.BasicYearly:
		return plan.TierBasic, IntervalYear, true
	case p.book.PremiumMonthly:
		return plan.TierPremium, IntervalMonth, true
	case p.book.PremiumYearly:
		return plan.TierPremium, IntervalYear, true
	}
	return "", "", false
}
