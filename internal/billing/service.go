package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/notify"
	"jeoparty/internal/plan"
	"jeoparty/internal/validate"
)

// ErrNotConfigured is returned when billing is disabled for this deployment.
var ErrNotConfigured = fmt.Errorf("%w: billing is not configured", apperr.ErrUpstream)

type Service struct {
	store    Store
	provider Provider
	prices   Prices
	notifier *notify.Notifier
	baseURL  string
	log      *slog.Logger
	now      func() time.Time
}

type Options struct {
	Store      Store
	Provider   Provider
	Prices     Prices
	Notifier   *notify.Notifier
	AppBaseURL string
	Logger     *slog.Logger
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    opts.Store,
		provider: opts.Provider,
		prices:   opts.Prices,
		notifier: opts.Notifier,
		baseURL:  opts.AppBaseURL,
		log:      logger,
		now:      time.Now,
	}
}

func (s *Service) enabled() error {
	if s.provider == nil {
		return ErrNotConfigured
	}
	return nil
}

func (s *Service) parsePlan(in PlanInput) (plan.Tier, string, string, error) {
	if err := validate.Struct(in); err != nil {
		return "", "", "", err
	}
	tier, err := plan.ParsePaidTier(in.Tier)
	if err != nil {
		return "", "", "", err
	}
	priceID := s.prices.ID(tier, in.Interval)
	if priceID == "" {
		return "", "", "", fmt.Errorf("%w: no price configured for %s/%s", apperr.ErrUpstream, tier, in.Interval)
	}
	return tier, in.Interval, priceID, nil
}

func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Tier:              p.Tier,
		Status:            p.Status,
		Interval:          p.BillingInterval,
		CurrentPeriodEnd:  p.CurrentPeriodEnd,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		HasSubscription:   p.HasSubscription(),
		TrialEndsAt:       p.TrialEndsAt,
		Plan:              p.Plan(s.now()),
	}, nil
}

func hasLiveSubscription(p account.Profile) bool {
	return p.HasSubscription() && (p.Status == plan.StatusActive || p.Status == plan.StatusTrial)
}

// Checkout starts a Stripe Checkout session and returns its URL.
func (s *Service) Checkout(ctx context.Context, userID string, in PlanInput) (string, error) {
	if err := s.enabled(); err != nil {
		return "", err
	}
	tier, _, priceID, err := s.parsePlan(in)
	if err != nil {
		return "", err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if hasLiveSubscription(p) {
		return "", apperr.Conflict("already subscribed; change the plan instead")
	}
	customerID := p.StripeCustomerID
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, p.ID, p.Email, p.DisplayName)
		if err != nil {
			return "", err
		}
		if err := s.store.SetStripeCustomer(ctx, p.ID, customerID); err != nil {
			return "", err
		}
	}
	url, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:         p.ID,
		CustomerID:     customerID,
		PriceID:        priceID,
		SuccessURL:     s.baseURL + "/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.baseURL + "/billing?checkout=cancelled",
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	s.log.Info("checkout started", "user_id", p.ID, "tier", tier)
	return url, nil
}

// ChangePlan swaps the subscription's price with proration.
func (s *Service) ChangePlan(ctx context.Context, userID string, in PlanInput) (Status, error) {
	if err := s.enabled(); err != nil {
		return Status{}, err
	}
	tier, interval, priceID, err := s.parsePlan(in)
	if err != nil {
		return Status{}, err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if !p.HasSubscription() {
		return Status{}, apperr.Conflict("no active subscription")
	}
	if p.Tier == tier && p.BillingInterval == interval {
		return Status{}, apperr.Invalid("tier", "already on this plan")
	}
	sub, err := s.provider.UpdateSubscriptionPrice(ctx, p.StripeSubscriptionID, priceID)
	if err != nil {
		return Status{}, err
	}
	if _, err := s.applySubscription(ctx, p.ID, sub); err != nil {
		return Status{}, err
	}
	s.log.Info("plan changed", "user_id", p.ID, "from", p.Tier, "to", tier, "interval", interval)
	return s.Status(ctx, p.ID)
}

func (s *Service) Cancel(ctx context.Context, userID string) (Status, error) {
	return s.setCancel(ctx, userID, true)
}

func (s *Service) Resume(ctx context.Context, userID string) (Status, error) {
	return s.setCancel(ctx, userID, false)
}

func (s *Service) setCancel(ctx context.Context, userID string, cancel bool) (Status, error) {
	if err := s.enabled(); err != nil {
		return Status{}, err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if !p.HasSubscription() {
		return Status{}, apperr.Conflict("no active subscription")
	}
	if p.CancelAtPeriodEnd == cancel {
		return s.Status(ctx, p.ID)
	}
	sub, err := s.provider.SetCancelAtPeriodEnd(ctx, p.StripeSubscriptionID, cancel)
	if err != nil {
		return Status{}, err
	}
	if _, err := s.applySubscription(ctx, p.ID, sub); err != nil {
		return Status{}, err
	}
	s.log.Info("subscription cancel flag set", "user_id", p.ID, "cancel_at_period_end", cancel)
	return s.Status(ctx, p.ID)
}

func (s *Service) Portal(ctx context.Context, userID string) (string, error) {
	if err := s.enabled(); err != nil {
		return "", err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.StripeCustomerID == "" {
		return "", apperr.Conflict("no billing account yet")
	}
	return s.provider.CreatePortalSession(ctx, p.StripeCustomerID, s.baseURL+"/billing")
}

// Refund issues a refund against a payment intent. AmountCents of zero refunds in full.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := s.enabled(); err != nil {
		return RefundResult{}, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return s.provider.Refund(ctx, req)
}

// PaymentIntentCustomer reports which Stripe customer a payment intent belongs to.
func (s *Service) PaymentIntentCustomer(ctx context.Context, paymentIntentID string) (string, error) {
	if err := s.enabled(); err != nil {
		return "", err
	}
	return s.provider.PaymentIntentCustomer(ctx, paymentIntentID)
}

// HandleWebhook verifies and applies a Stripe event. Replayed events are acknowledged without effect.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := s.enabled(); err != nil {
		return err
	}
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	claimed, err := s.store.ClaimEvent(ctx, ev.ID, ev.Type, func(ctx context.Context) error {
		return s.apply(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	if !claimed {
		s.log.Info("stripe event replayed", "event_id", ev.ID, "type", ev.Type)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Checkout == nil || ev.Checkout.UserID == "" {
			s.log.Warn("checkout without user reference", "event_id", ev.ID)
			return nil
		}
		if err := s.store.LinkSubscription(ctx, ev.Checkout.UserID, ev.Checkout.CustomerID, ev.Checkout.SubscriptionID); err != nil {
			return err
		}
		s.log.Info("checkout completed", "user_id", ev.Checkout.UserID, "subscription_id", ev.Checkout.SubscriptionID)
		return nil

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Subscription == nil {
			return nil
		}
		p, err := s.subscriber(ctx, *ev.Subscription)
		if err != nil {
			return ignoreUnknown(err)
		}
		if stale(p, *ev.Subscription) {
			s.log.Info("ignoring event for superseded subscription", "user_id", p.ID, "subscription_id", ev.Subscription.ID, "current", p.StripeSubscriptionID)
			return nil
		}
		_, err = s.applySubscription(ctx, p.ID, *ev.Subscription)
		return err

	case EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return nil
		}
		p, err := s.subscriber(ctx, *ev.Subscription)
		if err != nil {
			return ignoreUnknown(err)
		}
		if p.StripeSubscriptionID != "" && p.StripeSubscriptionID != ev.Subscription.ID {
			return nil
		}
		_, err = s.store.UpdateSubscription(ctx, p.ID, SubscriptionUpdate{Tier: plan.TierFree, Status: plan.StatusCancelled})
		if err == nil {
			s.log.Info("subscription ended", "user_id", p.ID)
		}
		return err

	case EventInvoicePaymentFailed, EventInvoicePaid:
		if ev.Invoice == nil || ev.Invoice.SubscriptionID == "" {
			return nil
		}
		p, err := s.store.GetProfileByCustomer(ctx, ev.Invoice.CustomerID)
		if err != nil {
			return ignoreUnknown(err)
		}
		if p.StripeSubscriptionID != ev.Invoice.SubscriptionID {
			return nil
		}
		if ev.Type == EventInvoicePaid {
			return s.store.SetBillingStatus(ctx, p.ID, plan.StatusActive)
		}
		if err := s.store.SetBillingStatus(ctx, p.ID, plan.StatusInactive); err != nil {
			return err
		}
		s.log.Warn("payment failed", "user_id", p.ID)
		s.notifier.PaymentFailed(ctx, mail.Address{Name: p.DisplayName, Address: p.Email}, s.baseURL+"/billing")
		return nil

	default:
		s.log.Debug("stripe event ignored", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

// subscriber finds the profile a subscription belongs to, by customer first, then by metadata.
func (s *Service) subscriber(ctx context.Context, sub Subscription) (account.Profile, error) {
	p, err := s.store.GetProfileByCustomer(ctx, sub.CustomerID)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) || sub.UserID == "" {
		return p, err
	}
	p, err = s.store.GetProfile(ctx, sub.UserID)
	if err != nil {
		return account.Profile{}, err
	}
	if p.StripeCustomerID == "" {
		if err := s.store.SetStripeCustomer(ctx, p.ID, sub.CustomerID); err != nil {
			return account.Profile{}, err
		}
		p.StripeCustomerID = sub.CustomerID
	}
	return p, nil
}

func (s *Service) applySubscription(ctx context.Context, userID string, sub Subscription) (account.Profile, error) {
	tier, interval, ok := s.prices.Lookup(sub.PriceID)
	if !ok {
		s.log.Warn("subscription with unknown price", "user_id", userID, "price_id", sub.PriceID)
		return account.Profile{}, nil
	}
	u := SubscriptionUpdate{
		SubscriptionID:    sub.ID,
		Tier:              tier,
		Status:            plan.StripeStatus(sub.Status),
		Interval:          interval,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd.UTC()
		u.CurrentPeriodEnd = &end
	}
	p, err := s.store.UpdateSubscription(ctx, userID, u)
	if err != nil {
		return account.Profile{}, err
	}
	s.log.Info("subscription synced", "user_id", userID, "tier", u.Tier, "status", u.Status)
	return p, nil
}

// stale reports whether sub is not the profile's subscription and must not replace it.
// A different subscription takes over only when it is live and the current one is not.
func stale(p account.Profile, sub Subscription) bool {
	if p.StripeSubscriptionID == "" || p.StripeSubscriptionID == sub.ID {
		return false
	}
	return live(p.Status) || !live(plan.StripeStatus(sub.Status))
}

func live(st plan.Status) bool {
	return st == plan.StatusActive || st == plan.StatusTrial
}

// ignoreUnknown acknowledges events for customers this service never created.
func ignoreUnknown(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
