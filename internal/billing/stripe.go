package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"jeoparty/internal/apperr"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

var _ Provider = (*StripeProvider)(nil)

func NewStripeProvider(secretKey, webhookSecret string, logger *slog.Logger) *StripeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api, webhookSecret: webhookSecret, log: logger}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey("customer-" + userID)
	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", upstream("create customer", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": req.UserID},
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", upstream("create checkout session", err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (Subscription, error) {
	current, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return Subscription{}, upstream("get subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return Subscription{}, fmt.Errorf("%w: subscription %s has no items", apperr.ErrUpstream, subscriptionID)
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.Items.Data[0].ID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return Subscription{}, upstream("update subscription", err)
	}
	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return Subscription{}, upstream("update subscription", err)
	}
	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", upstream("create portal session", err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	params.Context = ctx
	params.AddMetadata("reason", req.Reason)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	r, err := p.api.Refunds.New(params)
	if err != nil {
		return RefundResult{}, upstream("create refund", err)
	}
	return RefundResult{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

func (p *StripeProvider) PaymentIntentCustomer(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return "", apperr.NotFound("payment intent")
		}
		return "", upstream("get payment intent", err)
	}
	if pi.Customer == nil {
		return "", nil
	}
	return pi.Customer.ID, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, apperr.Invalid("stripe-signature", "invalid webhook signature")
	}
	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return Event{}, fmt.Errorf("decode checkout session: %w", err)
		}
		c := &CheckoutCompleted{UserID: cs.ClientReferenceID}
		if cs.Customer != nil {
			c.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			c.SubscriptionID = cs.Subscription.ID
		}
		out.Checkout = c
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return Event{}, fmt.Errorf("decode subscription: %w", err)
		}
		s := subscriptionFromStripe(&sub)
		out.Subscription = &s
	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return Event{}, fmt.Errorf("decode invoice: %w", err)
		}
		i := &Invoice{}
		if inv.Customer != nil {
			i.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			i.SubscriptionID = inv.Subscription.ID
		}
		out.Invoice = i
	}
	return out, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UserID:            sub.Metadata["user_id"],
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

func upstream(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return fmt.Errorf("%w: %s: %s", apperr.ErrUpstream, op, serr.Msg)
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrUpstream, op, err)
}
