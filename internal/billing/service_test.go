package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/billing"
	"jeoparty/internal/config"
	"jeoparty/internal/notify"
	"jeoparty/internal/plan"
	"jeoparty/internal/store/memory"
)

var book = config.PriceBook{
	BasicMonthly:   "price_bm",
	BasicYearly:    "price_by",
	PremiumMonthly: "price_pm",
	PremiumYearly:  "price_py",
}

type fakeProvider struct {
	customers int
	checkouts []billing.CheckoutRequest
	sub       billing.Subscription
	refunds   []billing.RefundRequest
	intents   map[string]string
	events    map[string]billing.Event
	fail      error
}

func (f *fakeProvider) CreateCustomer(_ context.Context, userID, _, _ string) (string, error) {
	f.customers++
	return "cus_" + userID[:8], f.fail
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.checkouts = append(f.checkouts, req)
	return "https://checkout.stripe.test/" + req.PriceID, nil
}

func (f *fakeProvider) UpdateSubscriptionPrice(_ context.Context, subscriptionID, priceID string) (billing.Subscription, error) {
	f.sub.ID = subscriptionID
	f.sub.PriceID = priceID
	return f.sub, f.fail
}

func (f *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) (billing.Subscription, error) {
	f.sub.ID = subscriptionID
	f.sub.CancelAtPeriodEnd = cancel
	return f.sub, f.fail
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	return "https://portal.stripe.test/" + customerID, f.fail
}

func (f *fakeProvider) Refund(_ context.Context, req billing.RefundRequest) (billing.RefundResult, error) {
	f.refunds = append(f.refunds, req)
	return billing.RefundResult{ID: "re_1", Status: "succeeded", AmountCents: req.AmountCents}, f.fail
}

func (f *fakeProvider) PaymentIntentCustomer(_ context.Context, id string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	owner, ok := f.intents[id]
	if !ok {
		return "", apperr.NotFound("payment intent")
	}
	return owner, nil
}

func (f *fakeProvider) ParseWebhook(_ []byte, signature string) (billing.Event, error) {
	ev, ok := f.events[signature]
	if !ok {
		return billing.Event{}, apperr.Invalid("stripe-signature", "invalid webhook signature")
	}
	return ev, nil
}

type harness struct {
	svc      *billing.Service
	store    *memory.Store
	provider *fakeProvider
	mailer   *notify.ConsoleMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	fp := &fakeProvider{events: map[string]billing.Event{}, sub: billing.Subscription{Status: "active"}}
	mailer := notify.NewConsoleMailer(nil)
	svc := billing.NewService(billing.Options{
		Store:      st,
		Provider:   fp,
		Prices:     billing.NewPrices(book),
		Notifier:   notify.NewNotifier(mailer, nil),
		AppBaseURL: "https://app.test",
	})
	return &harness{svc: svc, store: st, provider: fp, mailer: mailer}
}

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com"})

	url, err := h.svc.Checkout(ctx, p.ID, billing.PlanInput{Tier: "premium", Interval: "year"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/price_py", url)

	_, err = h.svc.Checkout(ctx, p.ID, billing.PlanInput{Tier: "BASIC", Interval: "month"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.customers)
	require.Len(t, h.provider.checkouts, 2)
	assert.Equal(t, p.ID, h.provider.checkouts[0].UserID)
	assert.NotEqual(t, h.provider.checkouts[0].IdempotencyKey, h.provider.checkouts[1].IdempotencyKey)
	assert.Contains(t, h.provider.checkouts[0].SuccessURL, "https://app.test/billing")
}

func TestCheckoutRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com"})

	_, err := h.svc.Checkout(ctx, p.ID, billing.PlanInput{Tier: "FREE", Interval: "month"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.Checkout(ctx, p.ID, billing.PlanInput{Tier: "BASIC", Interval: "week"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	subbed := h.store.PutProfile(account.Profile{Email: "s@example.com", Tier: plan.TierBasic, Status: plan.StatusActive, StripeSubscriptionID: "sub_1"})
	_, err = h.svc.Checkout(ctx, subbed.ID, billing.PlanInput{Tier: "PREMIUM", Interval: "month"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestNotConfigured(t *testing.T) {
	st := memory.New()
	svc := billing.NewService(billing.Options{Store: st, Prices: billing.NewPrices(book)})
	p := st.PutProfile(account.Profile{Email: "t@example.com"})

	_, err := svc.Checkout(context.Background(), p.ID, billing.PlanInput{Tier: "BASIC", Interval: "month"})
	assert.ErrorIs(t, err, billing.ErrNotConfigured)
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	status, err := svc.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, status.HasSubscription)
}

func TestChangePlanAndCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{
		Email: "t@example.com", Tier: plan.TierBasic, Status: plan.StatusActive,
		BillingInterval: billing.IntervalMonth, StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
	})

	_, err := h.svc.ChangePlan(ctx, p.ID, billing.PlanInput{Tier: "BASIC", Interval: "month"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	h.provider.sub.CurrentPeriodEnd = time.Now().Add(30 * 24 * time.Hour)
	st, err := h.svc.ChangePlan(ctx, p.ID, billing.PlanInput{Tier: "PREMIUM", Interval: "month"})
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, st.Tier)
	assert.Equal(t, plan.StatusActive, st.Status)
	require.NotNil(t, st.CurrentPeriodEnd)
	assert.Equal(t, plan.TierPremium, st.Plan.Tier)

	st, err = h.svc.Cancel(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, st.CancelAtPeriodEnd)
	assert.Equal(t, plan.TierPremium, st.Plan.Tier, "access continues until period end")

	st, err = h.svc.Resume(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, st.CancelAtPeriodEnd)

	free := h.store.PutProfile(account.Profile{Email: "f@example.com"})
	_, err = h.svc.Cancel(ctx, free.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPortal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com"})
	_, err := h.svc.Portal(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	p = h.store.PutProfile(account.Profile{Email: "c@example.com", StripeCustomerID: "cus_9"})
	url, err := h.svc.Portal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.stripe.test/cus_9", url)
}

func TestWebhookLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com", DisplayName: "Tess"})
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	h.provider.events["checkout"] = billing.Event{
		ID: "evt_1", Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{UserID: p.ID, CustomerID: "cus_1", SubscriptionID: "sub_1"},
	}
	h.provider.events["created"] = billing.Event{
		ID: "evt_2", Type: billing.EventSubscriptionCreated,
		Subscription: &billing.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "active", PriceID: "price_by", CurrentPeriodEnd: end},
	}
	h.provider.events["failed"] = billing.Event{
		ID: "evt_3", Type: billing.EventInvoicePaymentFailed,
		Invoice: &billing.Invoice{CustomerID: "cus_1", SubscriptionID: "sub_1"},
	}
	h.provider.events["paid"] = billing.Event{
		ID: "evt_4", Type: billing.EventInvoicePaid,
		Invoice: &billing.Invoice{CustomerID: "cus_1", SubscriptionID: "sub_1"},
	}
	h.provider.events["deleted"] = billing.Event{
		ID: "evt_5", Type: billing.EventSubscriptionDeleted,
		Subscription: &billing.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "canceled"},
	}

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "checkout"))
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "created"))
	got, err := h.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.TierBasic, got.Tier)
	assert.Equal(t, plan.StatusActive, got.Status)
	assert.Equal(t, billing.IntervalYear, got.Interval)
	assert.True(t, got.HasSubscription)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "failed"))
	got, err = h.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusInactive, got.Status)
	assert.Equal(t, plan.TierFree, got.Plan.Tier)
	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.TemplatePaymentFailed, sent[0].TemplateName)
	assert.Equal(t, "t@example.com", sent[0].To.Address)
	assert.Contains(t, sent[0].TextContent, "https://app.test/billing")

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "paid"))
	got, err = h.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusActive, got.Status)

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "deleted"))
	got, err = h.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, got.Tier)
	assert.Equal(t, plan.StatusCancelled, got.Status)
	assert.False(t, got.HasSubscription)
}

func TestWebhookReplayIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Tier: plan.TierBasic, Status: plan.StatusActive})
	h.provider.events["failed"] = billing.Event{
		ID: "evt_9", Type: billing.EventInvoicePaymentFailed,
		Invoice: &billing.Invoice{CustomerID: "cus_1", SubscriptionID: "sub_1"},
	}

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "failed"))
	require.NoError(t, h.store.SetBillingStatus(ctx, p.ID, plan.StatusActive))
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "failed"))

	got, err := h.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusActive, got.Status)
	assert.Len(t, h.mailer.Sent(), 1)
}

func TestWebhookConcurrentDeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.PutProfile(account.Profile{Email: "t@example.com", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Tier: plan.TierBasic, Status: plan.StatusActive})
	h.provider.events["failed"] = billing.Event{
		ID: "evt_9", Type: billing.EventInvoicePaymentFailed,
		Invoice: &billing.Invoice{CustomerID: "cus_1", SubscriptionID: "sub_1"},
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.svc.HandleWebhook(ctx, nil, "failed")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, h.mailer.Sent(), 1)
}

func TestWebhookIgnoresSupersededSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.store.PutProfile(account.Profile{Email: "t@example.com", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_A", Tier: plan.TierBasic, Status: plan.StatusCancelled})

	h.provider.events["created-b"] = billing.Event{
		ID: "evt_1", Type: billing.EventSubscriptionCreated,
		Subscription: &billing.Subscription{ID: "sub_B", CustomerID: "cus_1", Status: "active", PriceID: "price_pm"},
	}
	h.provider.events["late-a"] = billing.Event{
		ID: "evt_2", Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.Subscription{ID: "sub_A", CustomerID: "cus_1", Status: "canceled", PriceID: "price_bm"},
	}
	h.provider.events["late-a-active"] = billing.Event{
		ID: "evt_3", Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.Subscription{ID: "sub_A", CustomerID: "cus_1", Status: "active", PriceID: "price_bm"},
	}

	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "created-b"))
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "late-a"))
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "late-a-active"))

	got, err := h.store.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_B", got.StripeSubscriptionID)
	assert.Equal(t, plan.TierPremium, got.Tier)
	assert.Equal(t, plan.StatusActive, got.Status)
}

func TestWebhookUnknownCustomerAndPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.events["stranger"] = billing.Event{
		ID: "evt_1", Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.Subscription{ID: "sub_x", CustomerID: "cus_x", Status: "active", PriceID: "price_bm"},
	}
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "stranger"))

	p := h.store.PutProfile(account.Profile{Email: "t@example.com"})
	h.provider.events["metadata"] = billing.Event{
		ID: "evt_2", Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.Subscription{ID: "sub_2", CustomerID: "cus_2", UserID: p.ID, Status: "trialing", PriceID: "price_pm"},
	}
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "metadata"))
	got, err := h.store.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_2", got.StripeCustomerID)
	assert.Equal(t, plan.TierPremium, got.Tier)
	assert.Equal(t, plan.StatusTrial, got.Status)

	h.provider.events["odd-price"] = billing.Event{
		ID: "evt_3", Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.Subscription{ID: "sub_2", CustomerID: "cus_2", Status: "active", PriceID: "price_unknown"},
	}
	require.NoError(t, h.svc.HandleWebhook(ctx, nil, "odd-price"))
	got, err = h.store.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, got.Tier)

	err = h.svc.HandleWebhook(ctx, nil, "forged")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRefundPassesThrough(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Refund(context.Background(), billing.RefundRequest{PaymentIntentID: "pi_1", AmountCents: 500})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.ID)
	require.Len(t, h.provider.refunds, 1)
	assert.NotEmpty(t, h.provider.refunds[0].IdempotencyKey)

	h.provider.fail = errors.New("card_declined")
	_, err = h.svc.Refund(context.Background(), billing.RefundRequest{PaymentIntentID: "pi_2"})
	assert.Error(t, err)
}

func TestPaymentIntentCustomer(t *testing.T) {
	h := newHarness(t)
	h.provider.intents = map[string]string{"pi_1": "cus_a"}

	owner, err := h.svc.PaymentIntentCustomer(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_a", owner)

	_, err = h.svc.PaymentIntentCustomer(context.Background(), "pi_9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = billing.NewService(billing.Options{}).PaymentIntentCustomer(context.Background(), "pi_1")
	assert.ErrorIs(t, err, billing.ErrNotConfigured)
}
