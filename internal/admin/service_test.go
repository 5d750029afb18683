package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"
	"jeoparty/internal/billing"
	"jeoparty/internal/notify"
	"jeoparty/internal/plan"
	"jeoparty/internal/store/memory"
)

const reason = "support ticket #4521"

type fakeRefunder struct {
	reqs   []billing.RefundRequest
	owners map[string]string
	err    error
}

func (f *fakeRefunder) PaymentIntentCustomer(_ context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	owner, ok := f.owners[id]
	if !ok {
		return "", apperr.NotFound("payment intent")
	}
	return owner, nil
}

func (f *fakeRefunder) Refund(_ context.Context, req billing.RefundRequest) (billing.RefundResult, error) {
	if f.err != nil {
		return billing.RefundResult{}, f.err
	}
	f.reqs = append(f.reqs, req)
	amount := req.AmountCents
	if amount == 0 {
		amount = 1999
	}
	return billing.RefundResult{ID: "re_123", Status: "succeeded", AmountCents: amount}, nil
}

type harness struct {
	svc      *admin.Service
	store    *memory.Store
	refunder *fakeRefunder
	mailer   *notify.ConsoleMailer
	admin    account.Profile
	actor    admin.Actor
	user     account.Profile
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	rf := &fakeRefunder{owners: map[string]string{
		"pi_abc":   "cus_teacher",
		"pi_def":   "cus_teacher",
		"pi_other": "cus_someone_else",
	}}
	mailer := notify.NewConsoleMailer(nil)
	a := st.PutProfile(account.Profile{Email: "root@jeoparty.test", Role: account.RoleAdmin})
	u := st.PutProfile(account.Profile{Email: "teacher@school.org", DisplayName: "Ms. T", StripeCustomerID: "cus_teacher"})
	return &harness{
		svc:      admin.NewService(st, rf, notify.NewNotifier(mailer, nil), nil),
		store:    st,
		refunder: rf,
		mailer:   mailer,
		admin:    a,
		actor:    admin.Actor{AdminID: a.ID, IP: "203.0.113.7"},
		user:     u,
	}
}

func (h *harness) audit(t *testing.T, action string) []admin.AuditEntry {
	t.Helper()
	entries, _, err := h.svc.AuditLog(context.Background(), admin.AuditFilter{Action: action})
	require.NoError(t, err)
	return entries
}

func TestRequireAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.RequireAdmin(ctx, h.admin.ID)
	require.NoError(t, err)
	_, err = h.svc.RequireAdmin(ctx, h.user.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.svc.RequireAdmin(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSuspendAndUnsuspend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Suspend(ctx, h.actor, h.user.ID, "short")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p, err := h.svc.Suspend(ctx, h.actor, h.user.ID, reason)
	require.NoError(t, err)
	assert.True(t, p.Suspended)
	assert.Equal(t, reason, p.SuspendedReason)
	require.NotNil(t, p.SuspendedAt)
	assert.True(t, p.Plan(time.Now()).Suspended)

	_, err = h.svc.Suspend(ctx, h.actor, h.user.ID, reason)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	entries := h.audit(t, admin.ActionSuspend)
	require.Len(t, entries, 1)
	assert.Equal(t, h.user.ID, entries[0].TargetUserID)
	assert.Equal(t, "203.0.113.7", entries[0].IP)
	assert.Equal(t, reason, entries[0].Details["reason"])

	p, err = h.svc.Unsuspend(ctx, h.actor, h.user.ID, "")
	require.NoError(t, err)
	assert.False(t, p.Suspended)
	assert.Empty(t, p.SuspendedReason)
	assert.Nil(t, p.SuspendedAt)

	_, err = h.svc.Unsuspend(ctx, h.actor, h.user.ID, "")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	sent := h.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, notify.TemplateSuspended, sent[0].TemplateName)
	assert.Contains(t, sent[0].TextContent, reason)
	assert.Equal(t, notify.TemplateUnsuspended, sent[1].TemplateName)
}

func TestAdminsCannotTargetThemselvesOrAdmins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := h.store.PutProfile(account.Profile{Email: "ops@jeoparty.test", Role: account.RoleAdmin})

	_, err := h.svc.Suspend(ctx, h.actor, h.admin.ID, reason)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.svc.Suspend(ctx, h.actor, other.ID, reason)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: other.ID, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Empty(t, h.audit(t, ""))
}

func TestGrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Grant(ctx, h.actor, h.user.ID, admin.GrantInput{Tier: "FREE", Days: 30, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.Grant(ctx, h.actor, h.user.ID, admin.GrantInput{Tier: "PREMIUM", Days: 400, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p, err := h.svc.Grant(ctx, h.actor, h.user.ID, admin.GrantInput{Tier: "premium", Days: 30, Reason: reason})
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, p.GrantTier)
	require.NotNil(t, p.GrantExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *p.GrantExpiresAt, time.Minute)
	assert.Equal(t, plan.TierPremium, p.Plan(time.Now()).Tier)
	assert.Equal(t, "grant", p.Plan(time.Now()).Source)

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.TemplateGrant, sent[0].TemplateName)

	p, err = h.svc.RevokeGrant(ctx, h.actor, h.user.ID, reason)
	require.NoError(t, err)
	assert.Empty(t, p.GrantTier)
	assert.Nil(t, p.GrantExpiresAt)

	_, err = h.svc.RevokeGrant(ctx, h.actor, h.user.ID, reason)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, h.audit(t, admin.ActionGrant), 1)
	assert.Len(t, h.audit(t, admin.ActionRevokeGrant), 1)
}

func TestSweepGrants(t *testing.T) {
	h := newHarness(t)
	past := time.Now().Add(-time.Minute)
	h.store.PutProfile(account.Profile{Email: "g@example.com", GrantTier: plan.TierBasic, GrantExpiresAt: &past})

	n, err := h.svc.SweepGrants(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCustomPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	teams := 15

	_, err := h.svc.SetCustomPlan(ctx, h.actor, h.user.ID, admin.CustomPlanInput{Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.SetCustomPlan(ctx, h.actor, h.user.ID, admin.CustomPlanInput{Features: []string{"teleport"}, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p, err := h.svc.SetCustomPlan(ctx, h.actor, h.user.ID, admin.CustomPlanInput{
		MaxTeams: &teams,
		Features: []string{"question_images"},
		Reason:   reason,
	})
	require.NoError(t, err)
	pl := p.Plan(time.Now())
	assert.True(t, pl.Custom)
	assert.Equal(t, 15, pl.MaxTeams)
	assert.True(t, pl.Allows(plan.FeatureQuestionImages))

	p, err = h.svc.ClearCustomPlan(ctx, h.actor, h.user.ID, reason)
	require.NoError(t, err)
	assert.True(t, p.Custom.IsZero())

	_, err = h.svc.ClearCustomPlan(ctx, h.actor, h.user.ID, reason)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: h.user.ID, PaymentIntentID: "ch_1", Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	r, err := h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: h.user.ID, PaymentIntentID: "pi_abc", Reason: reason})
	require.NoError(t, err)
	assert.Equal(t, "re_123", r.StripeRefundID)
	assert.EqualValues(t, 1999, r.AmountCents)
	assert.Equal(t, h.admin.ID, r.AdminID)

	detail, err := h.svc.GetUser(ctx, h.user.ID)
	require.NoError(t, err)
	require.Len(t, detail.Refunds, 1)
	require.Len(t, detail.RecentAudit, 1)
	assert.Equal(t, admin.ActionRefund, detail.RecentAudit[0].Action)

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "$19.99")

	h.refunder.err = billing.ErrNotConfigured
	_, err = h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: h.user.ID, PaymentIntentID: "pi_def", AmountCents: 100, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Len(t, h.audit(t, admin.ActionRefund), 1, "failed refunds are not recorded")
}

func TestRefundRejectsOtherCustomersPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: h.user.ID, PaymentIntentID: "pi_other", Reason: reason})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "payment_intent_id")

	_, err = h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: h.user.ID, PaymentIntentID: "pi_missing", Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	nocus := h.store.PutProfile(account.Profile{Email: "free@school.org"})
	_, err = h.svc.Refund(ctx, h.actor, admin.RefundInput{UserID: nocus.ID, PaymentIntentID: "pi_abc", Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, h.refunder.reqs, "nothing reaches Stripe")
	assert.Empty(t, h.audit(t, admin.ActionRefund))
	assert.Empty(t, h.mailer.Sent())
}

func TestImpersonationLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason, Minutes: 90})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	sess, err := h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason})
	require.NoError(t, err)
	assert.WithinDuration(t, sess.StartedAt.Add(30*time.Minute), sess.ExpiresAt, time.Second)

	_, err = h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	active, err := h.svc.ActiveImpersonation(ctx, h.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	target, resolved, err := h.svc.ResolveImpersonation(ctx, h.admin.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, h.user.ID, target.ID)
	assert.Equal(t, sess.ID, resolved.ID)

	other := h.store.PutProfile(account.Profile{Email: "ops@jeoparty.test", Role: account.RoleAdmin})
	_, _, err = h.svc.ResolveImpersonation(ctx, other.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, h.svc.RecordImpersonatedWrite(ctx, resolved, "203.0.113.7", "POST", "/v1/banks", 201))
	writes := h.audit(t, admin.ActionImpersonatedWrite)
	require.Len(t, writes, 1)
	assert.Equal(t, "/v1/banks", writes[0].Details["path"])

	res, err := h.svc.EndImpersonation(ctx, h.actor, sess.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyEnded)
	res, err = h.svc.EndImpersonation(ctx, h.actor, sess.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyEnded)

	_, _, err = h.svc.ResolveImpersonation(ctx, h.admin.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Len(t, h.audit(t, admin.ActionImpersonationStart), 1)
	assert.Len(t, h.audit(t, admin.ActionImpersonationEnd), 1)
}

func TestImpersonationRateLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < admin.MaxImpersonationsPerHour; i++ {
		sess, err := h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason, Minutes: 5})
		require.NoError(t, err)
		_, err = h.svc.EndImpersonation(ctx, h.actor, sess.ID)
		require.NoError(t, err)
	}
	_, err := h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason, Minutes: 5})
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestExpiredImpersonation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	sess, err := h.svc.StartImpersonation(ctx, h.actor, admin.ImpersonationInput{TargetUserID: h.user.ID, Reason: reason, Minutes: 5})
	require.NoError(t, err)
	h.store.Now = time.Now

	_, _, err = h.svc.ResolveImpersonation(ctx, h.admin.ID, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.svc.ActiveImpersonation(ctx, h.admin.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := h.svc.SweepImpersonations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	res, err := h.svc.EndImpersonation(ctx, h.actor, sess.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyEnded)
}

func TestListUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.PutProfile(account.Profile{Email: "premium@school.org", Tier: plan.TierPremium})

	users, total, err := h.svc.ListUsers(ctx, admin.UserFilter{Query: "school.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, users, 2)

	_, total, err = h.svc.ListUsers(ctx, admin.UserFilter{Tier: "premium"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, _, err = h.svc.ListUsers(ctx, admin.UserFilter{Tier: "GOLD"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAuditLogRejectsInvertedRange(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	earlier := now.Add(-time.Hour)
	_, _, err := h.svc.AuditLog(context.Background(), admin.AuditFilter{Since: &now, Until: &earlier})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
