package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
	"jeoparty/internal/billing"
	"jeoparty/internal/game"
	"jeoparty/internal/notify"
	"jeoparty/internal/plan"
	"jeoparty/internal/validate"
)

type Store interface {
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	ListProfiles(ctx context.Context, f UserFilter) ([]account.Profile, int, error)
	CountBanks(ctx context.Context, ownerID string) (int, error)
	CountOpenGames(ctx context.Context, teacherID string) (int, error)
	ListGames(ctx context.Context, f game.ListFilter) ([]game.Game, int, error)

	ApplyProfileChange(ctx context.Context, userID string, c ProfileChange, audit AuditEntry) (account.Profile, error)
	InsertAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, int, error)
	RecordRefund(ctx context.Context, r Refund, audit AuditEntry) (Refund, error)
	ListRefunds(ctx context.Context, userID string) ([]Refund, error)

	StartImpersonation(ctx context.Context, adminID, targetID, reason string, minutes int) (Session, error)
	EndImpersonation(ctx context.Context, adminID, sessionID string) (alreadyEnded bool, err error)
	GetImpersonation(ctx context.Context, id string) (Session, error)
	ActiveImpersonation(ctx context.Context, adminID string, now time.Time) (Session, error)
	ActiveImpersonationsOf(ctx context.Context, targetID string, now time.Time) ([]Session, error)
	EndExpiredImpersonations(ctx context.Context, now time.Time) (int64, error)
	ExpireGrants(ctx context.Context, now time.Time) (int64, error)
}

// Refunder issues payment refunds.
type Refunder interface {
	Refund(ctx context.Context, req billing.RefundRequest) (billing.RefundResult, error)
	PaymentIntentCustomer(ctx context.Context, paymentIntentID string) (string, error)
}

type Service struct {
	store    Store
	refunder Refunder
	notifier *notify.Notifier
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, refunder Refunder, notifier *notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, refunder: refunder, notifier: notifier, log: logger, now: time.Now}
}

// RequireAdmin loads the caller and fails unless they are an admin.
func (s *Service) RequireAdmin(ctx context.Context, userID string) (account.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return account.Profile{}, fmt.Errorf("%w: admin access required", apperr.ErrForbidden)
		}
		return account.Profile{}, err
	}
	if !p.IsAdmin() {
		return account.Profile{}, fmt.Errorf("%w: admin access required", apperr.ErrForbidden)
	}
	return p, nil
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter) ([]account.Profile, int, error) {
	f.Query = strings.TrimSpace(f.Query)
	if f.Tier != "" {
		t, err := plan.ParseTier(string(f.Tier))
		if err != nil {
			return nil, 0, err
		}
		f.Tier = t
	}
	if f.Status != "" {
		st, err := plan.ParseStatus(string(f.Status))
		if err != nil {
			return nil, 0, err
		}
		f.Status = st
	}
	f.Limit, f.Offset = bank.Page(f.Limit, f.Offset)
	return s.store.ListProfiles(ctx, f)
}

func (s *Service) GetUser(ctx context.Context, id string) (UserDetail, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return UserDetail{}, err
	}
	now := s.now()
	out := UserDetail{Profile: p, Plan: p.Plan(now)}
	if out.Usage.Banks, err = s.store.CountBanks(ctx, id); err != nil {
		return UserDetail{}, err
	}
	if out.Usage.OpenGames, err = s.store.CountOpenGames(ctx, id); err != nil {
		return UserDetail{}, err
	}
	if out.RecentGames, _, err = s.store.ListGames(ctx, game.ListFilter{TeacherID: id, Limit: 10}); err != nil {
		return UserDetail{}, err
	}
	if out.RecentAudit, _, err = s.store.ListAudit(ctx, AuditFilter{TargetUserID: id, Limit: 20}); err != nil {
		return UserDetail{}, err
	}
	if out.Refunds, err = s.store.ListRefunds(ctx, id); err != nil {
		return UserDetail{}, err
	}
	if out.Impersonations, err = s.store.ActiveImpersonationsOf(ctx, id, now); err != nil {
		return UserDetail{}, err
	}
	return out, nil
}

// target loads a user an admin may act on: never themselves and never another admin.
func (s *Service) target(ctx context.Context, actor Actor, id string) (account.Profile, error) {
	if id == actor.AdminID {
		return account.Profile{}, fmt.Errorf("%w: admins cannot act on their own account", apperr.ErrForbidden)
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return account.Profile{}, err
	}
	if p.IsAdmin() {
		return account.Profile{}, fmt.Errorf("%w: admin accounts cannot be targeted", apperr.ErrForbidden)
	}
	return p, nil
}

func (s *Service) audit(actor Actor, action, target string, details map[string]any) AuditEntry {
	return AuditEntry{
		AdminID:      actor.AdminID,
		Action:       action,
		TargetUserID: target,
		Details:      details,
		IP:           actor.IP,
	}
}

func address(p account.Profile) mail.Address {
	return mail.Address{Name: p.DisplayName, Address: p.Email}
}

func (s *Service) Suspend(ctx context.Context, actor Actor, userID, reason string) (account.Profile, error) {
	reason, err := validate.Reason(reason)
	if err != nil {
		return account.Profile{}, err
	}
	p, err := s.target(ctx, actor, userID)
	if err != nil {
		return account.Profile{}, err
	}
	if p.Suspended {
		return account.Profile{}, apperr.Conflict("user is already suspended")
	}
	p, err = s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Suspend: &SuspendChange{Suspended: true, Reason: reason, At: s.now().UTC()}},
		s.audit(actor, ActionSuspend, userID, map[string]any{"reason": reason}))
	if err != nil {
		return account.Profile{}, err
	}
	s.log.Info("user suspended", "admin_id", actor.AdminID, "user_id", userID)
	s.notifier.Suspended(ctx, address(p), reason)
	return p, nil
}

func (s *Service) Unsuspend(ctx context.Context, actor Actor, userID, reason string) (account.Profile, error) {
	p, err := s.target(ctx, actor, userID)
	if err != nil {
		return account.Profile{}, err
	}
	if !p.Suspended {
		return account.Profile{}, apperr.Conflict("user is not suspended")
	}
	details := map[string]any{"previous_reason": p.SuspendedReason}
	if r := strings.TrimSpace(reason); r != "" {
		if r, err = validate.Reason(r); err != nil {
			return account.Profile{}, err
		}
		details["reason"] = r
	}
	p, err = s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Suspend: &SuspendChange{Suspended: false}},
		s.audit(actor, ActionUnsuspend, userID, details))
	if err != nil {
		return account.Profile{}, err
	}
	s.log.Info("user unsuspended", "admin_id", actor.AdminID, "user_id", userID)
	s.notifier.Unsuspended(ctx, address(p))
	return p, nil
}

// Grant gives complimentary access to a paid tier for in.Days days.
func (s *Service) Grant(ctx context.Context, actor Actor, userID string, in GrantInput) (account.Profile, error) {
	if err := validate.Struct(in); err != nil {
		return account.Profile{}, err
	}
	tier, err := plan.ParsePaidTier(in.Tier)
	if err != nil {
		return account.Profile{}, err
	}
	reason, err := validate.Reason(in.Reason)
	if err != nil {
		return account.Profile{}, err
	}
	if _, err := s.target(ctx, actor, userID); err != nil {
		return account.Profile{}, err
	}
	expires := s.now().UTC().Add(time.Duration(in.Days) * 24 * time.Hour)
	p, err := s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Grant: &GrantChange{Tier: tier, ExpiresAt: &expires}},
		s.audit(actor, ActionGrant, userID, map[string]any{
			"tier":       tier,
			"days":       in.Days,
			"expires_at": expires,
			"reason":     reason,
		}))
	if err != nil {
		return account.Profile{}, err
	}
	s.log.Info("grant applied", "admin_id", actor.AdminID, "user_id", userID, "tier", tier, "days", in.Days)
	s.notifier.Grant(ctx, address(p), string(tier), in.Days, expires)
	return p, nil
}

func (s *Service) RevokeGrant(ctx context.Context, actor Actor, userID, reason string) (account.Profile, error) {
	reason, err := validate.Reason(reason)
	if err != nil {
		return account.Profile{}, err
	}
	p, err := s.target(ctx, actor, userID)
	if err != nil {
		return account.Profile{}, err
	}
	if p.GrantTier == "" {
		return account.Profile{}, apperr.Conflict("user has no complimentary grant")
	}
	return s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Grant: &GrantChange{}},
		s.audit(actor, ActionRevokeGrant, userID, map[string]any{"tier": p.GrantTier, "reason": reason}))
}

func (s *Service) SetCustomPlan(ctx context.Context, actor Actor, userID string, in CustomPlanInput) (account.Profile, error) {
	if err := validate.Struct(in); err != nil {
		return account.Profile{}, err
	}
	reason, err := validate.Reason(in.Reason)
	if err != nil {
		return account.Profile{}, err
	}
	o := plan.Overrides{MaxTeams: in.MaxTeams, MaxBanks: in.MaxBanks, MaxActiveGames: in.MaxActiveGames}
	for _, raw := range in.Features {
		f, err := plan.ParseFeature(raw)
		if err != nil {
			return account.Profile{}, err
		}
		o.Features = append(o.Features, f)
	}
	if o.IsZero() {
		return account.Profile{}, apperr.Invalid("custom_plan", "set at least one limit or feature")
	}
	if _, err := s.target(ctx, actor, userID); err != nil {
		return account.Profile{}, err
	}
	return s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Custom: &o},
		s.audit(actor, ActionCustomPlan, userID, map[string]any{"overrides": o, "reason": reason}))
}

func (s *Service) ClearCustomPlan(ctx context.Context, actor Actor, userID, reason string) (account.Profile, error) {
	reason, err := validate.Reason(reason)
	if err != nil {
		return account.Profile{}, err
	}
	p, err := s.target(ctx, actor, userID)
	if err != nil {
		return account.Profile{}, err
	}
	if p.Custom.IsZero() {
		return account.Profile{}, apperr.Conflict("user has no custom plan")
	}
	return s.store.ApplyProfileChange(ctx, userID,
		ProfileChange{Custom: &plan.Overrides{}},
		s.audit(actor, ActionClearCustomPlan, userID, map[string]any{"previous": p.Custom, "reason": reason}))
}

func (s *Service) Refund(ctx context.Context, actor Actor, in RefundInput) (Refund, error) {
	if err := validate.Struct(in); err != nil {
		return Refund{}, err
	}
	reason, err := validate.Reason(in.Reason)
	if err != nil {
		return Refund{}, err
	}
	p, err := s.store.GetProfile(ctx, in.UserID)
	if err != nil {
		return Refund{}, err
	}
	if s.refunder == nil {
		return Refund{}, billing.ErrNotConfigured
	}
	if p.StripeCustomerID == "" {
		return Refund{}, apperr.Invalid("payment_intent_id", "user has no billing account")
	}
	owner, err := s.refunder.PaymentIntentCustomer(ctx, in.PaymentIntentID)
	if err != nil {
		return Refund{}, err
	}
	if owner != p.StripeCustomerID {
		s.log.Warn("refund target mismatch", "admin_id", actor.AdminID, "user_id", p.ID, "payment_intent_id", in.PaymentIntentID)
		return Refund{}, apperr.Invalid("payment_intent_id", "does not belong to this user")
	}
	res, err := s.refunder.Refund(ctx, billing.RefundRequest{
		PaymentIntentID: in.PaymentIntentID,
		AmountCents:     in.AmountCents,
		Reason:          reason,
	})
	if err != nil {
		return Refund{}, err
	}
	r, err := s.store.RecordRefund(ctx, Refund{
		AdminID:         actor.AdminID,
		UserID:          p.ID,
		PaymentIntentID: in.PaymentIntentID,
		StripeRefundID:  res.ID,
		AmountCents:     res.AmountCents,
		Reason:          reason,
		Status:          res.Status,
	}, s.audit(actor, ActionRefund, p.ID, map[string]any{
		"payment_intent_id": in.PaymentIntentID,
		"refund_id":         res.ID,
		"amount_cents":      res.AmountCents,
		"reason":            reason,
	}))
	if err != nil {
		// The money already moved; keep the Stripe id in the logs.
		s.log.Error("refund issued but not recorded", "refund_id", res.ID, "user_id", p.ID, "err", err)
		return Refund{}, err
	}
	s.log.Info("refund issued", "admin_id", actor.AdminID, "user_id", p.ID, "refund_id", res.ID, "amount_cents", res.AmountCents)
	s.notifier.Refund(ctx, address(p), res.AmountCents)
	return r, nil
}

func (s *Service) StartImpersonation(ctx context.Context, actor Actor, in ImpersonationInput) (Session, error) {
	if err := validate.Struct(in); err != nil {
		return Session{}, err
	}
	reason, err := validate.Reason(in.Reason)
	if err != nil {
		return Session{}, err
	}
	minutes := in.Minutes
	if minutes == 0 {
		minutes = DefaultImpersonationMinutes
	}
	if minutes < MinImpersonationMinutes || minutes > MaxImpersonationMinutes {
		return Session{}, apperr.Invalid("minutes", fmt.Sprintf("must be between %d and %d", MinImpersonationMinutes, MaxImpersonationMinutes))
	}
	if _, err := s.target(ctx, actor, in.TargetUserID); err != nil {
		return Session{}, err
	}
	sess, err := s.store.StartImpersonation(ctx, actor.AdminID, in.TargetUserID, reason, minutes)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("impersonation started", "admin_id", actor.AdminID, "target_id", in.TargetUserID, "session_id", sess.ID, "minutes", minutes)
	return sess, nil
}

// ActiveImpersonation returns the admin's open session, or ErrNotFound.
func (s *Service) ActiveImpersonation(ctx context.Context, adminID string) (Session, error) {
	return s.store.ActiveImpersonation(ctx, adminID, s.now())
}

func (s *Service) EndImpersonation(ctx context.Context, actor Actor, sessionID string) (EndImpersonationResult, error) {
	already, err := s.store.EndImpersonation(ctx, actor.AdminID, sessionID)
	if err != nil {
		return EndImpersonationResult{}, err
	}
	if !already {
		s.log.Info("impersonation ended", "admin_id", actor.AdminID, "session_id", sessionID)
	}
	return EndImpersonationResult{SessionID: sessionID, AlreadyEnded: already}, nil
}

// ResolveImpersonation checks that sessionID is an open session of adminID and returns the target.
func (s *Service) ResolveImpersonation(ctx context.Context, adminID, sessionID string) (account.Profile, Session, error) {
	sess, err := s.store.GetImpersonation(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return account.Profile{}, Session{}, fmt.Errorf("%w: unknown impersonation session", apperr.ErrForbidden)
		}
		return account.Profile{}, Session{}, err
	}
	if sess.AdminID != adminID {
		return account.Profile{}, Session{}, fmt.Errorf("%w: impersonation session belongs to another admin", apperr.ErrForbidden)
	}
	if !sess.Active(s.now()) {
		return account.Profile{}, Session{}, fmt.Errorf("%w: impersonation session has ended", apperr.ErrForbidden)
	}
	target, err := s.store.GetProfile(ctx, sess.TargetID)
	if err != nil {
		return account.Profile{}, Session{}, err
	}
	return target, sess, nil
}

// RecordImpersonatedWrite audits a mutating request made while impersonating.
func (s *Service) RecordImpersonatedWrite(ctx context.Context, sess Session, ip, method, path string, status int) error {
	return s.store.InsertAudit(ctx, AuditEntry{
		AdminID:      sess.AdminID,
		Action:       ActionImpersonatedWrite,
		TargetUserID: sess.TargetID,
		IP:           ip,
		Details: map[string]any{
			"session_id": sess.ID,
			"method":     method,
			"path":       path,
			"status":     status,
		},
	})
}

func (s *Service) AuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, int, error) {
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return nil, 0, apperr.Invalid("until", "must not be before since")
	}
	f.Action = strings.TrimSpace(f.Action)
	f.Limit, f.Offset = bank.Page(f.Limit, f.Offset)
	return s.store.ListAudit(ctx, f)
}

func (s *Service) SweepImpersonations(ctx context.Context) (int64, error) {
	n, err := s.store.EndExpiredImpersonations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("impersonation sessions expired", "count", n)
	}
	return n, nil
}

func (s *Service) SweepGrants(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireGrants(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("grants expired", "count", n)
	}
	return n, nil
}
