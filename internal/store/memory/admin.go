package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"
	"jeoparty/internal/plan"
)

func (s *Store) ApplyProfileChange(_ context.Context, userID string, c admin.ProfileChange, audit admin.AuditEntry) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.update(userID, func(p *account.Profile) {
		if c.Suspend != nil {
			p.Suspended = c.Suspend.Suspended
			if c.Suspend.Suspended {
				at := c.Suspend.At
				p.SuspendedReason = c.Suspend.Reason
				p.SuspendedAt = &at
			} else {
				p.SuspendedReason = ""
				p.SuspendedAt = nil
			}
		}
		if c.Grant != nil {
			p.GrantTier = c.Grant.Tier
			p.GrantExpiresAt = c.Grant.ExpiresAt
			if c.Grant.Tier == "" {
				p.GrantExpiresAt = nil
			}
		}
		if c.Custom != nil {
			p.Custom = *c.Custom
		}
	})
	if err != nil {
		return account.Profile{}, err
	}
	s.appendAudit(audit)
	return p, nil
}

// appendAudit stores e. Callers hold s.mu.
func (s *Store) appendAudit(e admin.AuditEntry) {
	s.nextAuditID++
	e.ID = s.nextAuditID
	e.CreatedAt = s.now()
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	s.audit = append(s.audit, e)
}

func (s *Store) InsertAudit(_ context.Context, e admin.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAudit(e)
	return nil
}

func (s *Store) ListAudit(_ context.Context, f admin.AuditFilter) ([]admin.AuditEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []admin.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.AdminID != "" && e.AdminID != f.AdminID {
			continue
		}
		if f.TargetUserID != "" && e.TargetUserID != f.TargetUserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) RecordRefund(_ context.Context, r admin.Refund, audit admin.AuditEntry) (admin.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.NewString()
	r.CreatedAt = s.now()
	s.refunds = append(s.refunds, r)
	s.appendAudit(audit)
	return r, nil
}

func (s *Store) ListRefunds(_ context.Context, userID string) ([]admin.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []admin.Refund{}
	for i := len(s.refunds) - 1; i >= 0; i-- {
		if s.refunds[i].UserID == userID {
			out = append(out, s.refunds[i])
		}
	}
	return out, nil
}

// StartImpersonation mirrors app.start_impersonation.
func (s *Store) StartImpersonation(_ context.Context, adminID, targetID, reason string, minutes int) (admin.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	recent := 0
	for id, sess := range s.sessions {
		if sess.AdminID != adminID {
			continue
		}
		if sess.EndedAt == nil && !now.Before(sess.ExpiresAt) {
			ended := sess.ExpiresAt
			sess.EndedAt = &ended
			s.sessions[id] = sess
		}
		if sess.EndedAt == nil {
			return admin.Session{}, apperr.Conflict("an impersonation session is already active")
		}
		if sess.StartedAt.After(now.Add(-time.Hour)) {
			recent++
		}
	}
	if recent >= admin.MaxImpersonationsPerHour {
		return admin.Session{}, apperr.ErrRateLimited
	}
	if _, ok := s.profiles[targetID]; !ok {
		return admin.Session{}, apperr.NotFound("target")
	}
	sess := admin.Session{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		TargetID:  targetID,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(minutes) * time.Minute),
	}
	s.sessions[sess.ID] = sess
	s.appendAudit(admin.AuditEntry{
		AdminID:      adminID,
		Action:       admin.ActionImpersonationStart,
		TargetUserID: targetID,
		Details:      map[string]any{"session_id": sess.ID, "reason": reason, "minutes": minutes},
	})
	return sess, nil
}

// EndImpersonation mirrors app.end_impersonation.
func (s *Store) EndImpersonation(_ context.Context, adminID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.AdminID != adminID {
		return false, apperr.NotFound("impersonation session")
	}
	if sess.EndedAt != nil {
		return true, nil
	}
	now := s.now()
	ended := now
	if sess.ExpiresAt.Before(now) {
		ended = sess.ExpiresAt
	}
	sess.EndedAt = &ended
	s.sessions[sessionID] = sess
	s.appendAudit(admin.AuditEntry{
		AdminID:      adminID,
		Action:       admin.ActionImpersonationEnd,
		TargetUserID: sess.TargetID,
		Details:      map[string]any{"session_id": sess.ID},
	})
	return !now.Before(sess.ExpiresAt), nil
}

func (s *Store) GetImpersonation(_ context.Context, id string) (admin.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return admin.Session{}, apperr.NotFound("impersonation session")
	}
	return sess, nil
}

func (s *Store) ActiveImpersonation(_ context.Context, adminID string, now time.Time) (admin.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.AdminID == adminID && sess.Active(now) {
			return sess, nil
		}
	}
	return admin.Session{}, apperr.NotFound("active impersonation session")
}

func (s *Store) ActiveImpersonationsOf(_ context.Context, targetID string, now time.Time) ([]admin.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []admin.Session{}
	for _, sess := range s.sessions {
		if sess.TargetID == targetID && sess.Active(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *Store) EndExpiredImpersonations(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.EndedAt == nil && !now.Before(sess.ExpiresAt) {
			ended := sess.ExpiresAt
			sess.EndedAt = &ended
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) ExpireGrants(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.profiles {
		if p.GrantTier != "" && p.GrantExpiresAt != nil && !now.Before(*p.GrantExpiresAt) {
			p.GrantTier = plan.Tier("")
			p.GrantExpiresAt = nil
			p.UpdatedAt = s.now()
			s.profiles[id] = p
			n++
		}
	}
	return n, nil
}
