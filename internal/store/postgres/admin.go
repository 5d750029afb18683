package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, db execer, e admin.AuditEntry) error {
	details, err := json.Marshal(auditDetails(e.Details))
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO app.admin_audit_log (admin_id, action, target_user_id, details, ip)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5)
	`, e.AdminID, e.Action, e.TargetUserID, details, e.IP)
	return err
}

func auditDetails(d map[string]any) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return d
}

func (s *Store) ApplyProfileChange(ctx context.Context, userID string, c admin.ProfileChange, audit admin.AuditEntry) (account.Profile, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return account.Profile{}, err
	}
	defer tx.Rollback(ctx)

	w := &where{}
	id := w.arg(userID)
	var sets []string
	if c.Suspend != nil {
		if c.Suspend.Suspended {
			sets = append(sets,
				"suspended = true",
				"suspended_reason = "+w.arg(c.Suspend.Reason),
				"suspended_at = "+w.arg(c.Suspend.At),
			)
		} else {
			sets = append(sets, "suspended = false", "suspended_reason = NULL", "suspended_at = NULL")
		}
	}
	if c.Grant != nil {
		if c.Grant.Tier == "" {
			sets = append(sets, "grant_tier = NULL", "grant_expires_at = NULL")
		} else {
			sets = append(sets,
				"grant_tier = "+w.arg(string(c.Grant.Tier)),
				"grant_expires_at = "+w.arg(c.Grant.ExpiresAt),
			)
		}
	}
	if c.Custom != nil {
		features := make([]string, 0, len(c.Custom.Features))
		for _, f := range c.Custom.Features {
			features = append(features, string(f))
		}
		sets = append(sets,
			"custom_max_teams = "+w.arg(c.Custom.MaxTeams),
			"custom_max_banks = "+w.arg(c.Custom.MaxBanks),
			"custom_max_active_games = "+w.arg(c.Custom.MaxActiveGames),
			"custom_features = "+w.arg(features),
		)
	}
	sets = append(sets, "updated_at = now()")

	sql := `UPDATE app.profiles SET ` + strings.Join(sets, ", ")
	p, err := scanProfile(tx.QueryRow(ctx, sql+` WHERE id = `+id+` RETURNING `+profileColumns, w.args...))
	if err != nil {
		return account.Profile{}, mapErr(err, "user")
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return account.Profile{}, err
	}
	return p, tx.Commit(ctx)
}

func (s *Store) InsertAudit(ctx context.Context, e admin.AuditEntry) error {
	return insertAudit(ctx, s.db, e)
}

func (s *Store) ListAudit(ctx context.Context, f admin.AuditFilter) ([]admin.AuditEntry, int, error) {
	w := &where{}
	if f.AdminID != "" {
		w.add("admin_id = " + w.arg(f.AdminID))
	}
	if f.TargetUserID != "" {
		w.add("target_user_id = " + w.arg(f.TargetUserID))
	}
	if f.Action != "" {
		w.add("action = " + w.arg(f.Action))
	}
	if f.Since != nil {
		w.add("created_at >= " + w.arg(*f.Since))
	}
	if f.Until != nil {
		w.add("created_at < " + w.arg(*f.Until))
	}
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM app.admin_audit_log`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "audit entry")
	}
	limit, offset := w.arg(f.Limit), w.arg(f.Offset)
	rows, err := s.db.Query(ctx, `
		SELECT id, admin_id::text, action, COALESCE(target_user_id::text, ''), details, ip, created_at
		FROM app.admin_audit_log`+w.sql()+`
		ORDER BY created_at DESC, id DESC
		LIMIT `+limit+` OFFSET `+offset, w.args...)
	if err != nil {
		return nil, 0, mapErr(err, "audit entry")
	}
	defer rows.Close()
	out := []admin.AuditEntry{}
	for rows.Next() {
		var (
			e   admin.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.TargetUserID, &raw, &e.IP, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(raw, &e.Details); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *Store) RecordRefund(ctx context.Context, r admin.Refund, audit admin.AuditEntry) (admin.Refund, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return admin.Refund{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO app.refunds (admin_id, user_id, payment_intent_id, stripe_refund_id, amount_cents, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text, created_at
	`, r.AdminID, r.UserID, r.PaymentIntentID, r.StripeRefundID, r.AmountCents, r.Reason, r.Status).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return admin.Refund{}, mapErr(err, "refund")
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return admin.Refund{}, err
	}
	return r, tx.Commit(ctx)
}

func (s *Store) ListRefunds(ctx context.Context, userID string) ([]admin.Refund, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, admin_id::text, user_id::text, payment_intent_id, stripe_refund_id,
		       amount_cents, reason, status, created_at
		FROM app.refunds
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, mapErr(err, "refund")
	}
	defer rows.Close()
	out := []admin.Refund{}
	for rows.Next() {
		var r admin.Refund
		if err := rows.Scan(&r.ID, &r.AdminID, &r.UserID, &r.PaymentIntentID, &r.StripeRefundID,
			&r.AmountCents, &r.Reason, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const sessionColumns = `id::text, admin_id::text, target_id::text, reason, started_at, expires_at, ended_at`

func scanSession(row pgx.Row) (admin.Session, error) {
	var sess admin.Session
	err := row.Scan(&sess.ID, &sess.AdminID, &sess.TargetID, &sess.Reason, &sess.StartedAt, &sess.ExpiresAt, &sess.EndedAt)
	return sess, err
}

func (s *Store) StartImpersonation(ctx context.Context, adminID, targetID, reason string, minutes int) (admin.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM app.start_impersonation($1, $2, $3, $4)`,
		adminID, targetID, reason, minutes))
	return sess, mapErr(err, "target")
}

func (s *Store) EndImpersonation(ctx context.Context, adminID, sessionID string) (bool, error) {
	var already bool
	err := s.db.QueryRow(ctx, `SELECT app.end_impersonation($1, $2)`, adminID, sessionID).Scan(&already)
	return already, mapErr(err, "impersonation session")
}

func (s *Store) GetImpersonation(ctx context.Context, id string) (admin.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM app.impersonation_sessions WHERE id = $1`, id))
	return sess, mapErr(err, "impersonation session")
}

func (s *Store) ActiveImpersonation(ctx context.Context, adminID string, now time.Time) (admin.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM app.impersonation_sessions
		WHERE admin_id = $1 AND ended_at IS NULL AND expires_at > $2
	`, adminID, now))
	if err != nil {
		return admin.Session{}, mapErr(err, "active impersonation session")
	}
	return sess, nil
}

func (s *Store) ActiveImpersonationsOf(ctx context.Context, targetID string, now time.Time) ([]admin.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM app.impersonation_sessions
		WHERE target_id = $1 AND ended_at IS NULL AND expires_at > $2
		ORDER BY started_at DESC
	`, targetID, now)
	if err != nil {
		return nil, mapErr(err, "impersonation session")
	}
	defer rows.Close()
	out := []admin.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) EndExpiredImpersonations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.impersonation_sessions
		SET ended_at = expires_at
		WHERE ended_at IS NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.profiles
		SET grant_tier = NULL, grant_expires_at = NULL, updated_at = now()
		WHERE grant_tier IS NOT NULL AND grant_expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
