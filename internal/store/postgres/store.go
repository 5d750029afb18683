// Package postgres implements the domain stores on top of pgx and the app schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"
	"jeoparty/internal/apperr"
	"jeoparty/internal/bank"
	"jeoparty/internal/billing"
	"jeoparty/internal/game"
	"jeoparty/internal/plan"
)

var (
	_ account.Store = (*Store)(nil)
	_ bank.Store    = (*Store)(nil)
	_ game.Store    = (*Store)(nil)
	_ billing.Store = (*Store)(nil)
	_ admin.Store   = (*Store)(nil)
)

type Store struct {
	db *pgxpool.Pool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// q returns the transaction bound to ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.db
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// mapErr converts driver errors into apperr kinds. what names the missing thing for not-found errors.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s already exists", apperr.ErrConflict, what)
		case "23503", "22P02":
			return apperr.NotFound(what)
		case "JP001":
			return fmt.Errorf("%w: %s", apperr.ErrRateLimited, pgErr.Message)
		case "JP002", "JP004":
			return fmt.Errorf("%w: %s", apperr.ErrConflict, pgErr.Message)
		case "JP003":
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, pgErr.Message)
		}
	}
	return err
}

const profileColumns = `
	id::text, email, display_name, role, tier, status, trial_ends_at,
	COALESCE(grant_tier, ''), grant_expires_at,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	COALESCE(billing_interval, ''), current_period_end, cancel_at_period_end,
	suspended, COALESCE(suspended_reason, ''), suspended_at,
	custom_max_teams, custom_max_banks, custom_max_active_games, custom_features,
	active, created_at, updated_at`

func scanProfile(row pgx.Row) (account.Profile, error) {
	var (
		p                       account.Profile
		tier, status, grantTier string
		features                []string
	)
	err := row.Scan(
		&p.ID, &p.Email, &p.DisplayName, &p.Role, &tier, &status, &p.TrialEndsAt,
		&grantTier, &p.GrantExpiresAt,
		&p.StripeCustomerID, &p.StripeSubscriptionID,
		&p.BillingInterval, &p.CurrentPeriodEnd, &p.CancelAtPeriodEnd,
		&p.Suspended, &p.SuspendedReason, &p.SuspendedAt,
		&p.Custom.MaxTeams, &p.Custom.MaxBanks, &p.Custom.MaxActiveGames, &features,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return account.Profile{}, err
	}
	p.Tier = plan.Tier(tier)
	p.Status = plan.Status(status)
	p.GrantTier = plan.Tier(grantTier)
	for _, f := range features {
		p.Custom.Features = append(p.Custom.Features, plan.Feature(f))
	}
	return p, nil
}

func (s *Store) ActivateUser(ctx context.Context, id, email, displayName string) (account.Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM app.activate_user($1, $2, $3)`, id, email, displayName))
	return p, mapErr(err, "profile")
}

func (s *Store) GetProfile(ctx context.Context, id string) (account.Profile, error) {
	p, err := scanProfile(s.q(ctx).QueryRow(ctx, `SELECT `+profileColumns+` FROM app.profiles WHERE id = $1`, id))
	return p, mapErr(err, "profile")
}

func (s *Store) GetProfileByCustomer(ctx context.Context, customerID string) (account.Profile, error) {
	p, err := scanProfile(s.q(ctx).QueryRow(ctx, `SELECT `+profileColumns+` FROM app.profiles WHERE stripe_customer_id = $1`, customerID))
	return p, mapErr(err, "profile")
}

func (s *Store) UpdateDisplayName(ctx context.Context, id, name string) (account.Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `
		UPDATE app.profiles
		SET display_name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns, id, name))
	return p, mapErr(err, "profile")
}

func (s *Store) CountBanks(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM app.question_banks WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, mapErr(err, "profile")
}

func (s *Store) CountOpenGames(ctx context.Context, teacherID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM app.games
		WHERE teacher_id = $1 AND status IN ('setup', 'active')
	`, teacherID).Scan(&n)
	return n, mapErr(err, "profile")
}

func (s *Store) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE app.profiles
		SET status = 'INACTIVE', updated_at = now()
		WHERE status = 'TRIAL'
		  AND stripe_subscription_id IS NULL
		  AND trial_ends_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListProfiles(ctx context.Context, f admin.UserFilter) ([]account.Profile, int, error) {
	w := &where{}
	if f.Query != "" {
		n := w.arg("%" + strings.ToLower(f.Query) + "%")
		m := w.arg(f.Query)
		w.add(fmt.Sprintf("(lower(email) LIKE %s OR lower(display_name) LIKE %s OR id::text = %s)", n, n, m))
	}
	if f.Tier != "" {
		w.add("tier = " + w.arg(string(f.Tier)))
	}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	if f.Suspended != nil {
		w.add("suspended = " + w.arg(*f.Suspended))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM app.profiles`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := w.arg(f.Limit), w.arg(f.Offset)
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM app.profiles`+w.sql()+
		` ORDER BY created_at DESC, id LIMIT `+limit+` OFFSET `+offset, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []account.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// where accumulates AND-ed conditions and their positional args.
type where struct {
	conds []string
	args  []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
