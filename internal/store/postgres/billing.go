package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/billing"
	"jeoparty/internal/plan"
)

func (s *Store) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE app.profiles
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1
	`, userID, customerID)
	if err != nil {
		return mapErr(err, "stripe customer")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("profile")
	}
	return nil
}

func (s *Store) LinkSubscription(ctx context.Context, userID, customerID, subscriptionID string) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE app.profiles
		SET stripe_customer_id = COALESCE(NULLIF($2, ''), stripe_customer_id),
		    stripe_subscription_id = COALESCE(NULLIF($3, ''), stripe_subscription_id),
		    updated_at = now()
		WHERE id = $1
	`, userID, customerID, subscriptionID)
	if err != nil {
		return mapErr(err, "stripe customer")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("profile")
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, userID string, u billing.SubscriptionUpdate) (account.Profile, error) {
	p, err := scanProfile(s.q(ctx).QueryRow(ctx, `
		UPDATE app.profiles
		SET stripe_subscription_id = NULLIF($2, ''),
		    tier = $3,
		    status = $4,
		    billing_interval = NULLIF($5, ''),
		    current_period_end = $6,
		    cancel_at_period_end = $7,
		    trial_ends_at = CASE WHEN $4 = 'TRIAL' AND $6::timestamptz IS NOT NULL THEN $6 ELSE trial_ends_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns,
		userID, u.SubscriptionID, string(u.Tier), string(u.Status), u.Interval, u.CurrentPeriodEnd, u.CancelAtPeriodEnd))
	return p, mapErr(err, "profile")
}

func (s *Store) SetBillingStatus(ctx context.Context, userID string, status plan.Status) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE app.profiles SET status = $2, updated_at = now() WHERE id = $1`, userID, string(status))
	if err != nil {
		return mapErr(err, "profile")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("profile")
	}
	return nil
}

// ClaimEvent records the event and runs apply in the same transaction. A duplicate delivery
// blocks on the primary key until the first commits, then reports claimed=false.
func (s *Store) ClaimEvent(ctx context.Context, id, eventType string, apply func(context.Context) error) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO app.stripe_events (id, type)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, eventType)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := apply(withTx(ctx, tx)); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
