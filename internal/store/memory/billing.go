package memory

import (
	"context"

	"jeoparty/internal/account"
	"jeoparty/internal/apperr"
	"jeoparty/internal/billing"
	"jeoparty/internal/plan"
)

func (s *Store) GetProfileByCustomer(_ context.Context, customerID string) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if customerID == "" {
		return account.Profile{}, apperr.NotFound("profile")
	}
	for _, p := range s.profiles {
		if p.StripeCustomerID == customerID {
			return p, nil
		}
	}
	return account.Profile{}, apperr.NotFound("profile")
}

// update applies fn to a stored profile. Callers hold s.mu.
func (s *Store) update(id string, fn func(*account.Profile)) (account.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return account.Profile{}, apperr.NotFound("profile")
	}
	fn(&p)
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	return p, nil
}

func (s *Store) SetStripeCustomer(_ context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.ID != userID && p.StripeCustomerID == customerID {
			return apperr.Conflict("stripe customer already linked")
		}
	}
	_, err := s.update(userID, func(p *account.Profile) { p.StripeCustomerID = customerID })
	return err
}

func (s *Store) LinkSubscription(_ context.Context, userID, customerID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.update(userID, func(p *account.Profile) {
		if customerID != "" {
			p.StripeCustomerID = customerID
		}
		if subscriptionID != "" {
			p.StripeSubscriptionID = subscriptionID
		}
	})
	return err
}

func (s *Store) UpdateSubscription(_ context.Context, userID string, u billing.SubscriptionUpdate) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(userID, func(p *account.Profile) {
		p.StripeSubscriptionID = u.SubscriptionID
		p.Tier = u.Tier
		p.Status = u.Status
		p.BillingInterval = u.Interval
		p.CurrentPeriodEnd = u.CurrentPeriodEnd
		p.CancelAtPeriodEnd = u.CancelAtPeriodEnd
		if u.Status == plan.StatusTrial && u.CurrentPeriodEnd != nil {
			p.TrialEndsAt = u.CurrentPeriodEnd
		}
	})
}

func (s *Store) SetBillingStatus(_ context.Context, userID string, status plan.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.update(userID, func(p *account.Profile) { p.Status = status })
	return err
}

// ClaimEvent serializes webhook applications so a duplicate delivery sees the first one's record.
func (s *Store) ClaimEvent(ctx context.Context, id, eventType string, apply func(context.Context) error) (bool, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	_, seen := s.events[id]
	s.mu.Unlock()
	if seen {
		return false, nil
	}
	if err := apply(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.events[id] = eventType
	s.mu.Unlock()
	return true, nil
}
