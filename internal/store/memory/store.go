// Package memory is an in-process implementation of every domain store. It mirrors the
// behaviour of the Postgres stored procedures and is used by tests and local demos.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

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
	mu sync.Mutex
	// eventMu is held across a whole webhook application.
	eventMu sync.Mutex

	// Now is the clock used for timestamps and expiry checks.
	Now func() time.Time

	profiles    map[string]account.Profile
	banks       map[string]bank.Bank
	questions   map[string]bank.Question
	games       map[string]game.Game
	teams       map[string]game.Team
	sessions    map[string]admin.Session
	audit       []admin.AuditEntry
	refunds     []admin.Refund
	events      map[string]string
	nextAuditID int64
}

func New() *Store {
	return &Store{
		Now:       time.Now,
		profiles:  map[string]account.Profile{},
		banks:     map[string]bank.Bank{},
		questions: map[string]bank.Question{},
		games:     map[string]game.Game{},
		teams:     map[string]game.Team{},
		sessions:  map[string]admin.Session{},
		events:    map[string]string{},
	}
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

// PutProfile inserts or replaces a profile as-is. Test helper.
func (s *Store) PutProfile(p account.Profile) account.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = account.RoleTeacher
	}
	if p.Tier == "" {
		p.Tier = plan.TierFree
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = s.now()
	p.Active = true
	s.profiles[p.ID] = p
	return p
}

func (s *Store) ActivateUser(_ context.Context, id, email, displayName string) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p, ok := s.profiles[id]
	if ok {
		if email != "" {
			p.Email = email
		}
		p.Active = true
		p.UpdatedAt = now
		s.profiles[id] = p
		return p, nil
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	trialEnds := now.Add(plan.TrialDays * 24 * time.Hour)
	p = account.Profile{
		ID:          id,
		Email:       email,
		DisplayName: name,
		Role:        account.RoleTeacher,
		Tier:        plan.TierBasic,
		Status:      plan.StatusTrial,
		TrialEndsAt: &trialEnds,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.profiles[id] = p
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return account.Profile{}, apperr.NotFound("profile")
	}
	return p, nil
}

func (s *Store) UpdateDisplayName(_ context.Context, id, name string) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return account.Profile{}, apperr.NotFound("profile")
	}
	p.DisplayName = name
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	return p, nil
}

func (s *Store) CountBanks(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.banks {
		if b.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOpenGames(_ context.Context, teacherID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.games {
		if g.TeacherID == teacherID && g.Status != game.StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) ExpireTrials(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.profiles {
		if p.Status == plan.StatusTrial && p.StripeSubscriptionID == "" && p.TrialEndsAt != nil && !now.Before(*p.TrialEndsAt) {
			p.Status = plan.StatusInactive
			p.UpdatedAt = s.now()
			s.profiles[id] = p
			n++
		}
	}
	return n, nil
}

func (s *Store) ListProfiles(_ context.Context, f admin.UserFilter) ([]account.Profile, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(f.Query)
	var out []account.Profile
	for _, p := range s.profiles {
		if q != "" && !strings.Contains(strings.ToLower(p.Email), q) && !strings.Contains(strings.ToLower(p.DisplayName), q) && p.ID != f.Query {
			continue
		}
		if f.Tier != "" && p.Tier != f.Tier {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Suspended != nil && p.Suspended != *f.Suspended {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), len(out), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return slices.Clone(items)
}
