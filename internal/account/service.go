package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jeoparty/internal/apperr"
	"jeoparty/internal/auth"
	"jeoparty/internal/validate"
)

type Store interface {
	ActivateUser(ctx context.Context, id, email, displayName string) (Profile, error)
	GetProfile(ctx context.Context, id string) (Profile, error)
	UpdateDisplayName(ctx context.Context, id, name string) (Profile, error)
	CountBanks(ctx context.Context, ownerID string) (int, error)
	CountOpenGames(ctx context.Context, teacherID string) (int, error)
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger, now: time.Now}
}

// EnsureProfile returns the caller's profile, activating it on first sight.
func (s *Service) EnsureProfile(ctx context.Context, id auth.Identity) (Profile, error) {
	p, err := s.store.GetProfile(ctx, id.UserID)
	if err == nil && p.Active {
		return p, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Profile{}, err
	}
	name := strings.TrimSpace(id.DisplayName)
	if n, err := validate.DisplayName(name); err == nil {
		name = n
	} else {
		name = ""
	}
	p, err = s.store.ActivateUser(ctx, id.UserID, strings.TrimSpace(id.Email), name)
	if err != nil {
		return Profile{}, fmt.Errorf("activate user: %w", err)
	}
	s.log.Info("profile activated", "user_id", p.ID, "tier", p.Tier, "status", p.Status)
	return p, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	return s.store.GetProfile(ctx, userID)
}

func (s *Service) Usage(ctx context.Context, userID string) (Usage, error) {
	banks, err := s.store.CountBanks(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	games, err := s.store.CountOpenGames(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Banks: banks, OpenGames: games}, nil
}

func (s *Service) Me(ctx context.Context, userID string) (Me, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Me{}, err
	}
	usage, err := s.Usage(ctx, userID)
	if err != nil {
		return Me{}, err
	}
	return Me{Profile: p, Plan: p.Plan(s.now()), Usage: usage}, nil
}

func (s *Service) UpdateDisplayName(ctx context.Context, userID, name string) (Profile, error) {
	name, err := validate.DisplayName(name)
	if err != nil {
		return Profile{}, err
	}
	return s.store.UpdateDisplayName(ctx, userID, name)
}

// SweepTrials moves trials that ran out without a subscription to INACTIVE.
func (s *Service) SweepTrials(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireTrials(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("trials expired", "count", n)
	}
	return n, nil
}
