package plan

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"jeoparty/internal/apperr"
)

type Tier string

const (
	TierFree    Tier = "FREE"
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusTrial     Status = "TRIAL"
	StatusInactive  Status = "INACTIVE"
	StatusCancelled Status = "CANCELLED"
)

type Feature string

const (
	FeatureDailyDouble    Feature = "daily_double"
	FeatureFinalJeopardy  Feature = "final_jeopardy"
	FeatureCustomTimer    Feature = "custom_timer"
	FeatureQuestionImages Feature = "question_images"
	FeaturePublicBanks    Feature = "public_banks"
	FeatureDeviceJoin     Feature = "device_join"
)

var AllFeatures = []Feature{
	FeatureDailyDouble,
	FeatureFinalJeopardy,
	FeatureCustomTimer,
	FeatureQuestionImages,
	FeaturePublicBanks,
	FeatureDeviceJoin,
}

const (
	Unlimited = -1

	// Hard bounds on teams per game regardless of plan.
	MinTeams = 2
	MaxTeams = 20

	TrialDays = 14
)

type Limits struct {
	MaxTeams       int       `json:"max_teams"`
	MaxBanks       int       `json:"max_banks"`
	MaxActiveGames int       `json:"max_active_games"`
	Features       []Feature `json:"features"`
}

var defaults = map[Tier]Limits{
	TierFree: {
		MaxTeams:       5,
		MaxBanks:       3,
		MaxActiveGames: 1,
		Features:       []Feature{FeatureDeviceJoin},
	},
	TierBasic: {
		MaxTeams:       10,
		MaxBanks:       25,
		MaxActiveGames: 5,
		Features:       []Feature{FeatureDeviceJoin, FeatureDailyDouble, FeatureFinalJeopardy, FeatureCustomTimer},
	},
	TierPremium: {
		MaxTeams:       MaxTeams,
		MaxBanks:       Unlimited,
		MaxActiveGames: Unlimited,
		Features:       AllFeatures,
	},
}

// DefaultLimits returns a copy of the built-in limits for tier.
func DefaultLimits(t Tier) Limits {
	l, ok := defaults[t]
	if !ok {
		l = defaults[TierFree]
	}
	l.Features = slices.Clone(l.Features)
	return l
}

// Overrides are per-profile custom plan values set by an admin. Nil fields keep the tier default.
type Overrides struct {
	MaxTeams       *int      `json:"max_teams,omitempty"`
	MaxBanks       *int      `json:"max_banks,omitempty"`
	MaxActiveGames *int      `json:"max_active_games,omitempty"`
	Features       []Feature `json:"features,omitempty"`
}

func (o Overrides) IsZero() bool {
	return o.MaxTeams == nil && o.MaxBanks == nil && o.MaxActiveGames == nil && len(o.Features) == 0
}

// Subject is the billing-relevant slice of a profile.
type Subject struct {
	Tier           Tier
	Status         Status
	TrialEndsAt    *time.Time
	GrantTier      Tier
	GrantExpiresAt *time.Time
	Suspended      bool
	Custom         Overrides
}

type Plan struct {
	Tier      Tier   `json:"tier"`
	Status    Status `json:"status"`
	Source    string `json:"source"`
	Suspended bool   `json:"suspended"`
	Custom    bool   `json:"custom"`
	Limits
}

// Effective resolves the limits a subject is entitled to at now.
func Effective(s Subject, now time.Time) Plan {
	tier := s.Tier
	source := "subscription"
	switch s.Status {
	case StatusActive:
	case StatusTrial:
		source = "trial"
		if s.TrialEndsAt != nil && !now.Before(*s.TrialEndsAt) {
			tier = TierFree
			source = "free"
		}
	default:
		tier = TierFree
		source = "free"
	}
	if tier == "" {
		tier = TierFree
	}
	if tier == TierFree && source != "free" {
		source = "free"
	}

	if s.GrantTier != "" && s.GrantExpiresAt != nil && now.Before(*s.GrantExpiresAt) && Rank(s.GrantTier) > Rank(tier) {
		tier = s.GrantTier
		source = "grant"
	}

	p := Plan{
		Tier:   tier,
		Status: s.Status,
		Source: source,
		Limits: DefaultLimits(tier),
	}
	if s.Suspended {
		p.Suspended = true
		p.Limits = DefaultLimits(TierFree)
		return p
	}
	if !s.Custom.IsZero() {
		p.Custom = true
		if s.Custom.MaxTeams != nil {
			p.MaxTeams = clampTeams(*s.Custom.MaxTeams)
		}
		if s.Custom.MaxBanks != nil {
			p.MaxBanks = *s.Custom.MaxBanks
		}
		if s.Custom.MaxActiveGames != nil {
			p.MaxActiveGames = *s.Custom.MaxActiveGames
		}
		for _, f := range s.Custom.Features {
			if !slices.Contains(p.Features, f) {
				p.Features = append(p.Features, f)
			}
		}
	}
	return p
}

func clampTeams(n int) int {
	if n == Unlimited || n > MaxTeams {
		return MaxTeams
	}
	if n < MinTeams {
		return MinTeams
	}
	return n
}

func (p Plan) Allows(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Require returns an ErrLimit error when f is not part of the plan.
func (p Plan) Require(f Feature) error {
	if p.Allows(f) {
		return nil
	}
	return apperr.Limit("%s requires an upgraded plan (current: %s)", f, p.Tier)
}

func (p Plan) CheckTeams(n int) error {
	if n < MinTeams {
		return apperr.Invalid("teams", fmt.Sprintf("at least %d teams are required", MinTeams))
	}
	limit := clampTeams(p.MaxTeams)
	if n > limit {
		return apperr.Limit("%s plan allows at most %d teams", p.Tier, limit)
	}
	return nil
}

// CheckBanks reports whether one more bank may be created given current.
func (p Plan) CheckBanks(current int) error {
	if p.MaxBanks != Unlimited && current >= p.MaxBanks {
		return apperr.Limit("%s plan allows at most %d question banks", p.Tier, p.MaxBanks)
	}
	return nil
}

// CheckActiveGames reports whether one more open game may be created given current.
func (p Plan) CheckActiveGames(current int) error {
	if p.MaxActiveGames != Unlimited && current >= p.MaxActiveGames {
		return apperr.Limit("%s plan allows at most %d open games", p.Tier, p.MaxActiveGames)
	}
	return nil
}

func Rank(t Tier) int {
	switch t {
	case TierBasic:
		return 1
	case TierPremium:
		return 2
	default:
		return 0
	}
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToUpper(strings.TrimSpace(s))); t {
	case TierFree, TierBasic, TierPremium:
		return t, nil
	}
	return "", apperr.Invalid("tier", "must be FREE, BASIC or PREMIUM")
}

// ParsePaidTier accepts only tiers that can be purchased or granted.
func ParsePaidTier(s string) (Tier, error) {
	t, err := ParseTier(s)
	if err != nil {
		return "", err
	}
	if t == TierFree {
		return "", apperr.Invalid("tier", "must be BASIC or PREMIUM")
	}
	return t, nil
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusTrial, StatusInactive, StatusCancelled:
		return st, nil
	}
	return "", apperr.Invalid("status", "must be ACTIVE, TRIAL, INACTIVE or CANCELLED")
}

func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllFeatures, f) {
		return f, nil
	}
	return "", apperr.Invalid("features", fmt.Sprintf("unknown feature %q", s))
}

// StripeStatus maps a Stripe subscription status onto a billing status.
func StripeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrial
	case "canceled":
		return StatusCancelled
	default:
		return StatusInactive
	}
}
