package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr              string
	Env               string
	DatabaseURL       string
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	AppBaseURL        string
	CORSOrigins       []string
	Migrate           bool
	JoinRateLimit     int
	// TrustedProxies are the peers whose forwarding headers name the client address.
	TrustedProxies []netip.Prefix
	Stripe         StripeConfig
	Mail           MailConfig
	RollbarToken   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Prices        PriceBook
}

// PriceBook holds the Stripe price ids for each paid tier and interval.
type PriceBook struct {
	BasicMonthly   string
	BasicYearly    string
	PremiumMonthly string
	PremiumYearly  string
}

type MailConfig struct {
	SendGridKey string
	From        string
}

type WorkerConfig struct {
	DatabaseURL string
	SweepEvery  time.Duration
	RunOnce     bool
	StaleAfter  time.Duration
	Mail        MailConfig
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv loads .env when present. A missing file is not an error.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(".env")
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("JEOPARTY_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:              addr,
		Env:               envDefault("APP_ENV", "development"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:   strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		SupabaseJWTSecret: strings.TrimSpace(os.Getenv("SUPABASE_JWT_SECRET")),
		AppBaseURL:        strings.TrimRight(envDefault("APP_BASE_URL", "http://localhost:3000"), "/"),
		CORSOrigins:       envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		Migrate:           envBoolDefault("JEOPARTY_MIGRATE", false),
		JoinRateLimit:     envIntDefault("JOIN_RATE_LIMIT", 30),
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
			WebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
			Prices: PriceBook{
				BasicMonthly:   strings.TrimSpace(os.Getenv("STRIPE_PRICE_BASIC_MONTHLY")),
				BasicYearly:    strings.TrimSpace(os.Getenv("STRIPE_PRICE_BASIC_YEARLY")),
				PremiumMonthly: strings.TrimSpace(os.Getenv("STRIPE_PRICE_PREMIUM_MONTHLY")),
				PremiumYearly:  strings.TrimSpace(os.Getenv("STRIPE_PRICE_PREMIUM_YEARLY")),
			},
		},
		Mail:         loadMail(),
		RollbarToken: strings.TrimSpace(os.Getenv("ROLLBAR_TOKEN")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.Stripe.SecretKey != "" && cfg.Stripe.WebhookSecret == "" {
		return cfg, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if cfg.JoinRateLimit <= 0 {
		cfg.JoinRateLimit = 30
	}
	proxies, err := ParsePrefixes(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return cfg, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies
	return cfg, nil
}

// ParsePrefixes reads a comma separated list of CIDRs or bare addresses.
func ParsePrefixes(v string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SweepEvery:  envDurationDefault("JEOPARTY_SWEEP_EVERY", time.Minute),
		RunOnce:     envBoolDefault("JEOPARTY_WORKER_RUN_ONCE", false),
		StaleAfter:  envDurationDefault("JEOPARTY_STALE_GAME_AFTER", 30*24*time.Hour),
		Mail:        loadMail(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("JPADMIN_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func (c APIConfig) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func loadMail() MailConfig {
	return MailConfig{
		SendGridKey: strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		From:        envDefault("MAIL_FROM", "noreply@jeoparty.local"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
