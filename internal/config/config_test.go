package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/jeoparty")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoadAPIFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("JOIN_RATE_LIMIT", "nope")
	t.Setenv("STRIPE_PRICE_BASIC_MONTHLY", " price_basic_m ")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "https://abc.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30, cfg.JoinRateLimit)
	assert.Equal(t, "price_basic_m", cfg.Stripe.Prices.BasicMonthly)
	assert.False(t, cfg.Production())
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadAPIFromEnvTrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,::1")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("::1/128"),
	}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	_, err = LoadAPIFromEnv()
	assert.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestLoadAPIFromEnvRequiresDatabase(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	_, err := LoadAPIFromEnv()
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestLoadAPIFromEnvWebhookSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	_, err := LoadAPIFromEnv()
	assert.Error(t, err)
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/jeoparty")
	t.Setenv("JEOPARTY_SWEEP_EVERY", "15s")
	t.Setenv("JEOPARTY_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.SweepEvery)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 30*24*time.Hour, cfg.StaleAfter)
}
