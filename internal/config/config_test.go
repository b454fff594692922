package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 30*time.Minute, cfg.Drafts.TTL)
	assert.Equal(t, cfg.Drafts.TTL, cfg.Drafts.CookieTTL, "cookie ttl follows the draft ttl")
	assert.True(t, cfg.Drafts.PermissiveClaim)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Contains(t, cfg.Database.DSN(), "dbname=cvforge")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DRAFT_TTL", "45m")
	t.Setenv("DRAFT_COOKIE_TTL", "720h")
	t.Setenv("DRAFT_PERMISSIVE_CLAIM", "false")
	t.Setenv("INTERNAL_API_SECRET", "s3cret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, 45*time.Minute, cfg.Drafts.TTL)
	assert.Equal(t, 720*time.Hour, cfg.Drafts.CookieTTL)
	assert.False(t, cfg.Drafts.PermissiveClaim)
	assert.Equal(t, "s3cret", cfg.API.InternalSecret)
	assert.Equal(t, "whsec_test", cfg.Billing.StripeWebhookSecret)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"draft ttl above a day":     {"DRAFT_TTL": "25h"},
		"cookie shorter than draft": {"DRAFT_TTL": "1h", "DRAFT_COOKIE_TTL": "10m"},
		"unknown log format":        {"LOG_FORMAT": "xml"},
		"negative retries":          {"DRAFT_CONVERT_MAX_RETRY": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
