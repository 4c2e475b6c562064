package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 4, cfg.Rollover.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Rollover.LockTTL)
	assert.Equal(t, 5*time.Second, cfg.Receipts.IssueTimeout)
	assert.Equal(t, "91", cfg.Notify.CountryCode)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Events.AMQPURL)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ROLLOVER_CONCURRENCY", 8)
	v.Set("RECEIPTS_SIGNED_URL_TTL", "2h")
	v.Set("RECEIPTS_PUBLIC_BASE_URL", "https://fees.example.com/api/v1/")
	v.Set("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")

	cfg := fromViper(v)
	assert.Equal(t, 8, cfg.Rollover.Concurrency)
	assert.Equal(t, 2*time.Hour, cfg.Receipts.SignedURLTTL)
	assert.Equal(t, "https://fees.example.com/api/v1", cfg.Receipts.PublicBaseURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}
