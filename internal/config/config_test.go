package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.EqualValues(t, 3000, cfg.Ledger.CommissionBPS)
	assert.EqualValues(t, 1000, cfg.Ledger.MinPayoutCents)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 3, cfg.Ledger.ProvisionRetries)
	assert.Equal(t, 24*time.Hour, cfg.Analytics.StaleAfterDuration())
	assert.Equal(t, time.Hour, cfg.Analytics.CacheTTLDuration())
	assert.Equal(t, "@hourly", cfg.Jobs.AnalyticsRefresh)
	assert.Equal(t, 4, cfg.Jobs.AnalyticsConcurrency)
	assert.False(t, cfg.Quiz.RecomputeAnalyticsOnComplete)
	assert.Equal(t, "logs/app.log", cfg.Log.File)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs"))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.EqualValues(t, 3000, cfg.Ledger.CommissionBPS)
	assert.Equal(t, 24*time.Hour, cfg.Analytics.StaleAfterDuration())
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: sqlite
  path: ":memory:"
analytics:
  stale_after: 2d
  cache_ttl: 15m
ledger:
  commission_bps: 2500
jobs:
  analytics_concurrency: 0
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 48*time.Hour, cfg.Analytics.StaleAfterDuration())
	assert.Equal(t, 15*time.Minute, cfg.Analytics.CacheTTLDuration())
	assert.EqualValues(t, 2500, cfg.Ledger.CommissionBPS)
	assert.Equal(t, 4, cfg.Jobs.AnalyticsConcurrency)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "commission above 100%",
			body: "ledger:\n  commission_bps: 10001\n",
		},
		{
			name: "negative commission",
			body: "ledger:\n  commission_bps: -1\n",
		},
		{
			name: "bad duration",
			body: "analytics:\n  stale_after: soon\n",
		},
		{
			name: "sample ratio above 1",
			body: "tracing:\n  sample_ratio: 1.5\n",
		},
		{
			name: "short secret in release mode",
			body: "server:\n  mode: release\njwt:\n  secret: short\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: time.Minute},
		{in: "P1D", want: 24 * time.Hour},
		{in: "PT1H30M", want: 90 * time.Minute},
		{in: "2d", want: 48 * time.Hour},
		{in: " 1d ", want: 24 * time.Hour},
		{in: "15m", want: 15 * time.Minute},
		{in: "1h", want: time.Hour},
		{in: "soon", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "-5m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in, time.Minute)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigHumanDurations(t *testing.T) {
	dir := writeConfig(t, "analytics:\n  stale_after: 1d\n  cache_ttl: 1h\n")
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Analytics.StaleAfterDuration())
	assert.Equal(t, time.Hour, cfg.Analytics.CacheTTLDuration())
}
