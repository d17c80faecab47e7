package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"GS_CANDIDATES", "GS_RESOLUTION", "GS_DEVICE", "GS_COLLECT_TIMEOUT", "REDIS_HOST", "REDIS_PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := LoadConfig()

	assert.Equal(t, []string{"gs", "gswin32c.exe", "gswin64c.exe"}, cfg.GSCandidates)
	assert.Equal(t, 200, cfg.GSResolution)
	assert.Equal(t, "tiffg4", cfg.GSDevice)
	assert.Equal(t, 5*time.Minute, cfg.GSCollectTimeout)
	assert.GreaterOrEqual(t, cfg.ExecutorConcurrency, 1)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("GS_CANDIDATES", " /opt/gs/bin/gs , ,gs ")
	t.Setenv("GS_RESOLUTION", "300")
	t.Setenv("GS_DEVICE", "png16m")
	t.Setenv("GS_COLLECT_TIMEOUT", "90s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("EXECUTOR_CONCURRENCY", "3")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")

	cfg := LoadConfig()

	assert.Equal(t, []string{"/opt/gs/bin/gs", "gs"}, cfg.GSCandidates)
	assert.Equal(t, 300, cfg.GSResolution)
	assert.Equal(t, "png16m", cfg.GSDevice)
	assert.Equal(t, 90*time.Second, cfg.GSCollectTimeout)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 3, cfg.ExecutorConcurrency)
	assert.Equal(t, "redis:6380", cfg.RedisAddr())
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("GS_RESOLUTION", "high")
	t.Setenv("GS_COLLECT_TIMEOUT", "soon")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 200, cfg.GSResolution)
	assert.Equal(t, 5*time.Minute, cfg.GSCollectTimeout)
	assert.False(t, cfg.OTelEnabled)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: "5433", DBUser: "u", DBPassword: "p", DBName: "n"}

	assert.Equal(t, "host=db user=u password=p dbname=n port=5433 sslmode=disable TimeZone=UTC", cfg.PostgresDSN())
}

func TestLoadConfig_AccessAndDrain(t *testing.T) {
	t.Setenv("EXECUTOR_DRAIN_TIMEOUT", "30s")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "4")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.ExecutorDrainTimeout)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 4, cfg.RateLimitBurst)
}
