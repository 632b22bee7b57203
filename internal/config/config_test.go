package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_LocalDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, EnvLocal, cfg.AppEnv)
	require.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	require.Equal(t, StorageMemory, cfg.Storage)
	require.Equal(t, "console", cfg.LogFormat)
	require.True(t, cfg.AutoMigrate)
	require.Equal(t, 3, cfg.Provider.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Provider.RetryDelay)
	require.Equal(t, 300*time.Second, cfg.Provider.WebhookTolerance)
	require.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, cfg.JobBackoff)
	require.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
}

func TestLoad_DockerRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "docker")

	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "secret")
	_, err = Load()
	require.ErrorContains(t, err, "PAYMENT_JOB_KEY")

	t.Setenv("PAYMENT_JOB_KEY", devJobKey)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, StoragePostgres, cfg.Storage)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "5")
	t.Setenv("PAYMENT_RETRY_DELAY", "250ms")
	t.Setenv("JOB_BACKOFF", "1s, 2s")
	t.Setenv("PROVIDER_RPS", "12.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Provider.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Provider.RetryDelay)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.JobBackoff)
	require.Equal(t, 12.5, cfg.Provider.RPS)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "app env", key: "APP_ENV", val: "staging"},
		{name: "storage", key: "STORAGE", val: "sqlite"},
		{name: "duration", key: "PAYMENT_RETRY_DELAY", val: "soon"},
		{name: "int", key: "JOB_MAX_ATTEMPTS", val: "three"},
		{name: "backoff", key: "JOB_BACKOFF", val: "10s,x"},
		{name: "job key", key: "PAYMENT_JOB_KEY", val: "c2hvcnQ="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "local")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestMasking(t *testing.T) {
	require.Equal(t, "postgres://user:***@db:5432/paygate", maskDSN("postgres://user:secret@db:5432/paygate"))
	require.Equal(t, "mongodb://db:27017", maskDSN("mongodb://db:27017"))
	require.Equal(t, "***1234", maskSecret("sk_test_1234"))
	require.Equal(t, "", maskSecret(""))
}
