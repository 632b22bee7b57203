package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("KAFKA_JOBS_TOPIC", "jobs")

	cfg, err := LoadEnv([]string{"localhost:19092"})
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	require.Equal(t, "jobs", cfg.JobsTopic)
	require.Equal(t, "payments.events", cfg.EventsTopic)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnv_DefaultBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := LoadEnv([]string{"localhost:19092"})
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:19092"}, cfg.Brokers)
}

func TestConfig_Validate(t *testing.T) {
	require.Error(t, Config{}.Validate())
	require.Error(t, Config{Brokers: []string{"b:9092"}}.Validate())
}
