package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
	require.Equal(t, []string{"localhost:19092"}, cfg.Client.Brokers)
	require.Equal(t, 1, cfg.Pool.MinPoolSize)
	require.Equal(t, 10, cfg.Pool.MaxPoolSize)
}

func Test_Load_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("POOL_MAX_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProd())
	require.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Client.Brokers)
	require.Equal(t, 25, cfg.Pool.MaxPoolSize)
}

func Test_ClientConfig_Fingerprint_StableAndDistinguishing(t *testing.T) {
	a := ClientConfig{Brokers: []string{"b1:9092"}, RequestRetries: 10}
	b := ClientConfig{Brokers: []string{"b1:9092"}, RequestRetries: 10}
	c := ClientConfig{Brokers: []string{"b2:9092"}, RequestRetries: 10}

	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
