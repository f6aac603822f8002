package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	closed bool
}

func (f *fakeClient) Close() { f.closed = true }

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinPoolSize:            1,
		MaxPoolSize:            2,
		IdleTimeout:            time.Minute,
		MaintenanceInterval:    50 * time.Millisecond,
		OverloadedThreshold:    0.8,
		UnderutilizedThreshold: 0.1,
		CircuitMaxFailures:     5,
		CircuitResetTimeout:    time.Second,
	}
}

func TestPool_RentReturn_HappyPath(t *testing.T) {
	p := New[string](testPoolConfig(), func(ctx context.Context, key string) (domain.RawClient, error) {
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool { return true }, nil)

	inst, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, int64(1), p.Metrics("k1").Active)

	p.Return("k1", inst)
	assert.Equal(t, int64(0), p.Metrics("k1").Active)
}

func TestPool_Rent_PoolExhausted(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxPoolSize = 1
	p := New[string](cfg, func(ctx context.Context, key string) (domain.RawClient, error) {
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool { return true }, nil)

	inst1, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)

	_, err = p.Rent(context.Background(), "k1")
	require.ErrorIs(t, err, domain.ErrPoolExhausted)

	p.Return("k1", inst1)
}

func TestPool_Rent_ClientInitFailed(t *testing.T) {
	p := New[string](testPoolConfig(), func(ctx context.Context, key string) (domain.RawClient, error) {
		return nil, errors.New("dial refused")
	}, func(c domain.RawClient) bool { return true }, nil)

	_, err := p.Rent(context.Background(), "k1")
	require.ErrorIs(t, err, domain.ErrClientInitFailed)
	assert.Equal(t, int64(1), p.Metrics("k1").CreationFailures)
}

func TestPool_Rent_RetriesConstructionWhenRetryConfigured(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Retry = config.RetryConfig{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      1.5,
	}

	attempts := 0
	p := New[string](cfg, func(ctx context.Context, key string) (domain.RawClient, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("dial refused")
		}
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool { return true }, nil)

	inst, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(0), p.Metrics("k1").CreationFailures)

	p.Return("k1", inst)
}

func TestPool_Return_UnhealthyClientIsDestroyed(t *testing.T) {
	p := New[string](testPoolConfig(), func(ctx context.Context, key string) (domain.RawClient, error) {
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool {
		// Rent hands out a freshly constructed client without probing it, so
		// the only probe is the one Return makes: report the client unhealthy.
		return false
	}, nil)

	inst, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)

	p.Return("k1", inst)

	fc := inst.Pooled.Client.(*fakeClient)
	assert.True(t, fc.closed)
	assert.Equal(t, int64(1), p.Metrics("k1").Disposed)
}

func TestPool_Return_OverflowDiscardsNewest(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxPoolSize = 1
	p := New[string](cfg, func(ctx context.Context, key string) (domain.RawClient, error) {
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool { return true }, nil)

	inst1, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)
	p.Return("k1", inst1)

	// A second Rent would dequeue inst1's idle client, and the capacity check
	// stops Rent constructing past MaxPoolSize, so the overflowing instance
	// is built directly.
	inst2 := &domain.ActiveInstance{
		Pooled:   &domain.PooledClient{Client: &fakeClient{}, LastUsedAt: time.Now(), Healthy: true},
		RentedAt: time.Now(),
		Active:   true,
	}

	// Bucket already holds inst1's client idle; returning inst2 overflows
	// and discards the newly-returned (inst2's) client.
	p.Return("k1", inst2)
	assert.False(t, inst1.Pooled.Client.(*fakeClient).closed)
	assert.True(t, inst2.Pooled.Client.(*fakeClient).closed)
}

func TestPool_Health_ReflectsFailureRate(t *testing.T) {
	p := New[string](testPoolConfig(), func(ctx context.Context, key string) (domain.RawClient, error) {
		return nil, errors.New("boom")
	}, func(c domain.RawClient) bool { return true }, nil)

	for i := 0; i < 3; i++ {
		_, _ = p.Rent(context.Background(), "k1")
	}

	h := p.Health("k1")
	assert.NotEqual(t, domain.HealthHealthy, h.Level)
}

func TestPool_DisposeAll_Idempotent(t *testing.T) {
	p := New[string](testPoolConfig(), func(ctx context.Context, key string) (domain.RawClient, error) {
		return &fakeClient{}, nil
	}, func(c domain.RawClient) bool { return true }, nil)

	inst, err := p.Rent(context.Background(), "k1")
	require.NoError(t, err)
	p.Return("k1", inst)

	p.DisposeAll()
	p.DisposeAll()
}
