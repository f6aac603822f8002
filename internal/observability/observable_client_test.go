package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	connType ConnectionType
	op       string
	success  bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordOperation(connType ConnectionType, op string, success bool, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{connType, op, success})
}

func TestObservableClient_ExecuteWithMetrics_Success(t *testing.T) {
	rec := &fakeRecorder{}
	oc := NewObservableClient(ConnectionTypeProducer, OperationTypePublish, "broker:9092", "svc", time.Second, time.Millisecond, time.Second, rec)

	err := oc.ExecuteWithMetrics(context.Background(), "send", func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.True(t, rec.calls[0].success)
	assert.True(t, oc.IsHealthy())
}

func TestObservableClient_ExecuteWithMetrics_Failure(t *testing.T) {
	rec := &fakeRecorder{}
	oc := NewObservableClient(ConnectionTypeConsumer, OperationTypeConsume, "broker:9092", "svc", time.Second, time.Millisecond, time.Second, rec)
	wantErr := errors.New("boom")

	err := oc.ExecuteWithMetrics(context.Background(), "consume", func(ctx context.Context) error {
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	require.Len(t, rec.calls, 1)
	assert.False(t, rec.calls[0].success)
}

func TestObservableClient_CircuitBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	oc := NewObservableClient(ConnectionTypeProducer, OperationTypePublish, "broker:9092", "svc", time.Second, time.Millisecond, time.Second, nil)

	for i := 0; i < 5; i++ {
		_ = oc.ExecuteWithMetrics(context.Background(), "send", func(ctx context.Context) error {
			return errors.New("fail")
		})
	}

	err := oc.ExecuteWithMetrics(context.Background(), "send", func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestObservableClient_ExecuteWithRetry_EventuallySucceeds(t *testing.T) {
	oc := NewObservableClient(ConnectionTypeProducer, OperationTypePublish, "broker:9092", "svc", time.Second, time.Millisecond, time.Second, nil)
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = time.Second

	err := oc.ExecuteWithRetry(context.Background(), "send", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, b)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestObservableClient_Reset(t *testing.T) {
	oc := NewObservableClient(ConnectionTypeProducer, OperationTypePublish, "broker:9092", "svc", time.Second, time.Millisecond, time.Second, nil)
	_ = oc.ExecuteWithMetrics(context.Background(), "send", func(ctx context.Context) error {
		return errors.New("fail")
	})

	oc.Reset()

	assert.True(t, oc.IsHealthy())
}
