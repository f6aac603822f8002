package observability

import (
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOperation_SendBatchIncrementsBatchCounterNotSendCounter(t *testing.T) {
	topic, entityType := "orders-batch-test", "OrderBatchTest"
	r := PrometheusRecorder{Topic: topic, EntityType: entityType}

	before := testutil.ToFloat64(BatchesSentTotal.WithLabelValues(topic, entityType, "true"))

	r.RecordOperation(observability.ConnectionTypeProducer, "send_batch", true, 0)

	after := testutil.ToFloat64(BatchesSentTotal.WithLabelValues(topic, entityType, "true"))
	if after != before+1 {
		t.Fatalf("batches_sent_total = %v, want %v", after, before+1)
	}
	if got := testutil.ToFloat64(MessagesSentTotal.WithLabelValues(topic, entityType, "true")); got != 0 {
		t.Fatalf("messages_sent_total should stay at 0 for a batch operation, got %v", got)
	}
}

func TestRecordOperation_SendIncrementsSendCounter(t *testing.T) {
	topic, entityType := "orders-send-test", "OrderSendTest"
	r := PrometheusRecorder{Topic: topic, EntityType: entityType}

	r.RecordOperation(observability.ConnectionTypeProducer, "send", true, 10*time.Millisecond)

	if got := testutil.ToFloat64(MessagesSentTotal.WithLabelValues(topic, entityType, "true")); got != 1 {
		t.Fatalf("messages_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BatchesSentTotal.WithLabelValues(topic, entityType, "true")); got != 0 {
		t.Fatalf("batches_sent_total should stay at 0 for a single-send operation, got %v", got)
	}
}
