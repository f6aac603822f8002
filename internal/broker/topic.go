// Package broker builds and configures the raw franz-go clients the Client
// Pool rents out: producer and consumer kgo.Client construction, topic
// provisioning from an entity descriptor's TopicSettings, and the thin
// domain.RawClient wrapper the pool uses for lifecycle and health checks.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// topicAlreadyExistsErrorCode is Kafka protocol error code 36
// (TOPIC_ALREADY_EXISTS). See https://kafka.apache.org/protocol#protocol_error_codes.
const topicAlreadyExistsErrorCode = 36

// EnsureTopic creates topic if it does not already exist, applying settings.
// Called each time a producer or consumer client is constructed; a topic
// that already exists (TOPIC_ALREADY_EXISTS) is not an error. Any other
// failure is returned, and the constructor closes the new client and fails.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, settings domain.TopicSettings) error {
	if topic == "" {
		return fmt.Errorf("%w: topic name cannot be empty", domain.ErrConfiguration)
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = int32(settings.Partitions)
	topicReq.ReplicationFactor = int16(settings.ReplicationFactor)
	topicReq.Configs = []kmsg.CreateTopicsRequestTopicConfig{
		{Name: "cleanup.policy", Value: strPtr(string(settings.CleanupPolicy))},
	}
	if settings.RetentionMS > 0 {
		topicReq.Configs = append(topicReq.Configs, kmsg.CreateTopicsRequestTopicConfig{
			Name: "retention.ms", Value: strPtr(strconv.FormatInt(settings.RetentionMS, 10)),
		})
	}

	req.Topics = append(req.Topics, topicReq)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("create topic request: %w", err)
	}

	for _, t := range resp.Topics {
		if t.ErrorCode == 0 {
			slog.Info("topic ensured", slog.String("topic", t.Topic), slog.Int("partitions", settings.Partitions))
			continue
		}
		if t.ErrorCode == topicAlreadyExistsErrorCode {
			slog.Debug("topic already exists", slog.String("topic", t.Topic))
			continue
		}
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", t.Topic, msg, t.ErrorCode)
	}
	return nil
}

func strPtr(s string) *string { return &s }
