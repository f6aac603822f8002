package broker

import (
	"testing"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
)

type notAClient struct{}

func (notAClient) Close() {}

func TestProbe_RejectsNonBrokerClient(t *testing.T) {
	assert.False(t, Probe(notAClient{}))
}

func TestProbe_RejectsClosedClient(t *testing.T) {
	c := &Client{}
	c.closed.Store(true)
	var raw domain.RawClient = c
	assert.False(t, Probe(raw))
}

func TestEnsureTopic_RejectsEmptyTopicName(t *testing.T) {
	err := EnsureTopic(nil, nil, "", domain.TopicSettings{Partitions: 1, ReplicationFactor: 1})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
