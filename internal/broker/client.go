package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client wraps a *kgo.Client to satisfy domain.RawClient and give the pool a
// cheap health probe (Ping) independent of actually polling for records.
type Client struct {
	*kgo.Client
	closed atomic.Bool
}

// Close satisfies domain.RawClient. Idempotent.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.Client.Close()
	}
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool { return c.closed.Load() }

// Probe is the pool.ProbeFunc the Client Pool uses to decide whether a
// pooled client is still usable: closed clients are unhealthy, otherwise a
// bounded metadata round-trip decides it. Any non-*Client value (should
// never happen given ConstructFunc always returns *Client) is unhealthy.
func Probe(raw domain.RawClient) bool {
	c, ok := raw.(*Client)
	if !ok || c.Closed() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Client.Ping(ctx) == nil
}
