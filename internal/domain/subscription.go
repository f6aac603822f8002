package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AutoOffsetReset mirrors the broker's auto.offset.reset setting.
type AutoOffsetReset string

const (
	OffsetLatest   AutoOffsetReset = "latest"
	OffsetEarliest AutoOffsetReset = "earliest"
)

// SubscriptionOptions configures a Consumer Manager subscription.
type SubscriptionOptions struct {
	GroupID            string
	AutoCommit         bool
	AutoOffsetReset    AutoOffsetReset
	EnablePartitionEOF bool
	SessionTimeout     time.Duration
	HeartbeatInterval  time.Duration
	MaxPollInterval    time.Duration
	StopOnError        bool
	MaxPollRecords     int
}

// DefaultSubscriptionOptions mirrors the spec's stated defaults.
func DefaultSubscriptionOptions(groupID string) SubscriptionOptions {
	return SubscriptionOptions{
		GroupID:            groupID,
		AutoCommit:         true,
		AutoOffsetReset:    OffsetLatest,
		EnablePartitionEOF: false,
		SessionTimeout:     10 * time.Second,
		HeartbeatInterval:  3 * time.Second,
		MaxPollInterval:    5 * time.Minute,
		StopOnError:        false,
		MaxPollRecords:     500,
	}
}

// BatchOptions configures ConsumeBatch / the facade's Fetch path.
type BatchOptions struct {
	MaxBatchSize        int
	MaxWaitTime         time.Duration
	AutoCommit          bool
	EnableEmptyBatches  bool
	ConsumerGroupID     string
}

// FetchOptions configures the facade's one-shot Fetch.
type FetchOptions struct {
	ConsumerGroupID     string
	MaxMessages         int
	Timeout             time.Duration
	FromOffset          *int64
	ToOffset            *int64
	SpecificPartitions  []int32
}

// SubscriptionState is the per-subscription lifecycle state.
type SubscriptionState string

const (
	SubscriptionRegistered SubscriptionState = "registered"
	SubscriptionRunning    SubscriptionState = "running"
	SubscriptionDraining   SubscriptionState = "draining"
	SubscriptionTerminated SubscriptionState = "terminated"
)

// SubscriptionID deterministically hashes (entity_type, group_id, options)
// into the subscription's unique id.
func SubscriptionID(entityType, groupID string, opts SubscriptionOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%v|%v|%v|%v|%v|%v|%v",
		entityType, groupID, opts.AutoCommit, opts.AutoOffsetReset,
		opts.EnablePartitionEOF, opts.SessionTimeout, opts.HeartbeatInterval,
		opts.MaxPollInterval, opts.StopOnError, opts.MaxPollRecords)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SubscriptionStats counts messages processed and failed by a subscription's
// background loop.
type SubscriptionStats struct {
	Processed int64
	Failed    int64
}

// Subscription is a live binding of a consumer, handler, and options,
// tracked by id. Unique per id; the owning manager rejects duplicates.
type Subscription struct {
	ID        string
	EntityType string
	GroupID   string
	Options   SubscriptionOptions
	StartedAt time.Time
	State     SubscriptionState
	Stats     SubscriptionStats
	Cancel    context.CancelFunc
}
