package domain

import "fmt"

// ProducerKey buckets pooled producers. Equality is structural, so it is
// usable directly as a Go map key.
type ProducerKey struct {
	EntityType        string
	Topic             string
	ConfigFingerprint string
}

func (k ProducerKey) String() string {
	return fmt.Sprintf("producer:%s:%s:%s", k.EntityType, k.Topic, k.ConfigFingerprint)
}

// ConsumerKey buckets pooled consumers. Equality is structural.
type ConsumerKey struct {
	EntityType string
	Topic      string
	GroupID    string
}

func (k ConsumerKey) String() string {
	return fmt.Sprintf("consumer:%s:%s:%s", k.EntityType, k.Topic, k.GroupID)
}
