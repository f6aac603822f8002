// Package registry implements the Schema Binder (component B): given an
// entity descriptor, it derives Avro schemas, registers or fetches them from
// a schema registry collaborator, and hands back encoder/decoder pairs,
// caching by entity type.
package registry

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/twmb/franz-go/pkg/sr"
)

// RegistryCollaborator is the contract with the schema registry: register a
// schema text under a subject and get an id back; fetch the latest
// registered schema for a subject; ask whether a candidate schema is
// compatible with the latest. The binder trusts this collaborator's
// compatibility verdict and never parses schema text itself.
type RegistryCollaborator interface {
	Register(ctx context.Context, subject, schemaText string) (int, error)
	Latest(ctx context.Context, subject string) (id int, version int, schemaText string, err error)
	Compatible(ctx context.Context, subject, schemaText string) (bool, error)
}

// Client wraps github.com/twmb/franz-go/pkg/sr.Client to satisfy
// RegistryCollaborator.
type Client struct {
	cl *sr.Client
}

// NewClient dials the schema registry described by cfg.
func NewClient(cfg config.RegistryConfig) (*Client, error) {
	cl, err := sr.NewClient(sr.URLs(cfg.URL), sr.HTTPClient(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: schema registry client: %v", domain.ErrClientInitFailed, err)
	}
	return &Client{cl: cl}, nil
}

// Register implements RegistryCollaborator.
func (c *Client) Register(ctx context.Context, subject, schemaText string) (int, error) {
	ss, err := c.cl.CreateSchema(ctx, subject, sr.Schema{Schema: schemaText, Type: sr.TypeAvro})
	if err != nil {
		return 0, fmt.Errorf("%w: register %s: %v", domain.ErrSchemaUnavailable, subject, err)
	}
	return ss.ID, nil
}

// Latest implements RegistryCollaborator.
func (c *Client) Latest(ctx context.Context, subject string) (int, int, string, error) {
	ss, err := c.cl.SchemaByVersion(ctx, subject, -1)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: latest %s: %v", domain.ErrSchemaUnavailable, subject, err)
	}
	return ss.ID, ss.Version, ss.Schema.Schema, nil
}

// Compatible implements RegistryCollaborator by calling CreateSchema with the
// candidate: success reports true, and any error from the registry (an
// incompatible schema or any other failure) reports false with a nil error.
// This is not a dry run: a compatible candidate is registered under subject.
func (c *Client) Compatible(ctx context.Context, subject, schemaText string) (bool, error) {
	_, err := c.cl.CreateSchema(ctx, subject, sr.Schema{Schema: schemaText, Type: sr.TypeAvro})
	if err != nil {
		return false, nil
	}
	return true, nil
}
