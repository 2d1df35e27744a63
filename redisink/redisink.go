// Package redisink provides a write-only audit sink that ships events to a
// Redis stream, for deployments that fan events out to external consumers
// (SIEM ingestion, alerting) alongside the persistent store.
package redisink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// DefaultStream is the stream key events are appended to.
const DefaultStream = "tenantauth:audit"

// DefaultMaxLen is the approximate stream length cap.
const DefaultMaxLen = 100_000

// Sink appends audit events to a Redis stream via XADD.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// compile-time check
var _ tenantauth.AuditSink = (*Sink)(nil)

// Option configures the Sink.
type Option func(*Sink)

// WithStream overrides the stream key.
func WithStream(name string) Option {
	return func(s *Sink) { s.stream = name }
}

// WithMaxLen overrides the approximate stream length cap.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New creates a Sink over an existing Redis client.
func New(client *redis.Client, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		stream: DefaultStream,
		maxLen: DefaultMaxLen,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Write appends one event to the stream. The full event travels as a single
// JSON payload field; tenant, action, and trace id are duplicated as flat
// fields so consumers can filter without decoding.
func (s *Sink) Write(ctx context.Context, event tenantauth.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("tenantauth/redisink: encode: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"tenant_id": event.TenantID,
			"action":    string(event.Action),
			"trace_id":  event.TraceID,
			"event":     payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("tenantauth/redisink: xadd: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}
