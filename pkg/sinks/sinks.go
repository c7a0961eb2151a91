// Package sinks holds the delivery-side interfaces of the context engine.
// Notifications, archival and compression are pluggable so the engine can
// run against S3 and live subscribers in production and against no-ops or
// in-process channels in tests.
package sinks

import (
	"context"
	"time"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// Notification describes a context change delivered to a subscriber.
type Notification struct {
	ContextID string    `json:"context_id"`
	VersionID string    `json:"version_id"`
	AgentID   string    `json:"agent_id"`
	Operation string    `json:"operation"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationSink delivers change notifications to a single subscriber.
// Delivery is best effort; implementations may block until ctx is done.
type NotificationSink interface {
	Deliver(ctx context.Context, subscriberID string, notification *Notification) error
}

// ArchiveEntry is a context snapshot pushed to long-term storage.
type ArchiveEntry struct {
	ContextID string         `json:"context_id"`
	VersionID string         `json:"version_id"`
	Version   int            `json:"version"`
	Content   models.JSONMap `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// ArchivalSink persists context snapshots outside the primary store.
type ArchivalSink interface {
	Archive(ctx context.Context, entry *ArchiveEntry) error
	Close() error
}

// CompressionSink compresses and decompresses raw content payloads.
type CompressionSink interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() string
}

// NoopNotificationSink discards every notification.
type NoopNotificationSink struct{}

// NewNoopNotificationSink creates a sink that drops all notifications.
func NewNoopNotificationSink() *NoopNotificationSink {
	return &NoopNotificationSink{}
}

// Deliver drops the notification.
func (s *NoopNotificationSink) Deliver(ctx context.Context, subscriberID string, notification *Notification) error {
	return nil
}

// NoopArchivalSink discards every archive entry.
type NoopArchivalSink struct{}

// NewNoopArchivalSink creates a sink that drops all archive entries.
func NewNoopArchivalSink() *NoopArchivalSink {
	return &NoopArchivalSink{}
}

// Archive drops the entry.
func (s *NoopArchivalSink) Archive(ctx context.Context, entry *ArchiveEntry) error {
	return nil
}

// Close is a no-op.
func (s *NoopArchivalSink) Close() error {
	return nil
}
