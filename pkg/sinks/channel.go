package sinks

import (
	"context"
	"sync"
)

// ChannelNotificationSink delivers notifications to in-process consumers
// over per-subscriber channels. Subscribers without a registered stream
// are dropped silently; a full stream blocks delivery until ctx is done.
type ChannelNotificationSink struct {
	mu      sync.RWMutex
	buffer  int
	streams map[string]chan *Notification
}

// NewChannelNotificationSink creates a sink whose per-subscriber streams
// buffer up to the given number of notifications.
func NewChannelNotificationSink(buffer int) *ChannelNotificationSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelNotificationSink{
		buffer:  buffer,
		streams: make(map[string]chan *Notification),
	}
}

// Register opens a stream for a subscriber, creating it on first use.
func (s *ChannelNotificationSink) Register(subscriberID string) <-chan *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[subscriberID]
	if !ok {
		stream = make(chan *Notification, s.buffer)
		s.streams[subscriberID] = stream
	}
	return stream
}

// Unregister removes a subscriber's stream. Notifications delivered after
// removal are dropped; the channel itself stays open for late readers.
func (s *ChannelNotificationSink) Unregister(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, subscriberID)
}

// Deliver pushes the notification onto the subscriber's stream.
func (s *ChannelNotificationSink) Deliver(ctx context.Context, subscriberID string, notification *Notification) error {
	s.mu.RLock()
	stream, ok := s.streams[subscriberID]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	select {
	case stream <- notification:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
