package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agent-mesh/agent-mesh/pkg/sinks"
)

func TestDispatcher_DeliversPerSubscriberInOrder(t *testing.T) {
	sink := sinks.NewChannelNotificationSink(64)
	first := sink.Register("sub-1")
	second := sink.Register("sub-2")

	dispatcher := NewNotificationDispatcher(sink, DispatcherConfig{}, nil, nil)
	defer dispatcher.Stop()

	const total = 20
	for i := 0; i < total; i++ {
		dispatcher.Notify([]string{"sub-1", "sub-2"}, &sinks.Notification{
			ContextID: "ctx-1",
			VersionID: fmt.Sprintf("v-%02d", i),
			Operation: "update",
		})
	}

	receive := func(stream <-chan *sinks.Notification) *sinks.Notification {
		select {
		case notification := <-stream:
			return notification
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification")
			return nil
		}
	}

	for i := 0; i < total; i++ {
		want := fmt.Sprintf("v-%02d", i)
		assert.Equal(t, want, receive(first).VersionID)
		assert.Equal(t, want, receive(second).VersionID)
	}
	assert.Zero(t, dispatcher.Dropped())
}

// blockingSink parks the delivery goroutine until the gate opens, so tests
// can fill a lane behind an in-flight delivery.
type blockingSink struct {
	gate    chan struct{}
	started chan struct{}

	mu        sync.Mutex
	delivered []*sinks.Notification
}

func (s *blockingSink) Deliver(ctx context.Context, subscriberID string, notification *sinks.Notification) error {
	s.started <- struct{}{}
	<-s.gate
	s.mu.Lock()
	s.delivered = append(s.delivered, notification)
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) snapshot() []*sinks.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sinks.Notification(nil), s.delivered...)
}

func TestDispatcher_FullLaneDropsOldest(t *testing.T) {
	sink := &blockingSink{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	dispatcher := NewNotificationDispatcher(sink, DispatcherConfig{QueueSize: 1}, nil, nil)
	defer dispatcher.Stop()

	note := func(id string) *sinks.Notification {
		return &sinks.Notification{ContextID: "ctx-1", VersionID: id}
	}

	// A is in flight, B fills the one-slot lane, C evicts B.
	dispatcher.Notify([]string{"sub-1"}, note("v-a"))
	<-sink.started
	dispatcher.Notify([]string{"sub-1"}, note("v-b"))
	dispatcher.Notify([]string{"sub-1"}, note("v-c"))
	assert.Equal(t, int64(1), dispatcher.Dropped())

	close(sink.gate)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	delivered := sink.snapshot()
	assert.Equal(t, "v-a", delivered[0].VersionID)
	assert.Equal(t, "v-c", delivered[1].VersionID)
}

func TestDispatcher_StopWaitsAndFurtherNotifiesAreNoops(t *testing.T) {
	preexisting := goleak.IgnoreCurrent()

	sink := sinks.NewChannelNotificationSink(8)
	sink.Register("sub-1")

	dispatcher := NewNotificationDispatcher(sink, DispatcherConfig{}, nil, nil)
	dispatcher.Notify([]string{"sub-1"}, &sinks.Notification{ContextID: "ctx-1", VersionID: "v-1"})
	dispatcher.Notify(nil, nil)

	dispatcher.Stop()
	dispatcher.Stop()

	dispatcher.Notify([]string{"sub-1"}, &sinks.Notification{ContextID: "ctx-1", VersionID: "v-2"})
	assert.Zero(t, dispatcher.Dropped())

	goleak.VerifyNone(t, preexisting)
}
