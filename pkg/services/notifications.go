package services

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/sinks"
)

// DispatcherConfig tunes the notification dispatcher.
type DispatcherConfig struct {
	QueueSize          int
	PerSubscriberRate  float64
	PerSubscriberBurst int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.PerSubscriberRate <= 0 {
		c.PerSubscriberRate = 100
	}
	if c.PerSubscriberBurst <= 0 {
		c.PerSubscriberBurst = 200
	}
	return c
}

// NotificationDispatcher fans context change notifications out to
// subscribers off the mutating request path. Each subscriber has its own
// bounded lane, drained by one goroutine under a per-subscriber rate
// limit, so notifications for a subscriber arrive in emission order while
// a slow subscriber never delays the others. A full lane drops its oldest
// entry and counts the drop.
type NotificationDispatcher struct {
	sink    sinks.NotificationSink
	config  DispatcherConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	mu     sync.Mutex
	lanes  map[string]*subscriberLane
	closed bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type subscriberLane struct {
	ch      chan *sinks.Notification
	limiter *rate.Limiter
}

// NewNotificationDispatcher creates a dispatcher delivering through the
// given sink.
func NewNotificationDispatcher(sink sinks.NotificationSink, config DispatcherConfig, logger observability.Logger, metrics observability.MetricsClient) *NotificationDispatcher {
	if sink == nil {
		sink = sinks.NewNoopNotificationSink()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationDispatcher{
		sink:    sink,
		config:  config.withDefaults(),
		logger:  logger,
		metrics: metrics,
		lanes:   make(map[string]*subscriberLane),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Notify queues the notification for every listed subscriber and returns
// immediately.
func (d *NotificationDispatcher) Notify(subscriberIDs []string, notification *sinks.Notification) {
	if notification == nil {
		return
	}
	for _, subscriberID := range subscriberIDs {
		lane := d.laneFor(subscriberID)
		if lane == nil {
			return
		}
		d.enqueue(lane, notification)
	}
}

// Dropped returns the number of notifications discarded due to full lanes.
func (d *NotificationDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Stop shuts down delivery and waits for all lane workers to exit. Queued
// notifications that were not yet delivered are discarded.
func (d *NotificationDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *NotificationDispatcher) laneFor(subscriberID string) *subscriberLane {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	lane, ok := d.lanes[subscriberID]
	if !ok {
		lane = &subscriberLane{
			ch:      make(chan *sinks.Notification, d.config.QueueSize),
			limiter: rate.NewLimiter(rate.Limit(d.config.PerSubscriberRate), d.config.PerSubscriberBurst),
		}
		d.lanes[subscriberID] = lane

		d.wg.Add(1)
		go d.deliverLoop(subscriberID, lane)
	}
	return lane
}

// enqueue pushes the notification, evicting the oldest entry when the lane
// is full.
func (d *NotificationDispatcher) enqueue(lane *subscriberLane, notification *sinks.Notification) {
	select {
	case lane.ch <- notification:
		return
	default:
	}

	select {
	case <-lane.ch:
		d.countDrop()
	default:
	}

	select {
	case lane.ch <- notification:
	default:
		d.countDrop()
	}
}

func (d *NotificationDispatcher) countDrop() {
	d.dropped.Add(1)
	d.metrics.IncrementCounter("notifications.dropped", 1)
}

func (d *NotificationDispatcher) deliverLoop(subscriberID string, lane *subscriberLane) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case notification := <-lane.ch:
			if err := lane.limiter.Wait(d.ctx); err != nil {
				return
			}
			if err := d.sink.Deliver(d.ctx, subscriberID, notification); err != nil {
				d.logger.Warn("Notification delivery failed", map[string]interface{}{
					"subscriber_id": subscriberID,
					"context_id":    notification.ContextID,
					"error":         err.Error(),
				})
			}
		}
	}
}
