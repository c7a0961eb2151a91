package services

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/sinks"
)

// ArchiverConfig tunes the background archival worker.
type ArchiverConfig struct {
	QueueSize            int
	MaxRetries           uint64
	RetryInitialInterval time.Duration
}

func (c ArchiverConfig) withDefaults() ArchiverConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 250 * time.Millisecond
	}
	return c
}

// ArchivalWorker pushes context snapshots to the archival sink off the
// request path. Pushes are retried with exponential backoff behind a
// circuit breaker; an entry that still fails is logged and dropped, so an
// archival outage never fails a user write.
type ArchivalWorker struct {
	sink    sinks.ArchivalSink
	config  ArchiverConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	queue   chan *sinks.ArchiveEntry
	breaker *gobreaker.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewArchivalWorker creates and starts an archival worker.
func NewArchivalWorker(sink sinks.ArchivalSink, config ArchiverConfig, logger observability.Logger, metrics observability.MetricsClient) *ArchivalWorker {
	if sink == nil {
		sink = sinks.NewNoopArchivalSink()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	w := &ArchivalWorker{
		sink:    sink,
		config:  config,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan *sinks.ArchiveEntry, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "context_archiver",
		Interval: 10 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Archiver circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	w.wg.Add(1)
	go w.run()

	return w
}

// Enqueue submits an entry for archival and returns immediately. A full
// queue drops the entry.
func (w *ArchivalWorker) Enqueue(entry *sinks.ArchiveEntry) {
	if entry == nil {
		return
	}
	select {
	case w.queue <- entry:
	default:
		w.metrics.IncrementCounter("archive.dropped", 1)
		w.logger.Warn("Archive queue full, dropping entry", map[string]interface{}{
			"context_id": entry.ContextID,
			"version_id": entry.VersionID,
		})
	}
}

// Stop shuts the worker down and waits for it to exit. Entries still
// queued are abandoned.
func (w *ArchivalWorker) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
}

func (w *ArchivalWorker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case entry := <-w.queue:
			w.archive(entry)
		}
	}
}

func (w *ArchivalWorker) archive(entry *sinks.ArchiveEntry) {
	w.metrics.IncrementCounter("archive.attempts", 1)

	operation := func() error {
		_, err := w.breaker.Execute(func() (interface{}, error) {
			return nil, w.sink.Archive(w.ctx, entry)
		})
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.config.RetryInitialInterval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, w.config.MaxRetries), w.ctx))
	if err != nil {
		w.metrics.IncrementCounter("archive.failures", 1)
		w.logger.Error("Failed to archive context version", map[string]interface{}{
			"context_id": entry.ContextID,
			"version_id": entry.VersionID,
			"error":      err.Error(),
		})
		return
	}

	w.logger.Debug("Archived context version", map[string]interface{}{
		"context_id": entry.ContextID,
		"version_id": entry.VersionID,
	})
}
