package services

import (
	"context"
	"sync"
	"time"

	"github.com/agent-mesh/agent-mesh/pkg/common/clock"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// NegotiationSweeper periodically fires the engine's timeout sweep so
// negotiations nobody responds to still close once their deadline passes.
type NegotiationSweeper struct {
	engine   NegotiationEngine
	clk      clock.Clock
	logger   observability.Logger
	ticker   clock.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewNegotiationSweeper starts a sweeper ticking at the given interval.
func NewNegotiationSweeper(engine NegotiationEngine, interval time.Duration, clk clock.Clock, logger observability.Logger) *NegotiationSweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	s := &NegotiationSweeper{
		engine: engine,
		clk:    clk,
		logger: logger,
		ticker: clk.NewTicker(interval),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Stop halts the sweeper and waits for the current sweep to finish.
func (s *NegotiationSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.ticker.Stop()
		s.wg.Wait()
	})
}

func (s *NegotiationSweeper) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C():
			closed, err := s.engine.SweepTimeouts(context.Background())
			if err != nil {
				s.logger.Warn("Negotiation timeout sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if closed > 0 {
				s.logger.Info("Negotiation timeout sweep closed negotiations", map[string]interface{}{
					"closed": closed,
				})
			}
		}
	}
}
