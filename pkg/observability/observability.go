package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// Global default instances used when a component is not handed its own
// logger, metrics client, or span starter.
var (
	// DefaultLogger is the default logger instance
	DefaultLogger Logger

	// DefaultMetricsClient is the default metrics client instance
	DefaultMetricsClient MetricsClient

	// DefaultStartSpan is the default function for starting new spans
	DefaultStartSpan StartSpanFunc

	shutdownFuncs []func() error
	shutdownMutex sync.Mutex
)

// Context keys for storing observability components
const (
	loggerKey    contextKey = "observability_logger"
	metricsKey   contextKey = "observability_metrics"
	startSpanKey contextKey = "observability_startspan"
)

// Initialize initializes the observability system with the given configuration.
// This is the main entry point for configuring all observability components.
func Initialize(cfg Config) error {
	if DefaultLogger == nil {
		DefaultLogger = NewStandardLogger("agent-mesh")
	}

	if DefaultMetricsClient == nil {
		DefaultMetricsClient = NewMetricsClient()
	}

	if DefaultStartSpan == nil {
		if cfg.Tracing.Enabled {
			shutdownFunc, err := InitTracing(cfg.Tracing)
			if err != nil {
				DefaultLogger.Error("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
				DefaultStartSpan = NoopStartSpan
			} else {
				DefaultStartSpan = func(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
					returnCtx, returnSpan := StartSpan(ctx, name)
					if len(attrs) > 0 {
						returnSpan.SetAttribute("attributes", attrs)
					}
					return returnCtx, returnSpan
				}

				registerShutdownFunc(func() error {
					shutdownFunc()
					return nil
				})
			}
		} else {
			DefaultStartSpan = NoopStartSpan
		}
	}

	return nil
}

// Shutdown gracefully shuts down all observability components
func Shutdown() error {
	var shutdownErrors []error

	if DefaultMetricsClient != nil {
		if err := DefaultMetricsClient.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
			if DefaultLogger != nil {
				DefaultLogger.Error("Error shutting down metrics client", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	shutdownMutex.Lock()
	funcs := make([]func() error, len(shutdownFuncs))
	copy(funcs, shutdownFuncs)
	shutdownFuncs = nil
	shutdownMutex.Unlock()

	for _, fn := range funcs {
		if err := fn(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
			if DefaultLogger != nil {
				DefaultLogger.Error("Error during observability shutdown", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if len(shutdownErrors) > 0 {
		return shutdownErrors[0]
	}
	return nil
}

// With creates a new context that contains the provided observability components
func With(ctx context.Context, logger Logger, metrics MetricsClient, startSpan StartSpanFunc) context.Context {
	if logger != nil {
		ctx = context.WithValue(ctx, loggerKey, logger)
	}
	if metrics != nil {
		ctx = context.WithValue(ctx, metricsKey, metrics)
	}
	if startSpan != nil {
		ctx = context.WithValue(ctx, startSpanKey, startSpan)
	}
	return ctx
}

// FromContext extracts the observability components from the provided context
func FromContext(ctx context.Context) (Logger, MetricsClient, StartSpanFunc) {
	logger := DefaultLogger
	metrics := DefaultMetricsClient
	startSpan := DefaultStartSpan

	if l, ok := ctx.Value(loggerKey).(Logger); ok && l != nil {
		logger = l
	}
	if m, ok := ctx.Value(metricsKey).(MetricsClient); ok && m != nil {
		metrics = m
	}
	if s, ok := ctx.Value(startSpanKey).(StartSpanFunc); ok && s != nil {
		startSpan = s
	}

	return logger, metrics, startSpan
}

func registerShutdownFunc(fn func() error) {
	if fn == nil {
		return
	}

	shutdownMutex.Lock()
	defer shutdownMutex.Unlock()
	shutdownFuncs = append(shutdownFuncs, fn)
}
