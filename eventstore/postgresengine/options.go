package postgresengine

import "github.com/eventfold/eventfold/eventstore"

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithTableName sets the events table name for the EventStore.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return ErrEmptyEventsTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithClock sets the time source for the EventStore.
// Every appended event is stamped with the clock's current instant.
func WithClock(clock eventstore.Clock) Option {
	return func(es *EventStore) error {
		if clock == nil {
			return ErrNilClockSupplied
		}

		es.clock = clock

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
//
// Info level: event counts, durations, concurrency conflicts (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// The collector will receive append/fetch durations and conflict counts.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// Append and fetch operations are wrapped in spans carrying the stream id,
// event count and outcome.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the EventStore.
// When configured it takes precedence over the plain logger for operational
// messages, enabling automatic trace correlation.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}
