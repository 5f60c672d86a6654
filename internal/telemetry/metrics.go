// Package telemetry provides the engine's OpenTelemetry metric
// instruments. Instruments are no-ops unless the process installs a
// MeterProvider, so library callers pay nothing by default.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/AssortedFood/surge/internal/mentions"

// Metrics holds the extraction engine's metric instruments.
type Metrics struct {
	meter           metric.Meter
	logger          *zap.Logger
	combineDuration metric.Float64Histogram
	oracleTokens    metric.Int64Counter
	votingRuns      metric.Int64Counter
}

// NewMetrics creates the engine metrics against the global meter.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.combineDuration, err = m.meter.Float64Histogram(
		"surge.mentions.combine_duration_seconds",
		metric.WithDescription("Duration of one hybrid combine pass, including both oracle calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create combine duration histogram", zap.Error(err))
	}

	m.oracleTokens, err = m.meter.Int64Counter(
		"surge.mentions.oracle_tokens_total",
		metric.WithDescription("Total oracle tokens consumed, labeled by direction (prompt, completion)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		m.logger.Warn("failed to create oracle tokens counter", zap.Error(err))
	}

	m.votingRuns, err = m.meter.Int64Counter(
		"surge.mentions.voting_runs_total",
		metric.WithDescription("Voting run outcomes, labeled by outcome (ok, failed)"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create voting runs counter", zap.Error(err))
	}
}

// RecordCombine records one combine pass.
func (m *Metrics) RecordCombine(ctx context.Context, duration time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if m.combineDuration != nil {
		m.combineDuration.Record(ctx, duration.Seconds())
	}
	if m.oracleTokens != nil {
		m.oracleTokens.Add(ctx, int64(promptTokens),
			metric.WithAttributes(attribute.String("direction", "prompt")))
		m.oracleTokens.Add(ctx, int64(completionTokens),
			metric.WithAttributes(attribute.String("direction", "completion")))
	}
}

// RecordRun records one voting run outcome.
func (m *Metrics) RecordRun(ctx context.Context, failed bool) {
	if m == nil || m.votingRuns == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.votingRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
