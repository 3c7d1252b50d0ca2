package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/engine/runtime"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	turnCounter           metric.Int64Counter
	checkCounter          metric.Int64Counter
	redactionCounter      metric.Int64Counter
	rateLimitedCounter    metric.Int64Counter
	stageLatencyHistogram metric.Float64Histogram
)

// StageMetrics captures the fields recorded for one pipeline stage.
type StageMetrics struct {
	Stage    runtime.Stage
	Outcome  runtime.StageOutcome
	Duration time.Duration
}

// RecordStage emits the per-stage latency histogram. Safe to call before
// SetupProvider; the otel globals default to no-op instruments.
func RecordStage(ctx context.Context, metrics StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stage", string(metrics.Stage)),
		attribute.String("outcome", string(metrics.Outcome)),
	}

	stageLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))

	if metrics.Outcome == runtime.OutcomeRateLimited {
		rateLimitedCounter.Add(ctx, 1)
	}
}

// RecordTurn counts a finished turn by terminal state.
func RecordTurn(ctx context.Context, state runtime.State) {
	if err := ensureMetrics(); err != nil {
		return
	}
	turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}

// RecordCheck counts one guardrail category evaluation.
func RecordCheck(ctx context.Context, category string, stage runtime.Stage, matched bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	checkCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("stage", string(stage)),
		attribute.Bool("matched", matched),
	))
}

// RecordRedaction counts a message that had sensitive spans rewritten.
func RecordRedaction(ctx context.Context, stage runtime.Stage) {
	if err := ensureMetrics(); err != nil {
		return
	}
	redactionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("rampart.engine")

		turnCounter, metricsInitErr = meter.Int64Counter(
			"rampart.turns_total",
			metric.WithDescription("Finished turns partitioned by terminal state"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		checkCounter, metricsInitErr = meter.Int64Counter(
			"rampart.checks_total",
			metric.WithDescription("Guardrail category evaluations partitioned by match result"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		redactionCounter, metricsInitErr = meter.Int64Counter(
			"rampart.redactions_total",
			metric.WithDescription("Messages with sensitive spans rewritten before forwarding"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rateLimitedCounter, metricsInitErr = meter.Int64Counter(
			"rampart.rate_limited_total",
			metric.WithDescription("Turns refused by the per-session sliding window"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"rampart.stage.duration_ms",
			metric.WithDescription("Observed pipeline stage latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordRejection attaches a coarse-grained rejection event to the span
// without leaking message content.
func RecordRejection(span trace.Span, stage runtime.Stage, reason string, risk domain.RiskLevel) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("guardrail.stage", string(stage)),
		attribute.String("guardrail.risk_level", string(risk)),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("guardrail.reason", reason))
	}

	span.AddEvent("guardrail.rejection", trace.WithAttributes(attrs...))
}
