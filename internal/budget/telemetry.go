package budget

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/harness/internal/budget"

// Metrics provides OpenTelemetry instruments for the governor.
type Metrics struct {
	tokensCharged metric.Int64Counter
	events        metric.Int64Counter
	utilization   metric.Float64Histogram
}

// NewMetrics creates the instruments. If meter is nil, the global meter
// provider is used.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.tokensCharged, err = meter.Int64Counter(
		"harness.budget.tokens.charged",
		metric.WithDescription("Estimated tokens charged against session budgets"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	m.events, err = meter.Int64Counter(
		"harness.budget.events.total",
		metric.WithDescription("Budget threshold crossings by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.utilization, err = meter.Float64Histogram(
		"harness.budget.utilization.ratio",
		metric.WithDescription("Budget utilization after each charge"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 0.7, 0.8, 0.9, 1.0, 1.25),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordCharge(ctx context.Context, tokens int, class ContentClass, ratio float64) {
	if m == nil {
		return
	}
	m.tokensCharged.Add(ctx, int64(tokens), metric.WithAttributes(attribute.String("class", string(class))))
	m.utilization.Record(ctx, ratio)
}

func (m *Metrics) recordEvent(ctx context.Context, kind EventKind) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
