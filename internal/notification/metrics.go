package notification

import (
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/shaharia-lab/notifyd/internal/notification"

type dispatchMetrics struct {
	attempts     metric.Int64Counter
	results      metric.Int64Counter
	sendDuration metric.Float64Histogram
}

func newDispatchMetrics(mp metric.MeterProvider) (*dispatchMetrics, error) {
	meter := mp.Meter(instrumentationName)

	attempts, err := meter.Int64Counter("notifyd.dispatch.attempts",
		metric.WithDescription("Transport send attempts by outcome."),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	results, err := meter.Int64Counter("notifyd.dispatch.results",
		metric.WithDescription("Terminal dispatch results by status."),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}
	sendDuration, err := meter.Float64Histogram("notifyd.transport.send.duration",
		metric.WithDescription("Duration of a single transport send."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &dispatchMetrics{attempts: attempts, results: results, sendDuration: sendDuration}, nil
}
