package ingest

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("tagwatch/ingest")
var meter = otel.Meter("tagwatch/ingest")

func mustCounter(name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		panic(err)
	}
	return counter
}

var (
	discoveredCounter = mustCounter("tagwatch.releases.discovered", "Releases seen for the first time.")
	deliveredCounter  = mustCounter("tagwatch.releases.delivered", "Releases accepted by the transport.")
	failedCounter     = mustCounter("tagwatch.releases.failed", "Delivery attempts rejected by the transport.")
)

func metricTag(tag string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tag", tag))
}
