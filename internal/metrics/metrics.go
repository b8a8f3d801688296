// Package metrics holds the OpenTelemetry instruments the engine and gateway
// record into. A Prometheus exporter bridge is installed by InitProvider so
// the standard /metrics endpoint keeps working.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/ambonmud/server"

// Metrics holds every instrument the server records. All instruments are
// safe for concurrent use.
type Metrics struct {
	TickDuration metric.Float64Histogram

	TickOverruns            metric.Int64Counter
	SchedulerDrops          metric.Int64Counter
	BackpressureDisconnects metric.Int64Counter
	SubsystemRecoveries     metric.Int64Counter
	HandoffTimeouts         metric.Int64Counter
	BusPublishFailures      metric.Int64Counter
	AuthRejections          metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
}

// InitProvider installs a MeterProvider backed by the Prometheus exporter as
// the global OTel provider. The returned shutdown flushes the reader.
func InitProvider(serviceName, version string) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// New creates the instrument set from a MeterProvider. Tests pass a private
// provider to avoid cross-test pollution.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	out := &Metrics{}
	var err error

	if out.TickDuration, err = m.Float64Histogram("ambonmud.tick.duration",
		metric.WithDescription("Wall time of one engine tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5),
	); err != nil {
		return nil, err
	}
	if out.TickOverruns, err = m.Int64Counter("ambonmud.tick.overruns",
		metric.WithDescription("Ticks that exceeded twice the tick interval."),
	); err != nil {
		return nil, err
	}
	if out.SchedulerDrops, err = m.Int64Counter("ambonmud.scheduler.drops",
		metric.WithDescription("Scheduler callbacks deferred past their due tick by the per-tick cap."),
	); err != nil {
		return nil, err
	}
	if out.BackpressureDisconnects, err = m.Int64Counter("ambonmud.session.backpressure_disconnects",
		metric.WithDescription("Sessions disconnected because their outbound queue overflowed."),
	); err != nil {
		return nil, err
	}
	if out.SubsystemRecoveries, err = m.Int64Counter("ambonmud.engine.subsystem_recoveries",
		metric.WithDescription("Panics recovered inside a tick subsystem, by subsystem."),
	); err != nil {
		return nil, err
	}
	if out.HandoffTimeouts, err = m.Int64Counter("ambonmud.shard.handoff_timeouts",
		metric.WithDescription("Cross-zone handoffs rolled back after missing the ack deadline."),
	); err != nil {
		return nil, err
	}
	if out.BusPublishFailures, err = m.Int64Counter("ambonmud.bus.publish_failures",
		metric.WithDescription("Bus publishes that failed and were dropped."),
	); err != nil {
		return nil, err
	}
	if out.AuthRejections, err = m.Int64Counter("ambonmud.login.rejections",
		metric.WithDescription("Connections rejected at the auth funnel, by reason."),
	); err != nil {
		return nil, err
	}
	if out.ActiveSessions, err = m.Int64UpDownCounter("ambonmud.sessions.active",
		metric.WithDescription("Live sessions on this process."),
	); err != nil {
		return nil, err
	}
	return out, nil
}

// Nop returns an instrument set backed by a provider that records nothing.
func Nop() *Metrics {
	m, err := New(sdkmetric.NewMeterProvider())
	if err != nil {
		panic("metrics: nop instrument creation failed: " + err.Error())
	}
	return m
}

func Reason(v string) attribute.KeyValue { return attribute.String("reason", v) }

func Subsystem(v string) attribute.KeyValue { return attribute.String("subsystem", v) }
