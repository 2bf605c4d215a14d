// Package observability wires structured logging and OpenTelemetry metrics
// for the graph: RED-style counters and durations over appends, queries,
// and packet signing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewLogger builds the process logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Metrics carries the instrument set. A nil *Metrics is a valid no-op
// receiver so call sites never branch on telemetry being enabled.
type Metrics struct {
	appends       metric.Int64Counter
	queries       metric.Int64Counter
	packetsSigned metric.Int64Counter
	errors        metric.Int64Counter
	queryDuration metric.Float64Histogram
}

// Provider owns the meter provider lifecycle.
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// NewProvider installs an in-process meter provider and returns it with the
// graph's instrument set. The provider is created with no reader attached,
// so measurements are not exported.
func NewProvider(serviceName string) (*Provider, *Metrics, error) {
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	appends, err := meter.Int64Counter("dg.chain.appends",
		metric.WithDescription("Cells admitted by the commit gate"))
	if err != nil {
		return nil, nil, err
	}
	queries, err := meter.Int64Counter("dg.scholar.queries",
		metric.WithDescription("Fact queries resolved"))
	if err != nil {
		return nil, nil, err
	}
	signed, err := meter.Int64Counter("dg.engine.packets_signed",
		metric.WithDescription("Proof packets signed"))
	if err != nil {
		return nil, nil, err
	}
	errs, err := meter.Int64Counter("dg.errors",
		metric.WithDescription("Errors by kind"))
	if err != nil {
		return nil, nil, err
	}
	dur, err := meter.Float64Histogram("dg.scholar.query_duration_ms",
		metric.WithDescription("Query wall time in milliseconds"))
	if err != nil {
		return nil, nil, err
	}

	return &Provider{mp: mp}, &Metrics{
		appends:       appends,
		queries:       queries,
		packetsSigned: signed,
		errors:        errs,
		queryDuration: dur,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.mp == nil {
		return nil
	}
	return p.mp.Shutdown(ctx)
}

// RecordAppend counts one admitted cell.
func (m *Metrics) RecordAppend(ctx context.Context, cellType string) {
	if m == nil {
		return
	}
	m.appends.Add(ctx, 1, metric.WithAttributes(attribute.String("cell_type", cellType)))
}

// RecordQuery counts one resolved query with its duration.
func (m *Metrics) RecordQuery(ctx context.Context, namespace string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("namespace", namespace))
	m.queries.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, float64(took.Microseconds())/1000.0, attrs)
}

// RecordPacketSigned counts one signed packet.
func (m *Metrics) RecordPacketSigned(ctx context.Context) {
	if m == nil {
		return
	}
	m.packetsSigned.Add(ctx, 1)
}

// RecordError counts one error by stable kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
