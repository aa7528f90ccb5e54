package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	jobsStarted         metric.Int64Counter
	jobsFinished        metric.Int64Counter
	generationUnits     metric.Int64Counter
	creditTransactions  metric.Int64Counter
	projectionPublishes metric.Int64Counter
	webhookEvents       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "glide"
	}
	meter := provider.Meter(name)

	jobsStarted, err := meter.Int64Counter("glide_generation_jobs_started_total")
	if err != nil {
		return nil, err
	}
	jobsFinished, err := meter.Int64Counter("glide_generation_jobs_finished_total")
	if err != nil {
		return nil, err
	}
	generationUnits, err := meter.Int64Counter("glide_generation_units_total")
	if err != nil {
		return nil, err
	}
	creditTransactions, err := meter.Int64Counter("glide_credit_transactions_total")
	if err != nil {
		return nil, err
	}
	projectionPublishes, err := meter.Int64Counter("glide_projection_publishes_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("glide_webhook_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		jobsStarted:         jobsStarted,
		jobsFinished:        jobsFinished,
		generationUnits:     generationUnits,
		creditTransactions:  creditTransactions,
		projectionPublishes: projectionPublishes,
		webhookEvents:       webhookEvents,
	}, nil
}

// RecordJobStarted increments started job counts per job kind.
func (m *Metrics) RecordJobStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
	))
}

// RecordJobFinished increments finished job counts per kind and outcome.
func (m *Metrics) RecordJobFinished(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordGenerationUnit increments per-screen generation attempts by result.
func (m *Metrics) RecordGenerationUnit(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.generationUnits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", strings.TrimSpace(result)),
	))
}

// RecordCreditTransaction increments credit ledger writes per reason tag.
func (m *Metrics) RecordCreditTransaction(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.creditTransactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

// RecordProjectionPublish increments projection upserts per projection type.
func (m *Metrics) RecordProjectionPublish(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.projectionPublishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", strings.TrimSpace(projection)),
	))
}

// RecordWebhookEvent increments billing webhook deliveries per event type.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
