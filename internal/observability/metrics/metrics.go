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
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
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
	accountsCreated      metric.Int64Counter
	transactionsPosted   metric.Int64Counter
	transactionsReversed metric.Int64Counter
	periodsGenerated     metric.Int64Counter
	integrityRecomputes  metric.Int64Counter
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

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "ledgercore"
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "ledgercore"
	}
	meter := provider.Meter(name)

	accountsCreated, err := meter.Int64Counter("ledgercore_accounts_created_total")
	if err != nil {
		return nil, err
	}
	transactionsPosted, err := meter.Int64Counter("ledgercore_transactions_posted_total")
	if err != nil {
		return nil, err
	}
	transactionsReversed, err := meter.Int64Counter("ledgercore_transactions_reversed_total")
	if err != nil {
		return nil, err
	}
	periodsGenerated, err := meter.Int64Counter("ledgercore_periods_generated_total")
	if err != nil {
		return nil, err
	}
	integrityRecomputes, err := meter.Int64Counter("ledgercore_integrity_recomputes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		accountsCreated:      accountsCreated,
		transactionsPosted:   transactionsPosted,
		transactionsReversed: transactionsReversed,
		periodsGenerated:     periodsGenerated,
		integrityRecomputes:  integrityRecomputes,
	}, nil
}

// RecordAccountCreated increments created account counts.
func (m *Metrics) RecordAccountCreated(ctx context.Context, classification string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("classification", strings.TrimSpace(classification))}
	m.accountsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransactionPosted increments posted transaction counts.
func (m *Metrics) RecordTransactionPosted(ctx context.Context, txnType string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("type", strings.TrimSpace(txnType))}
	m.transactionsPosted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransactionReversed increments reversal counts.
func (m *Metrics) RecordTransactionReversed(ctx context.Context, txnType string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("type", strings.TrimSpace(txnType))}
	m.transactionsReversed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPeriodsGenerated increments generated period counts.
func (m *Metrics) RecordPeriodsGenerated(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.periodsGenerated.Add(ctx, count)
}

// RecordIntegrityRecompute increments integrity recomputation counts.
func (m *Metrics) RecordIntegrityRecompute(ctx context.Context, node string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("node", strings.TrimSpace(node))}
	m.integrityRecomputes.Add(ctx, 1, metric.WithAttributes(attrs...))
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
