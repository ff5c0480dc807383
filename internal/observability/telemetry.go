// Package observability настраивает трассировку OpenTelemetry для fogd.
package observability

import (
	"context"
	"time"

	"github.com/annel0/fog-engine/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName задаёт имя трейсера циклов тумана
const TracerName = "github.com/annel0/fog-engine/fog"

// Shutdown сбрасывает буферы экспортера
type Shutdown func(context.Context) error

// InitTelemetry настраивает OTLP HTTP экспортер (по умолчанию localhost:4318,
// переопределяется стандартными OTEL_EXPORTER_OTLP_* переменными) и
// устанавливает глобальный TracerProvider.
func InitTelemetry(ctx context.Context, serviceName string) (Shutdown, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	return install(ctx, serviceName, sdktrace.WithBatcher(exp))
}

// InitWithExporter делает то же с произвольным экспортером (тесты, stdout)
func InitWithExporter(ctx context.Context, serviceName string, exp sdktrace.SpanExporter) (Shutdown, error) {
	return install(ctx, serviceName, sdktrace.WithSyncer(exp))
}

func install(ctx context.Context, serviceName string, opt sdktrace.TracerProviderOption) (Shutdown, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(opt, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (service=%s)", serviceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// CycleTracer оборачивает цикл тумана в span
type CycleTracer struct {
	tracer trace.Tracer
}

// NewCycleTracer берёт трейсер из глобального провайдера
func NewCycleTracer() *CycleTracer {
	return &CycleTracer{tracer: otel.Tracer(TracerName)}
}

// Trace выполняет fn внутри span "fog.cycle"; ошибка fn записывается в span
func (ct *CycleTracer) Trace(ctx context.Context, cycle uint64, fn func(ctx context.Context) error) error {
	ctx, span := ct.tracer.Start(ctx, "fog.cycle", trace.WithAttributes(attribute.Int64("fog.cycle", int64(cycle))))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
