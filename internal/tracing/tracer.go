package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry tracer
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// DirectoryTracer provides distributed tracing for LDAP directory operations
type DirectoryTracer struct {
	tracer trace.Tracer
}

// NewTracerProvider creates a new OpenTelemetry tracer provider
func NewTracerProvider(serviceName, serviceVersion, otlpEndpoint string) (*TracerProvider, error) {
	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(), // TODO: Add TLS configuration
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Create resource
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceNamespaceKey.String("ldap-admin"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()), // TODO: Configure sampling
	)

	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// NewDirectoryTracer creates a new directory tracer
func NewDirectoryTracer(serviceName string) *DirectoryTracer {
	tracer := otel.Tracer(serviceName)
	return &DirectoryTracer{tracer: tracer}
}

// StartSearchSpan starts a span for a directory search against one plugin
func (dt *DirectoryTracer) StartSearchSpan(ctx context.Context, plugin, baseDN, filter, scope string) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "directory_search",
		trace.WithAttributes(
			attribute.String("ldap.plugin", plugin),
			attribute.String("ldap.base_dn", baseDN),
			attribute.String("ldap.filter", filter),
			attribute.String("ldap.scope", scope),
			attribute.String("component", "directory-client"),
		),
	)
	return ctx, span
}

// StartBindSpan starts a span for an LDAP bind
func (dt *DirectoryTracer) StartBindSpan(ctx context.Context, plugin, bindDN string) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "directory_bind",
		trace.WithAttributes(
			attribute.String("ldap.plugin", plugin),
			attribute.String("ldap.bind_dn", bindDN),
			attribute.String("component", "directory-client"),
		),
	)
	return ctx, span
}

// StartLookupSpan starts a span for a single-entry lookup by DN
func (dt *DirectoryTracer) StartLookupSpan(ctx context.Context, plugin, dn string) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "directory_lookup",
		trace.WithAttributes(
			attribute.String("ldap.plugin", plugin),
			attribute.String("ldap.dn", dn),
			attribute.String("component", "directory-client"),
		),
	)
	return ctx, span
}

// StartAuthenticationSpan starts a span for an end-user authentication attempt
func (dt *DirectoryTracer) StartAuthenticationSpan(ctx context.Context, plugin, login string) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "directory_authenticate",
		trace.WithAttributes(
			attribute.String("ldap.plugin", plugin),
			attribute.String("ldap.login", login),
			attribute.String("component", "directory-client"),
		),
	)
	return ctx, span
}

// StartCacheOperationSpan starts a span for cache operations
func (dt *DirectoryTracer) StartCacheOperationSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "cache_operation",
		trace.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("cache.key", key),
			attribute.String("component", "cache"),
		),
	)
	return ctx, span
}

// RecordSearchMetrics records search performance metrics on a span
func (dt *DirectoryTracer) RecordSearchMetrics(span trace.Span, duration time.Duration, entryCount int64, success bool) {
	span.SetAttributes(
		attribute.Int64("ldap.duration_ms", duration.Milliseconds()),
		attribute.Int64("ldap.entry_count", entryCount),
		attribute.Bool("ldap.success", success),
	)

	if !success {
		span.SetStatus(codes.Error, "directory operation failed")
	}
}

// RecordError records an error on a span
func (dt *DirectoryTracer) RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.RecordError(err)
}

// Global tracer instance
var globalDirectoryTracer *DirectoryTracer

// InitGlobalTracer initializes the global directory tracer
func InitGlobalTracer(serviceName string) {
	globalDirectoryTracer = NewDirectoryTracer(serviceName)
}

// GetGlobalTracer returns the global directory tracer
func GetGlobalTracer() *DirectoryTracer {
	return globalDirectoryTracer
}
