// Package tracing wires the OTLP exporter and decides which trace headers
// cross the service boundary in each direction.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const defaultServiceName = "felanmalan"

// Resource attribute keys describing where errands are relayed.
const (
	AttrMunicipality   = attribute.Key("felanmalan.municipality_id")
	AttrNamespace      = attribute.Key("felanmalan.namespace")
	AttrSupportAPI     = attribute.Key("felanmalan.upstream.support_management")
	AttrAssistantAPI   = attribute.Key("felanmalan.upstream.assistant")
	AttrClassification = attribute.Key("felanmalan.classification.enabled")
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64

	MunicipalityID string
	Namespace      string
	SupportAPI     string
	// AssistantAPI is empty when classification is off.
	AssistantAPI string
}

// Setup installs the tracer provider and the inbound propagator. With tracing
// disabled, or when the exporter cannot be built, only the propagator is set
// and the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(inboundPropagator())
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint, insecure := exporterTarget(cfg)
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otel exporter init failed, errand spans are not exported", "endpoint", endpoint, "err", err)
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, ResourceAttributes(cfg)...))
	if err != nil {
		logger.Warn("otel resource merge failed, using default resource", "err", err)
		res = resource.Default()
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", endpoint, "sample_ratio", ratio, "support_api", cfg.SupportAPI)
	return tp.Shutdown, nil
}

// ResourceAttributes names the service and the upstream APIs it relays to.
func ResourceAttributes(cfg Config) []attribute.KeyValue {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	}
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		AttrClassification.Bool(cfg.AssistantAPI != ""),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for _, kv := range []attribute.KeyValue{
		AttrMunicipality.String(cfg.MunicipalityID),
		AttrNamespace.String(cfg.Namespace),
		AttrSupportAPI.String(cfg.SupportAPI),
		AttrAssistantAPI.String(cfg.AssistantAPI),
	} {
		if kv.Value.AsString() != "" {
			attrs = append(attrs, kv)
		}
	}
	return attrs
}

func exporterTarget(cfg Config) (string, bool) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	insecure := cfg.OTLPInsecure
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		insecure = parseBool(v)
	}
	return sanitizeEndpoint(endpoint), insecure
}

// Inbound requests may carry baggage for local spans.
func inboundPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Baggage never leaves the service toward the case-management or assistant APIs.
func upstreamPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// InjectHeaders writes traceparent and tracestate for the span in ctx into h.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	upstreamPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// The gRPC exporter wants host:port; OTEL_EXPORTER_OTLP_ENDPOINT is often a URL.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

func ParseSampleRatio(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
