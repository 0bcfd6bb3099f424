package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

const traceIDHeader = "X-Trace-Id"

// Route parameters copied onto the request span.
var spanParams = map[string]attribute.Key{
	"errandId":     "felanmalan.errand.id",
	"attachmentId": "felanmalan.attachment.id",
}

// TracingMiddleware starts one server span per API request, continuing any
// inbound trace context. The span carries the request id and the errand and
// attachment ids of the route, and the trace id is echoed in X-Trace-Id so a
// citizen's error report can be matched to upstream calls. It must run after
// RequestIDMiddleware.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "felanmalan"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "felanmalan.http "+c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.path", c.Request.URL.Path),
				attribute.String("felanmalan.request_id", domain.RequestID(ctx)),
			),
		)
		defer span.End()
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Writer.Header().Set(traceIDHeader, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName("felanmalan.http " + c.Request.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		for _, p := range c.Params {
			if key, ok := spanParams[p.Key]; ok {
				span.SetAttributes(key.String(p.Value))
			}
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusBadRequest {
			if msg := c.Errors.ByType(gin.ErrorTypeAny).Last(); msg != nil {
				span.RecordError(msg.Err)
			}
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
