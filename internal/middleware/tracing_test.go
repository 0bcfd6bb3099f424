package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddleware_TagsAttachmentRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := recordSpans(t)

	r := gin.New()
	r.Use(RequestIDMiddleware(), TracingMiddleware("felanmalan"))
	r.GET("/api/errands/:errandId/attachments/:attachmentId", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/errands/e-1/attachments/a-2", nil)
	req.Header.Set("X-Request-Id", "rid-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	s := spans[0]
	if want := "felanmalan.http GET /api/errands/:errandId/attachments/:attachmentId"; s.Name() != want {
		t.Fatalf("span name = %q, want %q", s.Name(), want)
	}
	attrs := spanAttrs(s)
	for key, want := range map[attribute.Key]string{
		"felanmalan.errand.id":     "e-1",
		"felanmalan.attachment.id": "a-2",
		"felanmalan.request_id":    "rid-7",
	} {
		if got := attrs[key].AsString(); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if got := attrs["http.status_code"].AsInt64(); got != http.StatusBadGateway {
		t.Errorf("http.status_code = %d", got)
	}
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status on 502")
	}
	if got := rec.Header().Get("X-Trace-Id"); got != s.SpanContext().TraceID().String() {
		t.Errorf("X-Trace-Id = %q, want %q", got, s.SpanContext().TraceID().String())
	}
}

func TestTracingMiddleware_ContinuesInboundTraceAndSkipsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := recordSpans(t)
	prop := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prop) })

	r := gin.New()
	r.Use(RequestIDMiddleware(), TracingMiddleware(""))
	r.GET("/api/errands", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/errands", nil)
	req.Header.Set("traceparent", "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected only the API span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("trace id = %s, inbound trace not continued", got)
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected error status on 200")
	}
}
