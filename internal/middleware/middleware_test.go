package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		seen = domain.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	r.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("expected inbound id to be kept, got ctx=%q header=%q", seen, rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == "" || seen != rec.Header().Get("X-Request-Id") {
		t.Fatalf("expected generated id, got ctx=%q header=%q", seen, rec.Header().Get("X-Request-Id"))
	}
}

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware(logger))
	r.GET("/x", func(c *gin.Context) {
		if _, ok := c.Get("logger"); !ok {
			t.Error("logger missing from context")
		}
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"request_id=rid-1", "status=418", "path=/x"} {
		if !strings.Contains(out, want) {
			t.Fatalf("access log %q missing %q", out, want)
		}
	}
}
