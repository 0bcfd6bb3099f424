package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/felanmalan/internal/providers"
	"github.com/osvaldoandrade/felanmalan/pkg/app"
	"github.com/osvaldoandrade/felanmalan/pkg/config"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

const benchErrandBase = "/supportmanagement/12.4/2281/FELANMALAN/errands"

// newUpstream answers create, upload and list without inspecting bodies.
func newUpstream(b *testing.B) *httptest.Server {
	b.Helper()
	var seq atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == benchErrandBase:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(domain.CreatedErrand{ID: "e-bench", ErrandNumber: "KC-" + strconv.FormatInt(seq.Add(1), 10)})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == benchErrandBase:
			page := domain.ErrandPage{TotalElements: 50}
			for i := 0; i < 50; i++ {
				page.Content = append(page.Content, domain.Errand{
					ID: "e", Status: domain.StatusNew, Created: "2024-05-01T08:00:00Z",
					Classification: &domain.Classification{Category: domain.ErrandCategory, Type: "LIGHTING"},
					Parameters:     []domain.Parameter{{Key: domain.ParamCoordinates, Values: []string{"62.39,17.30"}}},
				})
			}
			_ = json.NewEncoder(w).Encode(page)
		default:
			http.NotFound(w, r)
		}
	}))
	b.Cleanup(srv.Close)
	return srv
}

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = rdb.Close() })

	up := newUpstream(b)
	cfg := &config.Config{
		Env:                    "dev",
		LogLevel:               "error",
		LogFormat:              "json",
		BasePath:               "/api",
		APIBaseURL:             up.URL,
		MunicipalityID:         "2281",
		Namespace:              "FELANMALAN",
		SupportManagementAPI:   "supportmanagement/12.4",
		UpstreamTimeoutSeconds: 5,
		SentBy:                 "felanmalan-bench",
		RedisAddr:              mr.Addr(),

		// Benchmarks keep rate limiting disabled.
		RateLimit: config.RateLimitConfig{},
	}

	a, err := app.NewApplication(cfg, app.WithRedisClient(rdb), app.WithTokenProvider(providers.NewStaticTokenProvider("bench-token")))
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.TracingShutdown(context.Background()) })
	return a
}

func submitBody(b *testing.B, images int) ([]byte, string) {
	b.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("errand", `{"title":"Felanmälan – bench","description":"trasig lampa",`+
		`"parameters":[{"key":"coordinates","values":["617144,6921822"]},{"key":"coordinates_crs","values":["EPSG:3006"]}]}`)
	for i := 0; i < images; i++ {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="images"; filename="bench.jpg"`)
		h.Set("Content-Type", "image/jpeg")
		pw, err := w.CreatePart(h)
		if err != nil {
			b.Fatalf("multipart: %v", err)
		}
		_, _ = pw.Write(bytes.Repeat([]byte{0xff}, 64<<10))
	}
	if err := w.Close(); err != nil {
		b.Fatalf("multipart close: %v", err)
	}
	return buf.Bytes(), w.FormDataContentType()
}

func BenchmarkHTTP_CreateErrand(b *testing.B) {
	a := newBenchApp(b)
	body, contentType := submitBody(b, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/errands", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		a.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			b.Fatalf("create status %d body=%s", w.Code, w.Body.String())
		}
	}
}

func BenchmarkHTTP_ListErrands(b *testing.B) {
	a := newBenchApp(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/errands", nil)
		w := httptest.NewRecorder()
		a.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("list status %d body=%s", w.Code, w.Body.String())
		}
	}
}

func BenchmarkErrandService_Create(b *testing.B) {
	a := newBenchApp(b)
	ctx := context.Background()
	images := []domain.Upload{{FileName: "bench.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		draft := domain.ErrandDraft{
			Title: "Felanmälan – bench",
			Parameters: []domain.Parameter{
				{Key: domain.ParamCoordinates, Values: []string{"617144,6921822"}},
				{Key: domain.ParamCoordinatesCRS, Values: []string{domain.CRSProjected}},
			},
		}
		if _, err := a.Errands.Create(ctx, draft, images); err != nil {
			b.Fatalf("Create: %v", err)
		}
	}
}
