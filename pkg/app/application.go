package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/middleware"
	"github.com/osvaldoandrade/felanmalan/internal/providers"
	"github.com/osvaldoandrade/felanmalan/internal/ratelimit"
	"github.com/osvaldoandrade/felanmalan/internal/services"
	"github.com/osvaldoandrade/felanmalan/internal/tracing"
	"github.com/osvaldoandrade/felanmalan/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Errands         services.ErrandService
	Classifier      services.ClassifyService
	Logger          *slog.Logger
	Redis           *redis.Client
	RateLimiter     ratelimit.Limiter
	Tokens          providers.TokenProvider
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithTokenProvider replaces the OAuth client-credentials provider used for
// upstream calls.
func WithTokenProvider(tp providers.TokenProvider) ApplicationOption {
	return func(app *Application) error {
		app.Tokens = tp
		return nil
	}
}

// WithRedisClient replaces the Redis client built from config.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{Config: cfg, Logger: logger}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	app.RateLimiter = ratelimit.NewRollingWindowLimiter(app.Redis)

	timeout := time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
	if app.Tokens == nil {
		if cfg.ClientKey != "" && cfg.TokenURL != "" {
			app.Tokens = providers.NewOAuthTokenProvider(cfg.TokenURL, cfg.ClientKey, cfg.ClientSecret, app.Redis, timeout, logger)
		} else {
			logger.Warn("upstream client credentials not configured, calling upstream without a token")
			app.Tokens = providers.NewStaticTokenProvider("")
		}
	}

	metrics.RegisterRedisCollector(app.Redis, logger, providers.TokenCacheKey, "felanmalan:rl:errands:*")

	tc := tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		MunicipalityID: cfg.MunicipalityID,
		Namespace:      cfg.Namespace,
		SupportAPI:     cfg.SupportManagementAPI,
	}
	if cfg.ClassificationEnabled() {
		tc.AssistantAPI = cfg.AssistantAPI
	}
	shutdown, err := tracing.Setup(context.Background(), tc, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	supportAPI := providers.NewAPIClient(cfg.APIBaseURL, cfg.SupportManagementAPI, app.Tokens, cfg.SentBy, timeout, logger)

	var assistantAPI providers.APIClient
	if cfg.ClassificationEnabled() {
		assistantAPI = providers.NewAPIClient(cfg.APIBaseURL, cfg.AssistantAPI, app.Tokens, cfg.SentBy, timeout, logger)
	}
	app.Classifier = services.NewClassifyService(assistantAPI, cfg.AssistantID, cfg.AssistantAPIKey, logger)
	app.Errands = services.NewErrandService(supportAPI, app.Classifier, cfg.ErrandBasePath(), logger)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.CORSMiddleware(cfg.AllowedOrigins, cfg.IsDev()),
	)
	app.Engine = engine

	return app, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "felanmalan", "env", cfg.Env)
}
