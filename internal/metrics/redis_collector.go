package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// redisCollector reports Redis-held state at scrape time: the remaining life
// of the shared upstream token and how many clients the rate limiter tracks.
type redisCollector struct {
	rdb       *redis.Client
	logger    *slog.Logger
	tokenKey  string
	rlPattern string

	tokenTTLDesc  *prometheus.Desc
	rlClientsDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger, tokenKey, rlPattern string) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:       rdb,
		logger:    logger,
		tokenKey:  tokenKey,
		rlPattern: rlPattern,
		tokenTTLDesc: prometheus.NewDesc(
			namespace+"_upstream_token_ttl_seconds",
			"Remaining lifetime of the cached upstream access token (0 when absent).",
			nil,
			nil,
		),
		rlClientsDesc: prometheus.NewDesc(
			namespace+"_rate_limit_tracked_clients",
			"Number of clients with an active rate limit window.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokenTTLDesc
	ch <- c.rlClientsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ttl, err := c.rdb.PTTL(ctx, c.tokenKey).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}
	if ttl < 0 {
		ttl = 0
	}
	emitGauge(ch, c.tokenTTLDesc, ttl.Seconds())

	var (
		cursor  uint64
		tracked int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.rlPattern, 200).Result()
		if err != nil {
			c.logger.Warn("prometheus redis collector scan failed", "err", err)
			return
		}
		tracked += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	emitGauge(ch, c.rlClientsDesc, float64(tracked))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

// RegisterRedisCollector registers the collector with the default registry
// once per process.
func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger, tokenKey, rateLimitPattern string) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger, tokenKey, rateLimitPattern))
	})
}
