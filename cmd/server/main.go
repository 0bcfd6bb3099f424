// Command server runs the fault-report backend: it relays errands and their
// images to the case-management API and serves open errands for the map.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/felanmalan/pkg/app"
	"github.com/osvaldoandrade/felanmalan/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfigOptional(os.Getenv("FELANMALAN_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)
	log := application.Logger

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("felanmalan backend listening",
			"addr", srv.Addr,
			"basePath", cfg.BasePath,
			"errandPath", cfg.ErrandBasePath(),
			"supportApi", cfg.SupportManagementAPI,
			"classification", cfg.ClassificationEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	// Detached submissions may still be uploading.
	grace := time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second + 10*time.Second
	log.Info("shutting down, draining in-flight submissions", "grace", grace.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown incomplete", "err", err)
	}
	if err := application.Redis.Close(); err != nil {
		log.Warn("redis close failed", "err", err)
	}
	if application.TracingShutdown != nil {
		if err := application.TracingShutdown(shutdownCtx); err != nil {
			log.Warn("trace flush failed", "err", err)
		}
	}
	log.Info("felanmalan backend stopped")
	return nil
}
