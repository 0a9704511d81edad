package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upsnapshot/internal/config"
	"upsnapshot/internal/httpx"
	"upsnapshot/internal/log"
	"upsnapshot/internal/ratelimit"
	"upsnapshot/internal/refresh"
	"upsnapshot/internal/upapi"
)

const (
	setupRetryMin = 30 * time.Second
	setupRetryMax = 10 * time.Minute
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	logger := log.New(log.FromEnv())
	log.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.WithComponent(log.ComponentConfig).Error("config", log.FieldError, err)
		os.Exit(1)
	}
	cfgLog := logger.WithComponent(log.ComponentConfig)
	if err := cfg.Validate(); err != nil {
		cfgLog.Error("invalid configuration", log.FieldError, err)
		os.Exit(1)
	}
	cfgLog.Info("configuration loaded",
		"entry_id", cfg.EntryID,
		log.FieldInterval, cfg.RefreshInterval().String(),
		log.FieldPageSize, cfg.Up.PageSize,
	)

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		logger.Error("up client", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newAPI(cfg.EntryID, time.Duration(cfg.Server.RequestTimeoutSec)*time.Second, logger)
	go a.setup(ctx, fetcher, refresh.Options{
		Interval:     cfg.RefreshInterval(),
		PageSize:     cfg.Up.PageSize,
		FetchTimeout: cfg.FetchTimeout(),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(a.routes())))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.FetchTimeout() + 20*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", log.FieldError, err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if e := a.entry.Load(); e != nil {
		e.Close()
	}
}

// newFetcher builds the Up client with the configured throttling in front.
func newFetcher(cfg config.Config, logger *log.Logger) (upapi.Fetcher, error) {
	httpClient := httpx.New(cfg.FetchTimeout())
	client, err := upapi.NewClient(cfg.Up.Token,
		upapi.WithBaseURL(cfg.Up.BaseURL),
		upapi.WithHTTPClient(httpClient.Doer()),
		upapi.WithTimeout(cfg.FetchTimeout()),
		upapi.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(cfg.Up.MaxRequestsPerMinute, cfg.Up.Burst, time.Duration(cfg.Up.MinRequestIntervalSec)*time.Second)
	if limiter != nil {
		logger.WithComponent(log.ComponentRateLimit).Info("outbound throttling enabled",
			"max_requests_per_minute", cfg.Up.MaxRequestsPerMinute,
			"burst", cfg.Up.Burst,
			"min_interval_sec", cfg.Up.MinRequestIntervalSec,
		)
	}
	return ratelimit.Wrap(client, limiter), nil
}

// setup retries the first refresh with backoff until it succeeds or ctx ends.
func (a *api) setup(ctx context.Context, fetcher upapi.Fetcher, opts refresh.Options) {
	delay := setupRetryMin
	for {
		e, err := refresh.Setup(ctx, fetcher, opts)
		if err == nil {
			a.entry.Store(e)
			return
		}
		a.logger.Warn("entry not ready; will retry",
			log.FieldErrorKind, upapi.KindName(err),
			log.FieldError, err,
			"retry_in", delay.String(),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay *= 2
		if delay > setupRetryMax {
			delay = setupRetryMax
		}
	}
}
