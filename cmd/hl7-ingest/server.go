package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7ingest/internal/config"
	"github.com/ehr/hl7ingest/internal/ingest"
	"github.com/ehr/hl7ingest/internal/labreport"
	"github.com/ehr/hl7ingest/internal/platform/auth"
	"github.com/ehr/hl7ingest/internal/platform/blobstore"
	"github.com/ehr/hl7ingest/internal/platform/db"
	"github.com/ehr/hl7ingest/internal/platform/envelope"
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
	"github.com/ehr/hl7ingest/internal/platform/logsink"
	"github.com/ehr/hl7ingest/internal/platform/middleware"
	"github.com/ehr/hl7ingest/internal/platform/notify"
	"github.com/ehr/hl7ingest/internal/platform/telemetry"
)

// app holds the long-lived dependencies shared by serve and poll.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	sink      *logsink.Sink
	metrics   *telemetry.Metrics
	extractor *envelope.Extractor
	opts      []labreport.Option
	store     blobstore.Store
	ledger    db.Ledger
	pipeline  *ingest.Pipeline
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := logsink.ParseLevel(cfg.LogLevel)
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func parseOptions(cfg *config.Config) ([]labreport.Option, error) {
	d, ok := labreport.ParseDialect(cfg.Dialect)
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}
	return []labreport.Option{
		labreport.WithDialect(d),
		labreport.WithInlineDocuments(cfg.InlineDocuments),
		labreport.WithConcurrency(cfg.ParseConcurrency),
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobDriver {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case "", "memory":
		return blobstore.NewMemoryStore(cfg.S3Bucket), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
}

func newNotifier(cfg *config.Config) (*notify.Notifier, error) {
	if cfg.CallbackURL == "" {
		return nil, nil
	}
	return notify.New(cfg.CallbackURL,
		notify.WithSecret(cfg.CallbackSecret),
		notify.WithMaxRetries(cfg.CallbackMaxRetries),
	)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		sink:      logsink.FromLogger(cfg.LogStream, logger),
		extractor: envelope.New(cfg.EnvelopeElement, cfg.EnvelopeIDAttr),
		metrics: telemetry.New(telemetry.Config{
			ServiceVersion:    version,
			Environment:       cfg.Env,
			RuntimeCollectors: true,
		}),
	}

	var err error
	if a.opts, err = parseOptions(cfg); err != nil {
		return nil, err
	}
	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.ledger, err = db.Open(ctx, db.Options{
		Driver:      cfg.LedgerDriver,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		a.ledger.Close()
		return nil, err
	}

	a.pipeline, err = ingest.New(ingest.Config{
		Extractor:    a.extractor,
		Store:        a.store,
		Ledger:       a.ledger,
		Notifier:     notifier,
		Metrics:      a.metrics,
		Sink:         a.sink,
		ParseOptions: a.opts,
		PresignTTL:   cfg.PresignTTL,
		Concurrency:  cfg.ParseConcurrency,
	})
	if err != nil {
		a.ledger.Close()
		return nil, err
	}

	logger.Info().
		Str("blob_driver", cfg.BlobDriver).
		Str("bucket", a.store.Bucket()).
		Str("ledger", a.ledger.Driver()).
		Bool("callback", notifier != nil).
		Msg("ingest pipeline ready")
	return a, nil
}

func (a *app) Close() {
	if err := a.ledger.Close(); err != nil {
		a.logger.Error().Err(err).Msg("ledger close failed")
	}
}

// newEcho builds the HTTP surface: public /health and /metrics, and the
// authenticated /api/v1 group.
func (a *app) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.BodyLimit("1M", "16M"))

	if a.cfg.JWTSecret == "" && a.cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(a.cfg.JWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", db.HealthHandler(a.ledger))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1", auth.RequireScope(auth.ScopeParse))
	labreport.NewHandler(a.extractor, a.opts...).RegisterRoutes(apiV1)
	hl7v2.NewHandler().RegisterRoutes(apiV1)
	return e
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	e := a.newEcho()

	// HL7v2 MLLP TCP listener (optional, started when MLLP_ADDR is set)
	if cfg.MLLPAddr != "" {
		mllpServer := hl7v2.NewMLLPServer(cfg.MLLPAddr, a.pipeline.HandleMLLP, hl7v2.WithMLLPLogger(logger))
		if err := mllpServer.Start(); err != nil {
			return err
		}
		defer mllpServer.Stop()
	}

	// Inbox poller (optional, started when INBOX_DIR is set)
	if cfg.InboxDir != "" {
		src, err := ingest.NewDirSource(cfg.InboxDir, cfg.ProcessedDir)
		if err != nil {
			return err
		}
		sched, err := ingest.NewScheduler(cfg.PollSchedule, a.pipeline, src, a.sink)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
