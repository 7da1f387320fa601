package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/emotiscan/adapters/capture"
	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/api"
	"github.com/satriahrh/emotiscan/internal/auth"
	"github.com/satriahrh/emotiscan/internal/config"
	"github.com/satriahrh/emotiscan/internal/health"
	"github.com/satriahrh/emotiscan/internal/metrics"
	"github.com/satriahrh/emotiscan/internal/taxonomy"
	"github.com/satriahrh/emotiscan/internal/websocket"
	"github.com/satriahrh/emotiscan/usecase"
)

const shutdownTimeout = 10 * time.Second

// ServeAction runs the detection service, the websocket hub and the HTTP server until interrupted.
func ServeAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := newClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	source, err := newCaptureSource(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := source.(repositories.ClosableCaptureSource); ok {
		defer closer.Close()
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	m := metrics.New()
	service, err := usecase.NewDetectionService(usecase.DetectionConfig{
		Classifier:      classifier,
		Source:          source,
		Catalog:         catalog,
		CaptureInterval: cfg.CaptureInterval,
		PredictTimeout:  cfg.PredictTimeout,
		HealthTimeout:   cfg.HealthTimeout,
		Clock:           clock.New(),
		Metrics:         m,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "create detection service")
	}

	var issuer *auth.Issuer
	if cfg.AuthEnabled() {
		issuer, err = auth.NewIssuer(cfg.AuthSecret, cfg.AuthAPIKey, cfg.AuthTokenTTL)
		if err != nil {
			return errors.Wrap(err, "create token issuer")
		}
	}

	hub := websocket.NewHub(service, m, logger)
	lister, _ := classifier.(repositories.ModelLister)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.CORSOrigins}))

	api.InitRoutes(e, api.Dependencies{
		Service:        service,
		Hub:            hub,
		Models:         lister,
		Issuer:         issuer,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if cfg.HealthRecheckInterval > 0 {
		watcher := health.NewWatcher(service.Monitor(), cfg.HealthRecheckInterval, clock.New(), logger)
		watcher.Start(gctx)
		defer watcher.Stop()
	}
	g.Go(func() error {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("backend", cfg.ClassifierBackend),
		zap.String("captureSource", cfg.CaptureSource),
		zap.Bool("auth", cfg.AuthEnabled()))

	// Wait for interrupt signal or a failing component
	<-gctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	service.Stop()

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

// DetectAction classifies the image given as the first argument.
func DetectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("detect expects exactly one image path")
	}
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	model := catalog.Default()
	if requested := c.String(flagModel); requested != "" {
		model = entities.ModelID(requested)
	}
	if !catalog.Contains(model) {
		return entities.NewDetectionError(entities.ErrorKindInvalidModel, "unknown model "+string(model), nil)
	}

	classifier, err := newClassifier(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	frame, err := capture.NewFileSource(c.Args().First(), logger).AcquireFrame(c.Context)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.PredictTimeout)
	defer cancel()
	raw, err := classifier.Predict(ctx, frame, model)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\tEMOTION\tCONFIDENCE\t\n")
	for _, score := range taxonomy.Normalize(raw) {
		fmt.Fprintf(w, "%d\t%s %s\t%.1f%%\t\n", score.Rank, score.Emotion.Emoji(), score.Emotion, score.Confidence*100)
	}
	return w.Flush()
}

// ModelsAction prints the configured catalog, annotated by the classifier when it can describe its models.
func ModelsAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	classifier, err := newClassifier(c.Context, cfg, logger)
	if err != nil {
		return err
	}

	loaded := map[entities.ModelID]bool{}
	if lister, ok := classifier.(repositories.ModelLister); ok {
		ctx, cancel := context.WithTimeout(c.Context, cfg.HealthTimeout)
		infos, err := lister.Models(ctx)
		cancel()
		if err != nil {
			logger.Warn("Failed to list classifier models", zap.Error(err))
		}
		for _, info := range infos {
			loaded[info.ID] = info.Loaded
		}
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "MODEL\tLOADED\tDEFAULT\t\n")
	for _, id := range catalog.Models() {
		fmt.Fprintf(w, "%s\t%t\t%t\t\n", id, loaded[id], id == catalog.Default())
	}
	return w.Flush()
}

// loadConfig reads the environment and applies command line overrides
func loadConfig(c *cli.Context) (*config.Config, *zap.Logger, error) {
	override := func(flag string, field *string) {
		if v := c.String(flag); v != "" {
			*field = v
		}
	}

	cfg, err := config.Load(func(cfg *config.Config) {
		override(flagBackend, &cfg.ClassifierBackend)
		override(flagLogLevel, &cfg.LogLevel)
		override(flagPort, &cfg.Port)
		override(flagCaptureSource, &cfg.CaptureSource)
		override(flagCapturePath, &cfg.CapturePath)
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
