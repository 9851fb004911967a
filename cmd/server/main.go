package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelfscan/backend/config"
	httpDelivery "github.com/shelfscan/backend/internal/delivery/http"
	"github.com/shelfscan/backend/internal/domain"
	"github.com/shelfscan/backend/internal/infrastructure/cache"
	"github.com/shelfscan/backend/internal/infrastructure/discovery"
	"github.com/shelfscan/backend/internal/infrastructure/persistence"
	"github.com/shelfscan/backend/internal/infrastructure/resilience"
	"github.com/shelfscan/backend/internal/infrastructure/sink"
	"github.com/shelfscan/backend/internal/infrastructure/vision"
	"github.com/shelfscan/backend/internal/progress"
	"github.com/shelfscan/backend/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := buildLogger(cfg.Server.Environment)
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting shelfscan backend",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("cache_type", cfg.Cache.Type),
	)

	docs, err := buildDocumentCache(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize document cache", zap.Error(err))
	}

	repo, err := persistence.Open(cfg.Store.DSN, logger)
	if err != nil {
		logger.Fatal("failed to open product store", zap.Error(err))
	}

	visionClient := vision.NewClient(vision.Config{
		BaseURL:           cfg.Vision.BaseURL,
		APIKey:            cfg.Vision.APIKey,
		RequestTimeout:    cfg.Vision.RequestTimeout,
		RequestsPerSecond: cfg.Vision.RequestsPerSecond,
	}, logger)

	discoveryClient := discovery.NewClient(discovery.Config{
		BaseURL:        cfg.Discovery.BaseURL,
		APIKey:         cfg.Discovery.APIKey,
		RequestTimeout: cfg.Discovery.RequestTimeout,
	}, logger)

	eventSink := sink.NewZapSink(logger)

	// Repository writes: first attempt plus three retries at 100/200/400ms.
	repoExec := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	// AI calls: three attempts total, breaker guarding the model endpoint.
	aiCfg := resilience.DefaultConfig()
	aiCfg.MaxAttempts = 3
	aiCfg.BreakerEnabled = true
	aiExec := resilience.NewExecutor(aiCfg, logger)

	identityCache := usecase.NewIdentityCache(docs, logger)
	dimensionCache := usecase.NewDimensionCache(docs, logger)
	committer := usecase.NewCommitter(repo, identityCache, repoExec, eventSink, logger)

	tiers := []usecase.TierStrategy{
		usecase.NewBarcodeTier(identityCache, repo),
		usecase.NewVisualTextTier(visionClient, repo),
		usecase.NewDiscoveryTier(discoveryClient, repo, committer),
		usecase.NewFullAnalysisTier(visionClient),
	}

	progressManager := progress.NewManager(progress.Config{
		CoalesceInterval: cfg.Progress.CoalesceInterval,
		IdleTTL:          cfg.Progress.IdleTTL,
		MaxSessionAge:    cfg.Progress.MaxSessionAge,
		MaxSessions:      cfg.Progress.MaxSessions,
	}, logger)

	orchestrator := usecase.NewOrchestrator(
		tiers,
		identityCache,
		committer,
		progressManager,
		eventSink,
		usecase.OrchestratorConfig{ConfidenceThreshold: cfg.Resolver.ConfidenceThreshold},
		logger,
	)

	analyzer := usecase.NewDimensionAnalyzer(
		dimensionCache,
		visionClient,
		aiExec,
		usecase.AnalyzerConfig{Timeout: cfg.Analysis.Timeout},
		logger,
	)

	handler := httpDelivery.NewHandler(orchestrator, analyzer, identityCache, dimensionCache, progressManager, logger)
	router := httpDelivery.SetupRouter(cfg, handler, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return progressManager.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildDocumentCache(cfg *config.Config, logger *zap.Logger) (domain.DocumentCache, error) {
	switch cfg.Cache.Type {
	case "redis":
		return cache.NewRedisCache(
			cfg.Cache.RedisAddr,
			cfg.Cache.RedisPassword,
			cfg.Cache.RedisDB,
			cache.WithNamespace("shelfscan"),
			cache.WithRedisLogger(logger),
		)
	default:
		return cache.NewMemoryCache(), nil
	}
}
