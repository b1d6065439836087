package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healstack/coord-engine/internal/api"
	"github.com/healstack/coord-engine/internal/audit"
	"github.com/healstack/coord-engine/internal/cache"
	"github.com/healstack/coord-engine/internal/config"
	"github.com/healstack/coord-engine/internal/engine"
	"github.com/healstack/coord-engine/internal/ensemble"
	"github.com/healstack/coord-engine/internal/metrics"
	"github.com/healstack/coord-engine/internal/policy"
	"github.com/healstack/coord-engine/internal/repo"
	"github.com/healstack/coord-engine/internal/services"
	"github.com/healstack/coord-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting coord-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-memory state", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	var auditor audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewLogger(audit.Config{
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		})
		if err != nil {
			logger.Error("failed to open audit log", slog.Any("error", err))
			os.Exit(1)
		}
		auditor = auditLogger
		defer auditLogger.Close()
	}

	archive, err := repo.OpenArchive(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open archive", slog.Any("error", err))
		os.Exit(1)
	}
	defer archive.Close()

	store := policy.NewStore(logger, policy.StoreConfig{
		BreakerFailureThreshold: cfg.Safety.BreakerThreshold,
		BreakerResetTimeout:     cfg.Safety.BreakerReset,
	})

	rules, err := policy.LoadRulePack(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}
	store.ReplaceRules(rules)
	logger.Info("rule pack loaded", slog.String("path", cfg.Rules.Path), slog.Int("rules", len(rules)))

	weights := ensemble.NewWeightTable(0)
	aggregator := ensemble.NewAggregator(logger, weights)

	snapshots := repo.NewSnapshotRepo(cacheProvider, cfg.Cache.SnapshotTTL)
	freshness := engine.NewFreshnessIndex()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snap, ok, err := snapshots.Load(ctx); err != nil {
		logger.Warn("snapshot restore failed", slog.Any("error", err))
	} else if ok {
		store.Import(snap.Policy)
		weights.Restore(snap.Weights)
		freshness.Import(snap.Freshness)
		logger.Info("runtime state restored", slog.Time("taken_at", snap.TakenAt))
	}

	var recommender engine.Recommender
	if cfg.Clients.Recommender.BaseURL != "" {
		recommender = repo.NewRecommenderClient(
			cfg.Clients.Recommender.BaseURL,
			cfg.Clients.Recommender.APIKey,
			cfg.Clients.Recommender.Timeout,
		)
	}
	executor := repo.NewExecutorClient(cfg.Clients.Executor.BaseURL, "", cfg.Clients.Executor.Timeout)

	var verifier engine.Verifier
	if cfg.Clients.Metrics.BaseURL != "" {
		verifier = repo.NewMetricsVerifier(
			cfg.Clients.Metrics.BaseURL,
			cfg.Clients.Metrics.Timeout,
			cfg.Clients.Metrics.SettleWindow,
			cfg.Clients.Metrics.RecoveryFactor,
		)
	}

	arbiter := engine.NewArbiter(logger, store, recommender, engine.ArbiterConfig{
		HighConfidence:   cfg.Arbiter.HighConfidence,
		LowConfidence:    cfg.Arbiter.LowConfidence,
		RecommendTimeout: cfg.Arbiter.RecommendTimeout,
	})
	gate := engine.NewGate(logger, store, freshness, archive)
	tracker := engine.NewTracker(logger, weights, store, verifier, archive)

	detectors := []ensemble.Detector{
		ensemble.NewStatisticalDetector(cfg.Ensemble.ZScoreThreshold),
	}
	pipeline := engine.NewPipeline(logger, aggregator, arbiter, gate, tracker,
		executor, archive, auditor, freshness, detectors, engine.PipelineConfig{
			Strategy: ensemble.Strategy{
				Kind:              ensemble.StrategyKind(cfg.Ensemble.Strategy),
				MajorityK:         cfg.Ensemble.MajorityK,
				WeightedThreshold: cfg.Ensemble.WeightedThreshold,
			},
			ExecuteTimeout: cfg.Safety.ExecTimeout,
		})

	service := services.NewCoordinationService(logger, pipeline, store, archive,
		executor, auditor, cfg.Safety.ExecTimeout)

	server, err := api.NewServer(cfg.Server, api.NewHandlers(logger, service))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Rules.Watch {
		watcher := policy.NewWatcher(logger, store, cfg.Rules.Path)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("rule pack watcher stopped", slog.Any("error", err))
			}
		}()
	}

	go service.StartProcessing(ctx, 5*time.Second)

	saveSnapshot := func(saveCtx context.Context) {
		err := snapshots.Save(saveCtx, repo.EngineSnapshot{
			Policy:    store.Export(),
			Weights:   weights.Snapshot(),
			Freshness: freshness.Export(),
		})
		if err != nil {
			logger.Warn("snapshot save failed", slog.Any("error", err))
		}
	}
	if cfg.Storage.SnapshotInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Storage.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					saveSnapshot(ctx)
				}
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	metrics.SetEngineStatus(true)
	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	metrics.SetEngineStatus(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	saveSnapshot(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("coord-engine stopped")
}
