// Package main runs the prediction-market collector: venue streaming loops,
// periodic analytics jobs, and retention, all under one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/analytics"
	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/kalshi"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/polymarket"
	"github.com/officialn8/prediction-market-movers-sub000/internal/ingest"
	"github.com/officialn8/prediction-market-movers-sub000/internal/jobs"
	"github.com/officialn8/prediction-market-movers-sub000/internal/notify"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage/postgres"
)

const (
	maxMarketsPerVenue = 5000

	// Kalshi's universe is small enough that flush batching and
	// subscription refresh need no tuning knobs.
	kalshiBatchSize           = 100
	kalshiSubscriptionRefresh = 5 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags|log.LUTC)
	if err := run(*configPath, logger); err != nil {
		logger.Fatalf("collector: %v", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN, postgres.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.ApplyMigrations(ctx, pool); err != nil {
		return err
	}
	logger.Printf("schema up to date")

	markets := postgres.NewMarketStore(pool)
	snaps := postgres.NewSnapshotStore(pool)
	volumes := postgres.NewVolumeStore(pool)
	analyticsStore := postgres.NewAnalyticsStore(pool)
	arb := postgres.NewArbitrageStore(pool)
	stats := postgres.NewStatsStore(pool)
	candles := postgres.NewCandleStore(pool)
	retention := postgres.NewRetentionStore(pool)
	status := postgres.NewStatusStore(pool)

	metrics := observability.NewMetrics(nil, "")
	notifier, err := notify.NewTelegram(cfg.Telegram, logger)
	if err != nil {
		return err
	}
	if notifier.Enabled() {
		logger.Printf("telegram notifications enabled")
	}

	gate := ingest.Gate{MinInterval: cfg.Gate.MinInterval, ForceDeltaPP: cfg.Gate.ForceDeltaPP}
	detector := ingest.NewInstantDetector(ingest.InstantConfig{
		ThresholdPP:    cfg.Signals.InstantThresholdPP,
		MinQuality:     cfg.Signals.MinQuality,
		MinVolume:      cfg.Signals.MinVolume,
		Debounce:       cfg.Signals.Debounce,
		HoldZone:       cfg.Signals.HoldZoneEnabled,
		HoldZoneMovePP: cfg.Signals.HoldZoneMovePP,
	})

	scheduler := jobs.NewScheduler(metrics, logger)

	if cfg.Polymarket.Enabled {
		rest := polymarket.NewRESTClient(cfg.Polymarket.GammaURL, "", logger)
		wsCfg := polymarket.DefaultClientConfig()
		if cfg.Polymarket.WSSURL != "" {
			wsCfg.URL = cfg.Polymarket.WSSURL
		}
		if cfg.Polymarket.ChunkSize > 0 {
			wsCfg.ChunkSize = cfg.Polymarket.ChunkSize
		}
		if cfg.Polymarket.ChunkPace > 0 {
			wsCfg.ChunkPace = cfg.Polymarket.ChunkPace
		}
		if cfg.Polymarket.KeepaliveInterval > 0 {
			wsCfg.KeepaliveInterval = cfg.Polymarket.KeepaliveInterval
		}
		if cfg.Polymarket.WatchdogTimeout > 0 {
			wsCfg.WatchdogTimeout = cfg.Polymarket.WatchdogTimeout
		}
		runner := ingest.NewPolymarketRunner(ingest.PolymarketRunnerConfig{
			BatchSize:            cfg.Polymarket.BatchSize,
			BatchInterval:        cfg.Polymarket.BatchInterval,
			ReconnectDelay:       cfg.Polymarket.ReconnectDelay,
			MaxReconnectAttempts: cfg.Polymarket.MaxReconnects,
			SubscriptionRefresh:  cfg.Polymarket.SubscriptionRefresh,
			PollInterval:         cfg.Polymarket.PollInterval,
			MaxMarkets:           maxMarketsPerVenue,
		}, gate, detector, ingest.PolymarketDeps{
			Dial: func() ingest.PolymarketStream {
				return polymarket.NewClient(wsCfg, logger)
			},
			REST:     rest,
			Markets:  markets,
			Snaps:    snaps,
			Volumes:  volumes,
			Status:   status,
			Notifier: notifier,
			Metrics:  metrics,
			Logger:   logger,
		})
		scheduler.AddLoop("polymarket", runner.Run)
	}

	if cfg.Kalshi.Enabled {
		signer, err := buildKalshiSigner(cfg.Kalshi)
		if err != nil {
			return err
		}
		rest := kalshi.NewRESTClient(cfg.Kalshi.RESTURL, logger)
		wsCfg := kalshi.DefaultClientConfig()
		if cfg.Kalshi.WSSURL != "" {
			wsCfg.URL = cfg.Kalshi.WSSURL
		}
		if cfg.Kalshi.WatchdogTimeout > 0 {
			wsCfg.WatchdogTimeout = cfg.Kalshi.WatchdogTimeout
		}
		runner := ingest.NewKalshiRunner(ingest.KalshiRunnerConfig{
			BatchSize:            kalshiBatchSize,
			BatchInterval:        cfg.Kalshi.FlushInterval,
			ReconnectDelay:       cfg.Kalshi.ReconnectDelay,
			MaxReconnectAttempts: cfg.Kalshi.MaxFailures,
			SubscriptionRefresh:  kalshiSubscriptionRefresh,
			PollInterval:         cfg.Kalshi.PollInterval,
			MaxMarkets:           maxMarketsPerVenue,
		}, gate, detector, ingest.KalshiDeps{
			Dial: func() ingest.KalshiStream {
				c, err := kalshi.NewClient(wsCfg, signer, logger)
				if err != nil {
					// Signer was validated at startup; treat as unreachable.
					panic(err)
				}
				return c
			},
			REST:     rest,
			Markets:  markets,
			Snaps:    snaps,
			Volumes:  volumes,
			Status:   status,
			Notifier: notifier,
			Metrics:  metrics,
			Logger:   logger,
		})
		scheduler.AddLoop("kalshi", runner.Run)
	}

	scorer, err := buildScorer(cfg, logger)
	if err != nil {
		return err
	}
	scheduler.AddPeriodic(jobs.NewMoversJob(cfg.Movers, snaps, analyticsStore, stats, scorer, logger), cfg.Movers.Interval)
	scheduler.AddPeriodic(jobs.NewAlertsJob(cfg.Alerts, cfg.Signals, snaps, analyticsStore, volumes, notifier, metrics, logger), cfg.Alerts.Interval)
	scheduler.AddPeriodic(jobs.NewArbitrageJob(cfg.Arbitrage, arb, metrics, logger), cfg.Arbitrage.Interval)
	scheduler.AddPeriodic(jobs.NewSpikesJob(cfg.Spikes, volumes, snaps, analyticsStore, notifier, metrics, logger), cfg.Spikes.Interval)
	scheduler.AddPeriodic(jobs.NewStatsJob(cfg.Stats, stats, logger), cfg.Stats.Interval)
	scheduler.AddPeriodic(jobs.NewRollupJob(cfg.Rollups, candles, logger), cfg.Rollups.Interval)
	scheduler.AddPeriodic(jobs.NewRetentionJob(cfg.Retention, retention, status, metrics, logger), cfg.Retention.Interval)

	srv := metricsServer(cfg.Metrics.ListenAddr, logger)

	scheduler.Start(ctx)
	logger.Printf("collector started (polymarket=%v kalshi=%v metrics=%s)",
		cfg.Polymarket.Enabled, cfg.Kalshi.Enabled, cfg.Metrics.ListenAddr)

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown: %v", err)
	}
	scheduler.Wait()
	logger.Printf("stopped")
	return nil
}

func buildKalshiSigner(cfg config.KalshiConfig) (*kalshi.Signer, error) {
	switch {
	case cfg.PrivateKeyPEM != "":
		return kalshi.NewSigner(cfg.APIKey, cfg.PrivateKeyPEM)
	case cfg.PrivateKeyPath != "":
		return kalshi.NewSignerFromFile(cfg.APIKey, cfg.PrivateKeyPath)
	default:
		return nil, fmt.Errorf("kalshi enabled but no private key configured")
	}
}

// buildScorer loads the feature manifest from disk when configured, the
// built-in default otherwise. In strict mode an unreadable manifest aborts
// startup; otherwise the default manifest stands in.
func buildScorer(cfg config.Config, logger *log.Logger) (*analytics.ZScoreScorer, error) {
	manifest := analytics.DefaultMoverManifest()
	if cfg.Scoring.ManifestPath != "" {
		loaded, err := analytics.LoadFeatureManifest(cfg.Scoring.ManifestPath)
		switch {
		case err != nil && cfg.Scoring.Strict:
			return nil, fmt.Errorf("load feature manifest: %w", err)
		case err != nil:
			logger.Printf("feature manifest %s unreadable, using default: %v", cfg.Scoring.ManifestPath, err)
		default:
			manifest = loaded
		}
	}
	weights := analytics.DefaultZScoreWeights()
	return analytics.NewZScoreScorer(weights, cfg.Movers.MinZScore, cfg.Movers.UseLogOdds, manifest), nil
}

func metricsServer(addr string, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()
	return srv
}
