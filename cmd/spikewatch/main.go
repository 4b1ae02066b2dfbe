package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/spikewatch/internal/config"
	"github.com/rewired-gh/spikewatch/internal/dedup"
	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/mexc"
	"github.com/rewired-gh/spikewatch/internal/observability"
	"github.com/rewired-gh/spikewatch/internal/scanner"
	"github.com/rewired-gh/spikewatch/internal/status"
	"github.com/rewired-gh/spikewatch/internal/storage"
	"github.com/rewired-gh/spikewatch/internal/storage/postgres"
	"github.com/rewired-gh/spikewatch/internal/telegram"
	"github.com/rewired-gh/spikewatch/internal/universe"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var configPath = pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")

func main() {
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	mexcClient := mexc.NewClient(
		cfg.MEXC.BaseURL,
		cfg.MEXC.Timeout,
		mexc.ClientConfig{
			APIKey:            cfg.MEXC.APIKey,
			SecretKey:         cfg.MEXC.SecretKey,
			RequestsPerSecond: cfg.MEXC.RequestsPerSecond,
			Burst:             cfg.MEXC.Burst,
			ActiveStates:      cfg.MEXC.ActiveStates,
		},
	)

	filter, err := universe.New(mexcClient, universe.Options{
		QuoteCoin:       cfg.MEXC.QuoteCoin,
		MaxVolume24h:    cfg.Universe.MaxVolume24h,
		MinVolume24h:    cfg.Universe.MinVolume24h,
		MaxPrice:        cfg.Universe.MaxPrice,
		ExcludePatterns: cfg.Universe.ExcludePatterns,
	})
	if err != nil {
		logger.Fatal("Failed to initialize universe filter: %v", err)
	}

	dd := dedup.New(cfg.Detector.DedupRetention)
	metrics := observability.NewMetrics()

	deps := scanner.Deps{
		Market:   mexcClient,
		Universe: filter,
		Dedup:    dd,
		Store:    store,
		Metrics:  metrics,
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.MEXC.QuoteCoin,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		deps.Notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	scan := scanner.New(scanner.Config{
		Window: cfg.Detector.Window,
		Predicate: scanner.Predicate{
			VLow:      cfg.Detector.VLow,
			VHigh:     cfg.Detector.VHigh,
			MinGrowth: cfg.Detector.MinGrowth,
		},
		MinPriceChangePct:   cfg.Detector.MinPriceChangePct,
		TickInterval:        cfg.Detector.TickInterval,
		FetchTimeout:        cfg.Detector.FetchTimeout,
		Concurrency:         cfg.Detector.Concurrency,
		MaxPerTick:          cfg.Detector.MaxPerTick,
		RefreshEveryTicks:   cfg.Universe.RefreshEveryTicks,
		NotifyAfterFailures: cfg.Detector.NotifyAfterFailures,
	}, deps)

	if err := scan.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore exclusion state: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return scan.Run(gctx) })
	g.Go(func() error { return dd.RunSweeper(gctx, cfg.Detector.SweepInterval) })

	if cfg.Status.Enabled {
		srv := status.New(cfg.Status.Addr, scan, metrics.Handler())
		g.Go(func() error { return srv.Run(gctx) })
	}

	if telegramClient != nil {
		g.Go(func() error { return telegramClient.ListenForCommands(gctx, scan) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error: %v", err)
		return
	}
	logger.Info("Service stopped")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "postgres" {
		logger.Info("Using PostgreSQL storage")
		pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}

	logger.Info("Using SQLite storage at %s", cfg.DBPath)
	db, err := storage.NewSQLite(cfg.DBPath, cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return db, nil
}
