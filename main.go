package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/channel"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/engine"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/exchange/bybit"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/journal"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/metrics"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/refprice"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/statestore"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/symbols"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"symbol":      cfg.Exchange.Symbol,
		"testnet":     cfg.Exchange.Testnet,
		"dry_run":     cfg.Engine.DryRun,
	}).Info("starting rebalancer")

	if !cfg.Engine.DryRun {
		entry := log.WithComponent("main")
		if !config.IsProductionLike(config.AppEnvironment()) {
			entry = entry.WithEnv("APP_ENV")
		}
		entry.Warn("dry run disabled; live orders will be submitted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
		metrics.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}

	channels := channel.NewChannels(cfg.Channels.RecordBuffer)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)
	if cfg.Metrics.Enabled {
		metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)
	}

	journalWriter, err := journal.NewWriter(cfg, channels.Records)
	if err != nil {
		log.WithError(err).Error("failed to create journal writer")
		os.Exit(1)
	}

	client := bybit.NewClient(cfg.Exchange, cfg.Strategy.QtyStep)

	deps := engine.Deps{
		Market:   client,
		Account:  client,
		Orders:   client,
		Channels: channels,
	}

	var stream *bybit.TickerStream
	if cfg.Engine.PriceSource == "stream" {
		stream = bybit.NewTickerStream(cfg.Exchange)
		deps.Stream = stream
	}

	if cfg.RefPrice.Enabled {
		sources := make([]refprice.Source, 0, 2)
		if cfg.RefPrice.Binance.Enabled {
			bcfg := cfg.RefPrice.Binance
			if bcfg.Symbol == "" {
				bcfg.Symbol = symbols.ToBinanceFutures(cfg.Exchange.Symbol)
			}
			sources = append(sources, refprice.NewBinanceSource(bcfg, cfg.Exchange.Timeout))
		}
		if cfg.RefPrice.Kucoin.Enabled {
			kcfg := cfg.RefPrice.Kucoin
			if kcfg.Symbol == "" {
				kcfg.Symbol = symbols.ToKucoinFutures(cfg.Exchange.Symbol)
			}
			sources = append(sources, refprice.NewKucoinSource(kcfg, cfg.Exchange.Timeout))
		}
		deps.Guard = refprice.NewGuard(cfg.RefPrice.MaxDivergencePct, sources...)
	}

	if cfg.Engine.StateFile != "" {
		deps.Store = statestore.New(cfg.Engine.StateFile)
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		log.WithError(err).Error("failed to create engine")
		os.Exit(1)
	}

	if err := journalWriter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start journal writer")
		os.Exit(1)
	}

	if stream != nil {
		if err := stream.Start(ctx); err != nil {
			log.WithError(err).Warn("ticker stream failed to start; prices fall back to REST")
		}
	}

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping engine")
	eng.Stop()

	if stream != nil {
		log.Info("stopping ticker stream")
		stream.Stop()
	}

	log.Info("stopping journal writer")
	journalWriter.Stop()

	log.Info("rebalancer stopped")
}
