package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptolens/cache"
	"cryptolens/config"
	"cryptolens/evidence"
	"cryptolens/logger"
	"cryptolens/metrics"
	"cryptolens/provider"
	"cryptolens/provider/binance"
	"cryptolens/provider/binancews"
	"cryptolens/provider/coingecko"
	"cryptolens/provider/coinmarketcap"
	"cryptolens/resolver"
	"cryptolens/server"
	"cryptolens/tools"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Cryptolens.Name,
		"version": cfg.Cryptolens.Version,
	}).Info("starting cryptolens")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := provider.NewRegistry()
	var feed *binancews.Feed
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			log.WithComponent("main").WithField("provider", name).Info("provider disabled, skipping")
			continue
		}
		switch name {
		case coingecko.Name:
			registry.Register(coingecko.New(pc, log))
		case coinmarketcap.Name:
			registry.Register(coinmarketcap.New(pc, log))
		case binance.Name:
			registry.Register(binance.New(pc, log))
		case binancews.Name:
			feed = binancews.New(pc, log)
			registry.Register(feed)
		default:
			log.WithComponent("main").WithField("provider", name).Warn("unknown provider in configuration")
		}
	}

	if feed != nil {
		if err := feed.Start(ctx); err != nil {
			log.WithError(err).Warn("binance websocket feed failed to start")
			feed = nil
		}
	}

	health := provider.NewHealthRegistry(
		cfg.Health.FailureThreshold,
		cfg.Health.CooldownBase,
		cfg.Health.CooldownMax,
	)

	chains := make(map[string][]string, len(cfg.FieldGroups))
	verifyWith := make(map[string]string)
	for group, fg := range cfg.FieldGroups {
		chains[group] = fg.Providers
		if fg.VerifyWith != "" {
			verifyWith[group] = fg.VerifyWith
		}
	}
	selector := provider.NewChainSelector(health, provider.ChainsFromConfig(chains))

	m := metrics.New()
	store := cache.NewMemory(cfg.Cache.MaxEntries)

	coordinator := resolver.NewCoordinator(resolver.CoordinatorConfig{
		Cache:           store,
		Selector:        selector,
		Registry:        registry,
		Health:          health,
		Policy:          cfg,
		Metrics:         m,
		Log:             log,
		ProviderTimeout: cfg.Resolver.ProviderTimeout,
		StaleIfError:    cfg.Resolver.StaleIfError,
		AlwaysRecord:    cfg.Resolver.AlwaysRecordConflicts,
		Singleflight:    cfg.Resolver.Singleflight,
		VerifyWith:      verifyWith,
	})
	engine := resolver.NewEngine(coordinator, cfg.Resolver.MaxConcurrency, log)

	evidenceStore, err := evidence.NewStore(cfg.Evidence.S3, log)
	if err != nil {
		log.WithError(err).Error("failed to create evidence store")
		os.Exit(1)
	}
	if evidenceStore == nil {
		log.WithComponent("main").Info("evidence storage disabled")
	}

	publisher, err := metrics.NewCloudWatchPublisher(cfg.Metrics.CloudWatch, m, log)
	if err != nil {
		log.WithError(err).Error("failed to create cloudwatch publisher")
		os.Exit(1)
	}
	if publisher != nil {
		go publisher.Run(ctx)
	}

	srv := server.New(cfg.Server, cfg.Cryptolens, engine, tools.NewRegistry(), m, evidenceStore, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(ctx)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverStopped := false
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		serverStopped = true
		if err != nil {
			log.WithError(err).Error("http server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	if !serverStopped {
		select {
		case err := <-serverErr:
			if err != nil {
				log.WithError(err).Warn("http server shutdown error")
			}
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timeout exceeded")
		}
	}

	if feed != nil {
		log.Info("stopping binance websocket feed")
		feed.Stop()
	}

	log.Info("cryptolens stopped")
}
