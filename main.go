package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/api"
	"regimeforge-bot/internal/auth"
	"regimeforge-bot/internal/automation"
	"regimeforge-bot/internal/cache"
	"regimeforge-bot/internal/coingecko"
	"regimeforge-bot/internal/database"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/notification"
	"regimeforge-bot/internal/regime"
	"regimeforge-bot/internal/scheduler"
	sig "regimeforge-bot/internal/signal"
	"regimeforge-bot/internal/takeprofit"
	"regimeforge-bot/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Settings persistence: Redis when reachable, memory otherwise
	var redis *cache.CacheService
	if cfg.RedisConfig.Enabled {
		redis, err = cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, settings will not survive restarts")
		}
	}
	defer redis.Close()
	settingsStore := cache.NewSettingsStore(redis, logger)

	// Decision journal: Postgres when enabled, memory otherwise
	var (
		journal       automation.Journal
		journalReader api.JournalReader
		health        = map[string]api.HealthChecker{}
	)
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		repo := database.NewRepository(db)
		repo.SubscribeSignalLog(eventBus, logger)
		journal, journalReader = repo, repo
		health["database"] = repo
	} else {
		mem := database.NewMemoryJournal(1000)
		journal, journalReader = mem, mem
	}
	if redis != nil {
		health["redis"] = api.HealthFunc(redis.Ping)
	}

	// Exchange credentials: Vault first, then environment
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("Failed to create vault client", "error", err)
	}
	if vaultClient.Enabled() {
		health["vault"] = vaultClient
	}
	creds, source := vault.ResolveCredentials(ctx, vaultClient, cfg.ExchangeConfig)
	logger.Info("Exchange credentials resolved", "source", source, "complete", creds.Valid())

	weex := exchange.NewWeexClient(exchange.WeexConfig{
		BaseURL:     cfg.ExchangeConfig.BaseURL,
		Granularity: cfg.ExchangeConfig.KlineGranularity,
		Timeout:     cfg.ExchangeConfig.Timeout,
		RateLimit:   10,
	}, creds, logger)

	var (
		execution exchange.Execution = weex
		balance   api.BalanceReader
		aiLog     automation.AILogUploader
	)
	if cfg.ExchangeConfig.DryRun {
		paper := exchange.NewPaperClient(cfg.ExchangeConfig.PaperBalance, weex.GetTickerPrice)
		execution, balance = paper, paper
		logger.Info("Dry-run mode: orders go to the paper client", "balance", cfg.ExchangeConfig.PaperBalance)
	} else {
		if !creds.Valid() {
			logger.Fatal("Live trading requires exchange credentials")
		}
		balance, aiLog = weex, weex
	}

	// Market context
	gecko := coingecko.NewClient(coingecko.Config{
		BaseURL:           cfg.CoinGeckoConfig.BaseURL,
		APIKey:            cfg.CoinGeckoConfig.APIKey,
		RequestsPerMinute: cfg.CoinGeckoConfig.RequestsPerMinute,
		Timeout:           cfg.CoinGeckoConfig.Timeout,
	}, logger)
	ctxCfg := globalctx.DefaultConfig()
	ctxCfg.GlobalTTL = cfg.CoinGeckoConfig.GlobalTTL
	ctxCfg.CoinsTTL = cfg.CoinGeckoConfig.CoinsTTL
	ctxCfg.TrendingTTL = cfg.CoinGeckoConfig.TrendingTTL
	ctxCfg.MinFetchInterval = cfg.CoinGeckoConfig.MinFetchInterval
	contexts := globalctx.NewCache(gecko, ctxCfg, logger)

	// Signal pipeline
	store := market.NewStore(cfg.IndicatorConfig.WindowCapacity)
	calc := market.NewCalculator(market.CalculatorConfig{
		RSIPeriod:     cfg.IndicatorConfig.RSIPeriod,
		FastEMA:       cfg.IndicatorConfig.FastEMA,
		SlowEMA:       cfg.IndicatorConfig.SlowEMA,
		TrendScalePct: cfg.IndicatorConfig.TrendScalePct,
		CandlesPer24h: cfg.IndicatorConfig.CandlesPer24h,
	})
	classifier := regime.NewClassifier(regime.Thresholds(cfg.RegimeConfig))
	scorer := sig.NewScorer(sig.Weights(cfg.ScoringConfig))
	signals := sig.NewEngine(store, calc, classifier, contexts, scorer, eventBus, logger)

	// Take-profit and automation
	tp := takeprofit.NewEngine(takeprofit.DefaultSettings(cfg.TakeProfitConfig), settingsStore, eventBus, logger)
	coins := automation.NewCoinSelector(cfg.ExchangeConfig.DefaultCoin, eventBus)
	controller := automation.NewController(automation.SettingsFromConfig(cfg.AutomationConfig), automation.Deps{
		Signals:    signals,
		Market:     weex,
		Execution:  execution,
		TakeProfit: tp,
		Coins:      coins,
		Journal:    journal,
		AILog:      aiLog,
		Store:      settingsStore,
		Bus:        eventBus,
		Logger:     logger,
	})
	if err := controller.LoadSettings(ctx); err != nil {
		logger.WithError(err).Warn("Using configured automation settings")
	}

	// Notifications
	if cfg.NotificationConfig.Enabled {
		notifyManager := notification.NewManager(logger)
		telegram, err := notification.NewTelegramNotifier(cfg.NotificationConfig.Telegram)
		if err != nil {
			logger.WithError(err).Warn("Telegram notifications disabled")
		} else if telegram.IsEnabled() {
			notifyManager.AddNotifier(telegram)
			logger.Info("Telegram notifications enabled")
		}
		notifyManager.Subscribe(eventBus)
	}

	// Scheduler
	sched := scheduler.New(cfg.SchedulerConfig, cfg.ExchangeConfig.KlineLimit, weex, store, contexts, controller, eventBus, logger)
	eventBus.Subscribe(events.EventCoinChanged, func(e events.Event) {
		coin, _ := e.Data["coin"].(string)
		refreshCtx, done := context.WithTimeout(ctx, 30*time.Second)
		defer done()
		if err := sched.RefreshMarket(refreshCtx, coin); err != nil {
			logger.WithError(err).Warn("Refresh after coin change failed", "coin", coin)
		}
	})
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", "error", err)
	}

	// HTTP API
	authService, err := auth.NewService(cfg.AuthConfig, logger)
	if err != nil {
		logger.Fatal("Failed to initialize auth", "error", err)
	}
	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Signals:    signals,
		Contexts:   contexts,
		Market:     weex,
		Automation: controller,
		TakeProfit: tp,
		Execution:  execution,
		Journal:    journalReader,
		Balance:    balance,
		Auth:       authService,
		Bus:        eventBus,
		Health:     health,
		Logger:     logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	logger.Info("RegimeForge started",
		"coin", coins.Get(),
		"dry_run", cfg.ExchangeConfig.DryRun,
		"automation", controller.GetSettings().Enabled,
		"settings_backend", settingsStore.Backend())

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	sched.Stop()
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Shutdown complete")
}
