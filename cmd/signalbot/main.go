package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"signalbot/config"
	"signalbot/internal/api"
	"signalbot/internal/broker"
	"signalbot/internal/execution"
	"signalbot/internal/logger"
	"signalbot/internal/marketdata/agg"
	"signalbot/internal/markethours"
	"signalbot/internal/metrics"
	"signalbot/internal/model"
	"signalbot/internal/notify"
	"signalbot/internal/pipeline"
	"signalbot/internal/scheduler"
	redisstore "signalbot/internal/store/redis"
	sqlitestore "signalbot/internal/store/sqlite"
	"signalbot/internal/universe"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("signalbot", slog.LevelInfo)
	log.Println("[signalbot] starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[signalbot] config: %v", err)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[signalbot] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Redis snapshot cache (optional) ----
	var cache *redisstore.Cache
	cache, err = redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		log.Printf("[signalbot] WARNING: redis init failed: %v (continuing without cache)", err)
		cache = nil
	} else {
		defer cache.Close()
		cache.OnWriteError = prom.RedisWriteErr.Inc
		health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)
	}
	if cache == nil {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Broker ----
	var (
		brk     broker.Broker
		session *broker.Session
		kite    *broker.KiteBroker
	)
	if cfg.Trading.PaperTrading {
		log.Println("[signalbot] *** PAPER TRADING — no real orders will be placed ***")
		brk = broker.NewPaperBroker(cfg.Trading.SlippageBps)
	} else {
		kite = broker.NewKiteBroker(broker.KiteConfig{
			APIKey:      cfg.Kite.APIKey,
			AccessToken: cfg.Kite.AccessToken,
		})
		session = broker.NewSession(kite, broker.SessionConfig{
			APISecret:    cfg.Kite.APISecret,
			TOTPSecret:   cfg.Kite.TOTPSecret,
			RefreshToken: cfg.Kite.RefreshToken,
		})
		brk = kite
	}

	// ---- Notification sink ----
	var sink notify.Notifier = &notify.LogNotifier{}
	if cfg.Telegram.Enabled {
		sink = notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	hub := api.NewHub()
	notifier := &api.EventNotifier{Inner: sink, Hub: hub}

	// ---- Universe ----
	refresher := universe.New(universe.Config{
		Exchange: cfg.Trading.Exchange,
		Sectors:  cfg.Sectors,
		Banned:   cfg.Banned,
	}, brk, store)
	if !cfg.Trading.PaperTrading {
		if err := refresher.Refresh(ctx); err != nil {
			log.Printf("[signalbot] WARNING: universe refresh failed: %v (using stored universe)", err)
		}
	}

	instruments, err := store.Instruments(ctx)
	if err != nil {
		log.Fatalf("[signalbot] load universe: %v", err)
	}
	log.Printf("[signalbot] universe: %d instruments", len(instruments))

	// ---- Aggregator & tick stream ----
	aggregator := agg.New()
	aggregator.OnCandleClose = func(tf model.Timeframe) {
		prom.CandlesTotal.WithLabelValues(tf.String()).Inc()
	}
	aggregator.OnDroppedTick = prom.DroppedTicks.Inc

	for _, token := range cfg.BenchmarkTokens {
		aggregator.Register(token, "")
	}
	for _, inst := range instruments {
		aggregator.Register(inst.Token, inst.TradingSymbol)
	}

	tickCh := make(chan model.Tick, 10000)
	snapCh := make(chan *model.MarketSnapshot, 5000)
	go aggregator.Run(ctx, tickCh, snapCh)
	go runSnapshotWriter(ctx, snapCh, cache, prom)

	if !cfg.Trading.PaperTrading {
		ticker := broker.NewKiteTicker(broker.KiteTickerConfig{
			APIKey:      cfg.Kite.APIKey,
			AccessToken: cfg.Kite.AccessToken,
		})
		ticker.OnReconnect = prom.WSReconnects.Inc

		go func() {
			countedTicks := make(chan model.Tick, cap(tickCh))
			go func() {
				for t := range countedTicks {
					prom.TicksTotal.Inc()
					health.SetLastTickTime(t.TickTS)
					tickCh <- t
				}
			}()
			health.SetTickerConnected(true)
			if err := ticker.Stream(ctx, aggregator.Tokens(), countedTicks); err != nil && ctx.Err() == nil {
				log.Printf("[signalbot] tick stream ended: %v", err)
			}
			health.SetTickerConnected(false)
		}()
	}

	// ---- Pipeline, executor, reconciler ----
	pipe := pipeline.New(pipeline.Config{
		BenchmarkTokens: cfg.BenchmarkTokens,
		DailySignalCap:  cfg.Trading.DailySignalCap,
		MaxStopLossPct:  cfg.Trading.MaxStopLossPct,
	}, aggregator, pipeline.StaticSectors(cfg.StrongSectors), store, store, store, notifier)
	pipe.OnSignal = prom.SignalsTotal.Inc

	executor := execution.NewExecutor(execution.ExecutorConfig{
		Exchange:           cfg.Trading.Exchange,
		AutoTrade:          cfg.Trading.AutoTrade,
		MaxCapitalPerTrade: cfg.Trading.MaxCapitalPerTrade,
		DailyTradeCap:      cfg.Trading.DailyTradeCap,
	}, brk, store, store, store, notifier)
	executor.OnOrderPlaced = prom.OrdersPlaced.Inc
	executor.OnOrderFilled = prom.OrdersFilled.Inc

	reconciler := execution.NewReconciler(brk, store, store, store, notifier)
	reconciler.OnTradeClosed = func(reason model.ExitReason) {
		prom.TradesClosed.WithLabelValues(string(reason)).Inc()
	}

	// ---- Scheduler ----
	var refreshSession scheduler.SessionRefresher
	if session != nil {
		refreshSession = session
	}
	sched := scheduler.New(scheduler.Config{
		RefreshHour:   cfg.RefreshHour,
		RefreshMinute: cfg.RefreshMinute,
	}, notifier, refreshSession)

	sched.AddJob("pipeline", 5*time.Minute, timedJob(prom, "pipeline", func(ctx context.Context) error {
		_, err := pipe.Run(ctx)
		return err
	}))
	sched.AddJob("executor", 2*time.Minute, timedJob(prom, "executor", executor.Run))
	sched.AddJob("reconciler", 1*time.Minute, timedJob(prom, "reconciler", reconciler.Run))

	if err := sched.Start(); err != nil {
		log.Fatalf("[signalbot] scheduler: %v", err)
	}
	defer sched.Stop()

	go trackMarketState(ctx, prom)

	// ---- Admin API ----
	apiSrv := api.New(cfg.APIAddr, store, store, store, sched, hub)
	go func() {
		if err := apiSrv.Run(ctx); err != nil {
			log.Printf("[signalbot] api server: %v", err)
		}
	}()

	log.Println("[signalbot] ready")
	<-sigCh
	log.Println("[signalbot] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
}

// runSnapshotWriter drains aggregator snapshots into the Redis cache.
// Best-effort: write failures are counted, never block the tick path.
func runSnapshotWriter(ctx context.Context, snapCh <-chan *model.MarketSnapshot,
	cache *redisstore.Cache, prom *metrics.Metrics) {

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapCh:
			if !ok {
				return
			}
			if cache == nil || snap.TradingSymbol == "" {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := cache.WriteSnapshot(writeCtx, snap); err != nil {
				prom.SnapshotDrops.Inc()
			}
			cancel()
		}
	}
}

// timedJob wraps a scheduler job with a duration observation.
func timedJob(prom *metrics.Metrics, name string, run scheduler.Job) scheduler.Job {
	return func(ctx context.Context) error {
		start := time.Now()
		err := run(ctx)
		prom.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return err
	}
}

// trackMarketState keeps the market-state gauge current.
func trackMarketState(ctx context.Context, prom *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if markethours.IsMarketOpen(time.Now()) {
				prom.MarketState.Set(1)
			} else {
				prom.MarketState.Set(0)
			}
		}
	}
}
