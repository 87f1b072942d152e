package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/catalog"
	"bridgeroute/internal/config"
	"bridgeroute/internal/cost"
	"bridgeroute/internal/database"
	"bridgeroute/internal/engine"
	"bridgeroute/internal/exchange"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/market"
	"bridgeroute/internal/middleware"
	"bridgeroute/internal/monitoring"
	"bridgeroute/internal/orchestrator"
	"bridgeroute/internal/types"
)

// service owns every long-lived component of the process
type service struct {
	cfg *config.Config
	log logger.Logger

	db        *database.DB
	fees      *database.FeeStore
	snapshots *database.SnapshotStore
	catalog   *catalog.Catalog
	metrics   *monitoring.Metrics
	limiters  *exchange.LimiterRegistry

	banexg    *exchange.BanexgProvider
	redis     *redis.Client
	publisher *exchange.RedisFeed
	tickers   []*exchange.WSTicker

	prices      *market.PriceSource
	fx          *market.FxSource
	books       *market.OrderbookSource
	feeSource   *market.FeeSource
	withdrawals *market.WithdrawalStatusSource

	engine    *engine.Engine
	scheduler *orchestrator.Scheduler
}

// newService opens the store and builds the source pipeline and engine
func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*service, error) {
	s := &service{cfg: cfg, log: log}

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	s.db = db
	if cfg.Database.AutoMigrate {
		// the migrator owns db once closed, so it is left open
		m, err := database.NewMigrator(db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := m.Up(); err != nil {
			db.Close()
			return nil, err
		}
	}
	s.fees = database.NewFeeStore(db)
	s.snapshots = database.NewSnapshotStore(db)

	s.catalog = catalog.New(catalog.FromConfig(cfg.Venues))
	if err := s.seedFees(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.metrics = monitoring.NewMetrics(nil)
	s.metrics.RegisterRuntime()
	s.metrics.RegisterDB(db.DB, db.Driver())

	s.limiters = exchange.NewLimiterRegistry()
	if cfg.Redis.Enabled {
		s.redis = exchange.NewRedisClient(cfg.Redis)
		s.publisher = exchange.NewRedisFeed("redis", s.redis, 0)
	}

	if err := s.buildSources(); err != nil {
		s.Close()
		return nil, err
	}

	s.engine = engine.New(engine.Deps{
		Catalog:     s.catalog,
		Prices:      s.prices,
		FX:          s.fx,
		Orderbooks:  s.books,
		Withdrawals: s.withdrawals,
		Model: cost.Model{
			Fees:                       s.feeSource,
			Transfer:                   cost.NewTransferTable(cfg.Transfer.Minutes, cfg.Transfer.DefaultMinutes),
			UnknownLiquidityPenaltyPct: cfg.Routing.UnknownLiquidityPenaltyPct,
		},
		History: s.snapshots,
		Metrics: s.metrics,
	}, engine.OptionsFromConfig(cfg.Routing), log)

	if err := s.buildScheduler(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// seedFees copies catalog trading fees into rows that do not exist yet
func (s *service) seedFees(ctx context.Context) error {
	for _, v := range s.catalog.Venues() {
		if v.TradingFeePct <= 0 {
			continue
		}
		if err := s.fees.SeedTradingFee(ctx, v.ID, v.TradingFeePct); err != nil {
			return fmt.Errorf("seed trading fee for %s: %w", v.ID, err)
		}
	}
	return nil
}

func ttlOf(c config.TTLConfig) market.TTL {
	return market.TTL{Success: c.Success, Failure: c.Failure}
}

func (s *service) buildSources() error {
	cfg := s.cfg
	cacheOpts := cache.Options{MaxEntries: cfg.Cache.MaxEntries}
	opts := market.Options{Limiter: s.limiters, Metrics: s.metrics, Snapshots: s.snapshots}

	priceLinks, err := s.priceLinks()
	if err != nil {
		return err
	}
	s.prices = market.NewPriceSource(priceLinks, ttlOf(cfg.Cache.Price),
		cache.NewMonitor("price", s.metrics), cacheOpts, opts, s.log)

	fxLinks, err := s.fxLinks()
	if err != nil {
		return err
	}
	bounds, fallback, err := fxTables(cfg.FX)
	if err != nil {
		return err
	}
	s.fx = market.NewFxSource(fxLinks, bounds, fallback, ttlOf(cfg.Cache.FX),
		cache.NewMonitor("fx", s.metrics), cacheOpts, opts, s.log)

	bookLinks, err := s.orderbookLinks()
	if err != nil {
		return err
	}
	s.books = market.NewOrderbookSource(bookLinks, ttlOf(cfg.Cache.Orderbook),
		cache.NewMonitor("orderbook", s.metrics), cacheOpts, opts, s.log)

	defaultWithdrawal := make(map[types.Asset]types.FallbackValue[float64], len(cfg.Fees.DefaultWithdrawal))
	for asset, fee := range cfg.Fees.DefaultWithdrawal {
		defaultWithdrawal[types.Asset(asset).Normalize()] = types.FallbackValue[float64]{Value: fee, Reason: "configured default withdrawal fee"}
	}
	s.feeSource = market.NewFeeSource(s.fees,
		types.FallbackValue[float64]{Value: cfg.Fees.DefaultTradingPct, Reason: "configured default trading fee"},
		defaultWithdrawal, ttlOf(cfg.Cache.Fees), cache.NewMonitor("fees", s.metrics), cacheOpts, s.log)
	s.withdrawals = market.NewWithdrawalStatusSource(s.fees, ttlOf(cfg.Cache.Withdrawal),
		cache.NewMonitor("withdrawal", s.metrics), cacheOpts, s.log)
	return nil
}

func (s *service) register(p config.ProviderConfig) {
	s.limiters.Register(p.Name, p.RPS, p.Burst)
}

func (s *service) priceLinks() ([]market.Link[market.PriceProvider], error) {
	var links []market.Link[market.PriceProvider]
	for _, p := range s.cfg.Sources.Price {
		var provider market.PriceProvider
		switch p.Type {
		case "banexg":
			b := exchange.NewBanexgProvider(p.Name)
			if s.banexg == nil {
				s.banexg = b
			}
			provider = b
		case "redis":
			if s.redis == nil {
				return nil, fmt.Errorf("price provider %s needs redis", p.Name)
			}
			provider = exchange.NewRedisFeed(p.Name, s.redis, p.MaxAge)
		case "websocket":
			venue, ok := s.catalog.Venue(p.Venue)
			if !ok {
				return nil, fmt.Errorf("price provider %s streams unknown venue %s", p.Name, p.Venue)
			}
			t := exchange.NewWSTicker(p.Name, p.URL, venue, p.MaxAge, s.log)
			s.tickers = append(s.tickers, t)
			provider = t
		default:
			return nil, fmt.Errorf("price provider %s has unsupported type %s", p.Name, p.Type)
		}
		s.register(p)
		links = append(links, market.Link[market.PriceProvider]{Provider: provider, Name: p.Name, Timeout: p.Timeout})
	}
	return links, nil
}

func (s *service) fxLinks() ([]market.Link[market.FxProvider], error) {
	var links []market.Link[market.FxProvider]
	for _, p := range s.cfg.Sources.FX {
		if p.Type != "yahoo" {
			return nil, fmt.Errorf("fx provider %s has unsupported type %s", p.Name, p.Type)
		}
		s.register(p)
		links = append(links, market.Link[market.FxProvider]{
			Provider: exchange.NewYahooFx(p.Name, p.URL, p.Timeout, p.Retries),
			Name:     p.Name,
			Timeout:  p.Timeout,
		})
	}
	return links, nil
}

func (s *service) orderbookLinks() ([]market.Link[market.OrderbookProvider], error) {
	var links []market.Link[market.OrderbookProvider]
	for _, p := range s.cfg.Sources.Orderbook {
		if p.Type != "redis" || s.redis == nil {
			return nil, fmt.Errorf("orderbook provider %s needs type redis with redis enabled", p.Name)
		}
		s.register(p)
		links = append(links, market.Link[market.OrderbookProvider]{
			Provider: exchange.NewRedisFeed(p.Name, s.redis, p.MaxAge),
			Name:     p.Name,
			Timeout:  p.Timeout,
		})
	}
	return links, nil
}

// fxTables converts the configured bounds and static fallback rates
func fxTables(cfg config.FXConfig) (map[types.Pair]market.Bounds, map[types.Pair]types.FallbackValue[float64], error) {
	bounds := make(map[types.Pair]market.Bounds, len(cfg.Bounds))
	for key, b := range cfg.Bounds {
		pair, err := types.ParsePair(key)
		if err != nil {
			return nil, nil, err
		}
		bounds[pair] = market.Bounds{Min: b.Min, Max: b.Max}
	}
	fallback := make(map[types.Pair]types.FallbackValue[float64], len(cfg.Fallback))
	for key, f := range cfg.Fallback {
		pair, err := types.ParsePair(key)
		if err != nil {
			return nil, nil, err
		}
		fallback[pair] = types.FallbackValue[float64]{Value: f.Rate, Reason: f.Reason}
	}
	return bounds, fallback, nil
}

func (s *service) fxPairs() []types.Pair {
	var pairs []types.Pair
	for _, key := range s.cfg.FXPairs() {
		if pair, err := types.ParsePair(key); err == nil {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

func (s *service) buildScheduler() error {
	s.scheduler = orchestrator.NewScheduler(s.cfg.Schedules.TaskTimeout, s.log)

	var prober catalog.Prober = catalog.NopProber{}
	if s.banexg != nil {
		prober = s.banexg
	}
	s.scheduler.RegisterHandler(orchestrator.TaskTypeVenueHealth, &orchestrator.VenueHealthTask{
		Catalog:  s.catalog,
		Prober:   prober,
		Observer: s.metrics,
		Log:      s.log,
	})
	s.scheduler.RegisterHandler(orchestrator.TaskTypeSnapshotCapture, &orchestrator.SnapshotTask{
		Catalog:     s.catalog,
		Prices:      s.prices,
		FX:          s.fx,
		Orderbooks:  s.books,
		Store:       s.snapshots,
		Pairs:       s.fxPairs(),
		Retention:   s.cfg.Schedules.SnapshotRetention,
		Concurrency: s.cfg.Routing.MaxConcurrentFetches,
		Recorder:    s.metrics,
		Log:         s.log,
	})

	if !s.cfg.Schedules.Enabled {
		return nil
	}
	if err := s.scheduler.AddTask(orchestrator.TaskTypeVenueHealth, s.cfg.Schedules.VenueHealth); err != nil {
		return err
	}
	return s.scheduler.AddTask(orchestrator.TaskTypeSnapshotCapture, s.cfg.Schedules.SnapshotCapture)
}

// applyConfig takes the parts of a reloaded file that are safe to swap live
func (s *service) applyConfig(cfg *config.Config) error {
	s.log.SetLevel(cfg.Logging.Level)
	s.catalog.Replace(catalog.FromConfig(cfg.Venues))
	s.log.Info("Catalog reloaded", "venues", len(cfg.Venues))
	return nil
}

// router serves the ops endpoints
func (s *service) router() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(s.log),
		s.metrics.MetricsMiddleware(),
		middleware.ErrorHandler(s.log),
	)

	r.GET("/healthz", func(c *gin.Context) {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"database": "ok",
			"venues":   s.catalog.Venues(),
			"tasks":    s.scheduler.ListTasks(),
			"caches": []cache.MonitorStats{
				s.prices.Monitor().Stats(),
				s.fx.Monitor().Stats(),
				s.books.Monitor().Stats(),
			},
		})
	})
	if s.cfg.Monitoring.PrometheusEnabled {
		r.GET(s.cfg.Monitoring.PrometheusPath, gin.WrapH(s.metrics.Handler()))
	}
	return r
}

// run starts the background work and the ops server and blocks until ctx
// is done
func (s *service) run(ctx context.Context, configPath string) error {
	var wg sync.WaitGroup

	for _, t := range s.tickers {
		if s.publisher != nil {
			t.OnUpdate(func(q types.PriceQuote) {
				pctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				if err := s.publisher.PublishPrice(pctx, q); err != nil {
					s.log.Debug("Tick not published", "venue", q.Venue, "asset", string(q.Asset), "error", err)
				}
			})
		}
		wg.Add(1)
		go func(t *exchange.WSTicker) {
			defer wg.Done()
			_ = t.Run(ctx)
		}(t)
	}

	if s.cfg.Schedules.Enabled {
		s.scheduler.Start()
		go func() { _ = s.scheduler.RunNow(orchestrator.TaskTypeVenueHealth) }()
	}

	if configPath != "" {
		watcher := config.NewWatcher(configPath, 30*time.Second, s.log)
		watcher.AddCallback(s.applyConfig)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = watcher.Start(ctx)
		}()
	}

	srv := &http.Server{Addr: s.cfg.Monitoring.Addr, Handler: s.router()}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("ops server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Ops server shutdown", "error", err)
	}
	s.scheduler.Stop()
	wg.Wait()
	return runErr
}

// Close releases clients and the database
func (s *service) Close() error {
	var errs []error
	if s.banexg != nil {
		errs = append(errs, s.banexg.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return stderrors.Join(errs...)
}

func parseAsset(s string) types.Asset {
	return types.Asset(strings.TrimSpace(s)).Normalize()
}
