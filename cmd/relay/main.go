package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"giftcard-overlay/internal/assets"
	"giftcard-overlay/internal/cache"
	"giftcard-overlay/internal/config"
	"giftcard-overlay/internal/database"
	"giftcard-overlay/internal/events"
	"giftcard-overlay/internal/features"
	"giftcard-overlay/internal/handler"
	"giftcard-overlay/internal/middleware"
	"giftcard-overlay/internal/service"
	"giftcard-overlay/internal/tracing"
)

const serviceName = "overlay-relay"

func main() {
	configFile := flag.String("config", "", "Optional JSON config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx, *configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("relay failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: serviceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	flags := features.NewManager()
	flags.Register(features.CatalogCache, cfg.Cache.Enabled, "Cache 200 catalog responses in proxy mode")
	flags.Register(features.EventHooks, cfg.Events.Enabled, "Publish local backend events")

	ev := events.NewManager(flags.IsEnabled(features.EventHooks), logger)
	defer ev.Shutdown()
	subscribeEventLog(ev, logger)

	opts := handler.RouterOptions{
		Mode:        cfg.API.Mode,
		OverlayKey:  cfg.API.OverlayKey,
		Flags:       flags,
		ServiceName: serviceName,
		Logger:      logger,
	}

	switch cfg.API.Mode {
	case config.ModeStub:
		opts.API = handler.NewStubAPI(logger)

	case config.ModeProxy:
		proxy := handler.ProxyOptions{
			Upstream:    cfg.API.UpstreamOrigin,
			Timeout:     cfg.API.UpstreamTimeout(),
			MaxBodySize: cfg.API.MaxBodyBytes,
			CacheTTL:    cfg.Cache.TTL(),
			Flags:       flags,
			Logger:      logger,
		}
		if cfg.Cache.Enabled {
			c, closeCache, err := openCache(ctx, cfg.Cache)
			if err != nil {
				return err
			}
			defer closeCache()
			proxy.Cache = c
		}
		opts.API = handler.NewProxyAPI(proxy)

	case config.ModeLocal:
		db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Database.SeedDemo {
			if err := db.SeedDemoCatalog(ctx, cfg.Database.DemoMerchant); err != nil {
				return fmt.Errorf("failed to seed demo catalog: %w", err)
			}
			logger.Info("demo catalog seeded", zap.String("merchant_id", cfg.Database.DemoMerchant))
		}

		svc := service.NewService(db, ev, cfg.Local.FeeBPS, logger)
		opts.API = handler.NewLocalAPI(svc, cfg.API.MaxBodyBytes, logger)
		opts.Ready = db.Ping
	}

	if srv, err := assets.New(cfg.Assets.Root, logger); err != nil {
		logger.Warn("static assets disabled", zap.String("root", cfg.Assets.Root), zap.Error(err))
	} else {
		opts.Assets = srv
	}

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
		opts.RateLimiter = limiter
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(opts),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting relay",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.API.Mode),
			zap.Bool("overlay_key", cfg.API.OverlayKey != ""),
			zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func(), error) {
	if cfg.Backend == "redis" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { rc.Close() }, nil
	}
	return cache.NewInMemoryCache(), func() {}, nil
}

func subscribeEventLog(ev *events.Manager, logger *zap.Logger) {
	ev.Subscribe(events.EventPurchaseCompleted, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.PurchaseCompletedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		logger.Info("order issued",
			zap.String("order_id", data.Order.ID),
			zap.Int("gift_cards", len(data.Order.GiftCards)),
		)
		return nil
	})
	ev.Subscribe(events.EventPurchaseRejected, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.PurchaseRejectedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		logger.Debug("order rejected", zap.String("merchant_id", data.MerchantID), zap.String("code", data.Code))
		return nil
	})
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
