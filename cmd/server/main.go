package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"linkgate/backend/internal/auth/jwt"
	"linkgate/backend/internal/config"
	"linkgate/backend/internal/gateway"
	"linkgate/backend/internal/geo"
	"linkgate/backend/internal/health"
	"linkgate/backend/internal/jobs"
	"linkgate/backend/internal/logger"
	"linkgate/backend/internal/mailer"
	"linkgate/backend/internal/monitoring"
	"linkgate/backend/internal/otp"
	"linkgate/backend/internal/pool"
	"linkgate/backend/internal/ratelimit"
	"linkgate/backend/internal/storage"
	"linkgate/backend/internal/storage/memory"
	"linkgate/backend/internal/storage/postgres"
	"linkgate/backend/internal/storage/redis"
	httptransport "linkgate/backend/internal/transport/http"
)

const version = "1.0.0"

// main 启动链接访问网关 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting linkgate server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(metrics.Registry(), log)

	// 初始化存储层
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	healthChecker.AddDependency("store", store)

	// 限流计数与地理位置共享缓存：配置了 Redis 时多实例共享，否则使用进程内实现
	var (
		backend     ratelimit.Backend
		memBackend  *ratelimit.MemoryBackend
		sharedGeo   geo.SharedCache
		redisClient *redis.Client
	)
	if cfg.UsesRedis() {
		redisClient, err = redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
		backend = redis.NewRateLimitBackend(redisClient)
		sharedGeo = redis.NewCountryCache(redisClient)
		healthChecker.AddDependency("redis", health.PingFunc(redisClient.Ping))
	} else {
		memBackend = ratelimit.NewMemoryBackend()
		backend = memBackend
		log.Warn("redis not configured, rate limit counters are per-process")
	}

	attempts := ratelimit.Policy{
		Window:   cfg.Gateway.AttemptWindow,
		Budget:   cfg.Gateway.AttemptBudget,
		Cooldown: cfg.Gateway.AttemptCooldown,
	}
	ceiling := ratelimit.Policy{Window: time.Hour, Budget: cfg.Gateway.CodeIssueLimit}

	passwordLimiter, err := ratelimit.New(backend, ratelimit.GuardPassword, attempts)
	if err != nil {
		return err
	}
	codeRequestLimiter, err := ratelimit.New(backend, ratelimit.GuardCodeRequest, attempts)
	if err != nil {
		return err
	}
	codeVerifyLimiter, err := ratelimit.New(backend, ratelimit.GuardCodeVerify, attempts)
	if err != nil {
		return err
	}
	issueLimiter, err := ratelimit.New(backend, ratelimit.GuardCodeIssue, ceiling)
	if err != nil {
		return err
	}

	// 地理位置解析
	var upstream geo.Lookup
	if cfg.Geo.Endpoint != "" {
		upstream = geo.NewHTTPLookup(cfg.Geo.Endpoint, cfg.Geo.RatePerSec, &http.Client{Timeout: cfg.Geo.Timeout})
	}
	resolver := geo.NewResolver(upstream, sharedGeo, geo.Options{
		CacheSize: cfg.Geo.CacheSize,
		CacheTTL:  cfg.Geo.CacheTTL,
		Timeout:   cfg.Geo.Timeout,
	}, log.Named("geo"), metrics)

	// 验证码投递
	var m mailer.Mailer
	if cfg.SMTP.Addr != "" {
		m = mailer.NewSMTPMailer(cfg.SMTP)
		log.Info("smtp relay configured", zap.String("addr", cfg.SMTP.Addr))
	} else {
		m = mailer.NewLogMailer(log.Named("mailer"))
		log.Warn("smtp relay not configured, verification codes are only logged")
	}

	workers := pool.NewWorkerPool(4, 256, log.Named("delivery"))
	workers.Start()
	defer workers.Stop()

	codes := otp.NewService(store, issueLimiter, m, workers, otp.Options{
		CodeLength:      6,
		TTL:             cfg.Gateway.CodeTTL,
		DeliveryTimeout: cfg.Gateway.DeliveryTimeout,
	}, log.Named("otp"), metrics)

	gw, err := gateway.New(gateway.Dependencies{
		Store:       store,
		Codes:       codes,
		Geo:         resolver,
		Tokens:      jwt.NewManager(cfg.Gateway.TokenSecret, cfg.Gateway.TokenIssuer, cfg.Gateway.TokenTTL),
		Password:    passwordLimiter,
		CodeRequest: codeRequestLimiter,
		CodeVerify:  codeVerifyLimiter,
		Logger:      log,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:  cfg,
		Gateway: gw,
		Metrics: metrics,
		Health:  healthChecker,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	// 定时任务
	scheduler := jobs.NewScheduler(log)
	if err := scheduler.AddJob(jobs.NewPurgeCodesJob(codes, cfg.Jobs.PurgeRetention, log), cfg.Jobs.PurgeSpec); err != nil {
		return fmt.Errorf("failed to schedule purge job: %w", err)
	}
	if memBackend != nil {
		sweep := ratelimit.Policy{Window: time.Hour, Budget: 1, Cooldown: cfg.Gateway.AttemptCooldown}
		if err := scheduler.AddJob(jobs.NewSweepLimiterJob(memBackend, sweep), "@every 5m"); err != nil {
			return fmt.Errorf("failed to schedule sweep job: %w", err)
		}
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时任务 goroutine
	group.Go(func() error {
		scheduler.Start(groupCtx)
		<-groupCtx.Done()
		scheduler.Stop()
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore 初始化存储层，未配置数据库时使用内存存储（开发环境）
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" {
		log.Warn("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	log.Info("initializing database storage", zap.String("database_type", cfg.Database.Type))
	store, err := postgres.OpenWithType(ctx, &cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info("database storage initialized successfully", zap.String("database_type", cfg.Database.Type))
	return store, nil
}
