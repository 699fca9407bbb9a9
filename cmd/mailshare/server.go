package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/captcha"
	"github.com/xxxsen/mailshare/internal/config"
	"github.com/xxxsen/mailshare/internal/db"
	"github.com/xxxsen/mailshare/internal/handler"
	"github.com/xxxsen/mailshare/internal/job"
	"github.com/xxxsen/mailshare/internal/mailbox"
	"github.com/xxxsen/mailshare/internal/metrics"
	"github.com/xxxsen/mailshare/internal/middleware"
	"github.com/xxxsen/mailshare/internal/ratelimit"
	"github.com/xxxsen/mailshare/internal/repo"
	"github.com/xxxsen/mailshare/internal/schedule"
	"github.com/xxxsen/mailshare/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func newGate(ctx context.Context, cfg config.CaptchaConfig, store *cache.Store) *captcha.Gate {
	var verifier captcha.Verifier
	if cfg.Provider != "" {
		v, err := captcha.NewVerifier(cfg.Provider, captcha.VerifierArgs{
			Secret:    cfg.Secret,
			VerifyURL: cfg.VerifyURL,
			Client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		})
		if err != nil {
			logutil.GetLogger(ctx).Error("init captcha verifier failed, verification will fail closed", zap.Error(err))
		} else {
			verifier = v
		}
	}
	return captcha.NewGate(store, verifier,
		captcha.WithPassTTL(time.Duration(cfg.TTLMinutes)*time.Minute),
		captcha.WithVerifyRate(cfg.VerifyRPS, cfg.VerifyBurst),
	)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logutil.GetLogger(ctx)

	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqlDB.Close()
	if err := db.ApplyMigrations(ctx, sqlDB); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	rdb := newRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}
	shareCache := cache.New(ctx, rdb, cfg.Redis.Prefix,
		cache.WithMemorySize(cfg.Share.MemoryCacheSize),
		cache.WithSweepInterval(time.Duration(cfg.Share.CacheSweepSeconds)*time.Second),
	)
	defer shareCache.Close()
	limiter := ratelimit.New(ctx, rdb, cfg.Redis.Prefix,
		ratelimit.WithSweepInterval(time.Duration(cfg.RateLimit.SweepSeconds)*time.Second),
	)
	defer limiter.Close()
	logger.Info("backends selected",
		zap.String("cache", shareCache.BackendName()),
		zap.String("ratelimit", limiter.BackendName()),
		zap.String("captcha", cfg.Captcha.Provider),
	)

	shareRepo := repo.NewShareRepo(sqlDB)
	accessLogRepo := repo.NewAccessLogRepo(sqlDB)
	emailRepo := repo.NewEmailRepo(sqlDB)

	shareService := service.NewShareService(shareRepo, shareCache,
		service.WithDefaultDomain(cfg.Share.DefaultDomain),
		service.WithShareCacheTTL(
			time.Duration(cfg.Share.CacheTTLSeconds)*time.Second,
			time.Duration(cfg.Share.ExpiredCacheSeconds)*time.Second,
		),
		service.WithLocation(cfg.Location()),
	)
	accessService := service.NewAccessService(accessLogRepo, shareRepo, nil)
	gatewayService := service.NewGatewayService(
		shareService,
		accessService,
		limiter,
		newGate(ctx, cfg.Captcha, shareCache),
		mailbox.NewRepoProvider(emailRepo),
		service.WithEmailLookback(time.Duration(cfg.Share.EmailLookbackSeconds)*time.Second),
	)

	deps := handler.RouterDeps{
		Shares:    handler.NewShareHandler(shareService, accessService),
		Public:    handler.NewPublicHandler(gatewayService),
		JWTSecret: []byte(cfg.JWTSecret),
		PublicLimit: middleware.RateLimit(limiter, &ratelimit.Rule{
			Scope:    ratelimit.ScopeStrict,
			Capacity: cfg.RateLimit.StrictCapacity,
			Window:   time.Duration(cfg.RateLimit.StrictWindowSeconds) * time.Second,
		}),
		Metrics: metrics.Handler(),
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler(cfg.Location())
	cleanup := job.NewAccessLogCleanupJob(accessService, time.Duration(cfg.AccessLog.RetentionDays)*24*time.Hour, nil)
	if err := scheduler.AddJob(cleanup, cfg.AccessLog.CleanupCron); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
