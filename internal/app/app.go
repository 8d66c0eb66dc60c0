package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/bookmarks"
	"github.com/MrSnakeDoc/smartmark/internal/config"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/redis"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
	"github.com/MrSnakeDoc/smartmark/internal/remote/breaker"
	"github.com/MrSnakeDoc/smartmark/internal/remote/memory"
	"github.com/MrSnakeDoc/smartmark/internal/remote/supabase"
	"github.com/MrSnakeDoc/smartmark/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/smartmark/internal/store/redis"
	"github.com/MrSnakeDoc/smartmark/internal/utils"
	"github.com/MrSnakeDoc/smartmark/internal/version"
)

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	server  *httpserver.Server
	backend remote.Backend
	gc      *scheduler.GarbageCollector // nil when the backend has nothing to sweep
}

func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	collector := metrics.New()

	raw, err := newBackend(cfg, loggerClient)
	if err != nil {
		return nil, err
	}
	loggerClient.Info("backend initialized", logger.String("backend", raw.Name()))

	wrapped := breaker.Wrap(raw, breaker.Config{
		MaxRequests:  cfg.BreakerMaxRequests,
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerTimeout,
		FailureRatio: cfg.BreakerFailureRatio,
		MinRequests:  cfg.BreakerMinRequests,
	}, collector, loggerClient)

	var gc *scheduler.GarbageCollector
	if s, ok := raw.(scheduler.Sweeper); ok {
		gc = scheduler.NewGarbageCollector(s, loggerClient, cfg.SweepInterval)
	}

	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		TimeNow:       time.Now,
		Backend:       wrapped,
		BreakerState:  wrapped.State,
		Hub:           auth.NewHub(),
		Guard:         bookmarks.NewGuard(loggerClient),
		Metrics:       collector,
		Validate:      domain.Validator(),
		PublicURL:     cfg.PublicURL,
		Provider:      cfg.OAuthProvider,
		RemoteTimeout: cfg.RemoteTimeout,

		AllowedHosts:    cfg.AllowedHosts,
		AllowedOrigins:  cfg.AllowedOrigins,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		CookieSecure:    cfg.CookieSecure,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}

	return &App{
		cfg:     cfg,
		logger:  loggerClient,
		server:  httpserver.New(cfg, loggerClient, d),
		backend: wrapped,
		gc:      gc,
	}, nil
}

// newBackend builds the adapter named by cfg.Backend. Redis is dialed here so
// startup fails fast when it never answers.
func newBackend(cfg *config.Config, log logger.Logger) (remote.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using the in-memory backend; bookmarks are lost on restart")
		return memory.New(memory.Options{
			Secret:   cfg.JWTSecret,
			TokenTTL: cfg.DevTokenTTL,
			DevUser: auth.Identity{
				UserID: cfg.DevUserID,
				Email:  cfg.DevUserEmail,
				Name:   cfg.DevUserName,
			},
		}), nil

	case config.BackendRedis:
		log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.New(client, redisstore.Options{
			AuthURL:     cfg.SupabaseURL,
			JWTSecret:   cfg.JWTSecret,
			PingTimeout: cfg.RedisPingTimeout,
		}, log), nil

	default:
		return supabase.New(supabase.Config{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
			Schema:  cfg.SupabaseSchema,
			Table:   cfg.BookmarksTable,
			Realtime: supabase.RealtimeConfig{
				Heartbeat: cfg.RealtimeHeartbeat,
				JoinWait:  cfg.RealtimeJoinWait,
				Retry:     cfg.RealtimeRetry,
				MaxWait:   cfg.RealtimeMaxWait,
			},
		}, log)
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Smart Bookmark on %s", a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.gc != nil {
		a.gc.Start(ctx)
		a.logger.Info("garbage collector started",
			logger.Duration("interval", a.cfg.SweepInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if a.gc != nil {
		a.gc.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	utils.CloseLogged(a.backend, a.backend.Name()+" backend", a.logger)
	_ = a.logger.Sync()

	if runErr != nil {
		return runErr
	}
	a.logger.Info("✅ Smart Bookmark stopped cleanly")
	return nil
}
