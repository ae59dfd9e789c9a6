package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/config"
	"github.com/iliyamo/eno-chat/internal/database"
	"github.com/iliyamo/eno-chat/internal/handler"
	"github.com/iliyamo/eno-chat/internal/middleware"
	"github.com/iliyamo/eno-chat/internal/queue"
	"github.com/iliyamo/eno-chat/internal/repository"
	"github.com/iliyamo/eno-chat/internal/router"
	"github.com/iliyamo/eno-chat/internal/service"
	"github.com/iliyamo/eno-chat/internal/storage"
	"github.com/iliyamo/eno-chat/internal/utils"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	skipMigrations := flag.Bool("skip-migrations", false, "do not apply database migrations at startup")
	consumeEvents := flag.Bool("consume-events", false, "run the message.created audit consumer in-process")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		// No configured logger yet.
		l, _ := zap.NewProduction()
		l.Fatal("load config", zap.Error(err))
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *skipMigrations, *consumeEvents); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.IsDevelopment() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l.With(zap.String("service", "eno-chat"), zap.String("env", cfg.Env))
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, skipMigrations, consumeEvents bool) error {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if !skipMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	// Redis backs rate limiting and the list cache; without it both are off.
	var rdb *redis.Client
	if c, err := config.NewRedisClient(ctx); err != nil {
		log.Warn("redis unavailable; rate limiting and caching disabled", zap.Error(err))
	} else {
		rdb = c
		defer rdb.Close()
	}

	backend, closeBackend, err := newBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeBackend()
	files := storage.NewStore(backend)

	users := repository.NewUserRepo(db)
	messages := repository.NewMessageRepo(db)
	tokens := utils.NewTokenService(cfg.JWTSecret, time.Now)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)

	msgHandler := handler.NewMessageHandler(messages, files, cfg.Storage.PublicPath, log)
	msgHandler.Cache = cache

	checks := []handler.Check{
		{Name: "database", Ping: messages.Ping},
		{Name: "storage", Ping: files.Ping},
	}
	if rdb != nil {
		checks = append(checks, handler.Check{
			Name:     "redis",
			Ping:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Optional: true,
		})
	}
	if cfg.Events.Enabled {
		pub := service.NewPublisher(cfg.Events.URL, log)
		msgHandler.Events = pub
		checks = append(checks, handler.Check{Name: "broker", Ping: pub.Ping, Optional: true})

		if consumeEvents {
			consumer := &queue.Consumer{URL: cfg.Events.URL, LogDir: "logs", Log: log}
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("message consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	e := router.New(router.Deps{
		Auth:      handler.NewAuthHandler(users, tokens, cfg.BcryptCost, log),
		Messages:  msgHandler,
		Health:    handler.NewHealthHandler(log, checks...),
		Tokens:    tokens,
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
		Cache:     cache,
		Log:       log,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("storage", cfg.Storage.Driver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newBackend picks the attachment backend named by cfg.Driver.
func newBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, func(), error) {
	if cfg.Driver == "s3" {
		b, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Prefix:       cfg.S3Prefix,
		})
		return b, func() {}, err
	}
	b, err := storage.NewLocalBackend(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}
