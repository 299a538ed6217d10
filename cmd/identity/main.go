package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/config"
	"github.com/formica-tech/formic-api/internal/database"
	httptransport "github.com/formica-tech/formic-api/internal/http"
	"github.com/formica-tech/formic-api/internal/http/handler"
	httpmiddleware "github.com/formica-tech/formic-api/internal/http/middleware"
	"github.com/formica-tech/formic-api/internal/identity"
	"github.com/formica-tech/formic-api/internal/mail"
	"github.com/formica-tech/formic-api/internal/metrics"
	"github.com/formica-tech/formic-api/internal/objectstore"
	"github.com/formica-tech/formic-api/internal/repository"
	"github.com/formica-tech/formic-api/internal/server"
	"github.com/formica-tech/formic-api/internal/token"
	"github.com/formica-tech/formic-api/internal/verification"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newPGXPool,
			newStore,
			newMailer,
			newObjectStore,
			newTokenCodec,
			newVerificationLifecycle,
			newIdentityService,
			newRegistry,
			newMetricsCollector,
			newAuthMiddleware,
			handler.NewIdentityHandler,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.MigrateOnStart {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newStore(pool *pgxpool.Pool) repository.Store {
	return repository.NewPostgresStore(pool)
}

func newMailer(cfg config.Config) mail.Mailer {
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func newObjectStore(cfg config.Config) (objectstore.ObjectStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return objectstore.NewS3Store(ctx, objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	})
}

func newTokenCodec(cfg config.Config) (*token.Codec, error) {
	return token.NewCodecFromFiles(cfg.KeyPath)
}

func newVerificationLifecycle(store repository.Store, mailer mail.Mailer, logger *zap.Logger) *verification.Lifecycle {
	return verification.NewLifecycle(store, mailer, logger)
}

func newIdentityService(
	store repository.Store,
	codec *token.Codec,
	codes *verification.Lifecycle,
	objects objectstore.ObjectStore,
	logger *zap.Logger,
) *identity.Service {
	return identity.NewService(store, codec, codes, objects, logger)
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func newMetricsCollector(registry *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollector(registry)
}

func newAuthMiddleware(svc *identity.Service) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Identity: svc}
}

func newRouter(cfg config.Config, logger *zap.Logger, identityHandler *handler.IdentityHandler, authMiddleware *httpmiddleware.Auth, registry *prometheus.Registry) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	return httptransport.NewRouter(cfg, logger, identityHandler, authMiddleware, registry)
}

func newHTTPServer(router *gin.Engine, logger *zap.Logger) *server.HTTPServer {
	return server.NewHTTPServer(router, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
