package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "review_hub/internal/adapters/http_server"
	"review_hub/internal/adapters/observability"
	redisad "review_hub/internal/adapters/redis"
	"review_hub/internal/adapters/source"
	"review_hub/internal/app"
	"review_hub/internal/domain"
	"review_hub/internal/shared"
	"review_hub/internal/storage/sqlstore"
)

const shutdownGrace = 20 * time.Second

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)
	observability.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// db
	repo, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.DBConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database unavailable")
	}
	defer repo.Close()
	log.Info().Str("driver", repo.Dialect().Name).Msg("database connection ok")

	if cfg.ApplySchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("ensure schema failed")
		}
	}
	if cfg.LoadOnStart {
		if err := loadOnStart(ctx, cfg, repo); err != nil {
			log.Fatal().Err(err).Str("source", cfg.IngestSource).Msg("initial load failed")
		}
	}

	// deps
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "reviews:")
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, account cache disabled")
			_ = rc.Close()
		} else {
			cache = rc
			defer rc.Close()
		}
	}
	q := app.NewQueryService(repo, cache, cfg.CacheTTL)

	// http
	reg := observability.InitRegistry()
	srv := server.New(server.Options{
		MaxStreams:   int64(cfg.MaxConcurrentStreams),
		RateLimitRPS: cfg.RateLimitRPS,
	})
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, FlushEvery: cfg.StreamFlushEvery})
	observability.Serve(cfg.MetricsAddr, reg)

	// no WriteTimeout: exports stream for as long as the result takes
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server failed")
		return
	}
	log.Info().Msg("bye")
}

// loadOnStart runs the loader once before serving, the way the container
// entrypoint used to seed the database.
func loadOnStart(ctx context.Context, cfg shared.Config, repo *sqlstore.Repo) error {
	src, err := source.Open(ctx, cfg.IngestSource, source.Options{
		S3Region:    cfg.S3Region,
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = app.NewLoaderService(repo, cfg.IngestBatchSize).Load(ctx, src)
	return err
}
