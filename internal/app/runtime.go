package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/moveops-platform/apps/migrator/internal/addressval"
	"github.com/moveops-platform/apps/migrator/internal/audit"
	"github.com/moveops-platform/apps/migrator/internal/blobstore"
	"github.com/moveops-platform/apps/migrator/internal/config"
	"github.com/moveops-platform/apps/migrator/internal/db"
	"github.com/moveops-platform/apps/migrator/internal/distlock"
	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/progress"
	"github.com/moveops-platform/apps/migrator/internal/store"
	"github.com/moveops-platform/apps/migrator/internal/store/postgres"
)

const progressTTL = 24 * time.Hour

// Runtime holds the backends one process shares between the HTTP server,
// the CLI and background runs.
type Runtime struct {
	Store      store.Store
	Controller *migration.Controller
	Pool       *pgxpool.Pool
	Redis      redis.UniversalClient

	closers []func()
}

type RuntimeOptions struct {
	// InMemory skips Postgres and Redis. Nothing survives the process.
	InMemory bool
}

// NewRuntime connects the configured backends. Background runs are bound to
// ctx.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		locker  distlock.Locker
		tracker progress.Tracker
	)
	if opts.InMemory {
		rt.Store = store.NewMemory()
		locker = distlock.NewLocalLocker()
		tracker = progress.NewMemory()
	} else {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		rt.Store = postgres.New(pool)

		if cfg.RedisURL != "" {
			client, err := connectRedis(ctx, cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			rt.Redis = client
			rt.closers = append(rt.closers, func() { _ = client.Close() })
			tracker = progress.NewRedis(client, progressTTL)
		} else {
			logger.Warn("redis_disabled", "reason", "REDIS_URL not set; using postgres advisory locks and in-process progress")
			tracker = progress.NewMemory()
		}
		lockDB := stdlib.OpenDBFromPool(pool)
		rt.closers = append(rt.closers, func() { _ = lockDB.Close() })
		locker = distlock.NewLocker(rt.Redis, lockDB)
	}

	blobs, err := newBlobstore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolverOpts := []migration.ResolverOption{}
	if v := newAddressValidator(cfg, logger); v != nil {
		resolverOpts = append(resolverOpts, migration.WithAddressValidator(v, cfg.AddressValidationTimeout))
	}

	processor := migration.NewProcessor(migration.ProcessorConfig{
		Jobs:      rt.Store,
		Blobs:     blobs,
		Resolver:  migration.NewResolver(rt.Store, logger, resolverOpts...),
		Locker:    locker,
		Progress:  tracker,
		Logger:    logger,
		BatchSize: cfg.MigrationBatchSize,
	})
	rt.Controller = migration.NewController(ctx, migration.ControllerConfig{
		Jobs:            rt.Store,
		Entities:        rt.Store,
		Blobs:           blobs,
		Processor:       processor,
		Locker:          locker,
		Progress:        tracker,
		Audit:           audit.NewLogger(rt.Store),
		Logger:          logger,
		MaxContentBytes: int(cfg.MigrationMaxFileBytes),
	})

	ok = true
	return rt, nil
}

// Close releases backends in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func connectRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newBlobstore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.BlobstoreDriver {
	case "s3":
		return blobstore.NewS3(ctx, blobstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
		})
	case "local", "":
		return blobstore.NewLocal(cfg.BlobstoreDir)
	default:
		return nil, errors.New("unknown blobstore driver " + cfg.BlobstoreDriver)
	}
}

func newAddressValidator(cfg config.Config, logger *slog.Logger) addressval.Validator {
	switch cfg.AddressValidation {
	case "mock":
		return addressval.Mock{}
	case "google":
		client := addressval.NewRetryClient(&http.Client{Timeout: cfg.AddressValidationTimeout}, cfg.AddressValidationRetries, logger)
		g, err := addressval.NewGoogle(cfg.GoogleMapsAPIKey, client)
		if err != nil {
			logger.Error("address_validation_disabled", "error", err)
			return nil
		}
		return g
	default:
		return nil
	}
}
