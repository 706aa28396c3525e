package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/catalog"
	"github.com/fenceworks/estimator/internal/db"
	"github.com/fenceworks/estimator/internal/resilience"
	"github.com/fenceworks/estimator/internal/store"
)

// catalogPath overrides the configured catalog with a YAML file.
var catalogPath string

// bomEnv holds the catalog source, engine and run store needed by the
// compute, batch, classify and serve commands.
type bomEnv struct {
	Catalog catalog.Source
	Engine  *bom.Engine
	Store   store.Store // nil unless requested

	catalogPool *pgxpool.Pool
}

// Close releases resources held by the environment.
func (e *bomEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.catalogPool != nil {
		e.catalogPool.Close()
	}
}

// initEnv validates cfg for mode, opens the catalog source and, when
// withStore is set, opens and migrates the run store. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string, withStore bool) (*bomEnv, error) {
	if catalogPath != "" {
		cfg.Catalog.Source = "file"
		cfg.Catalog.Path = catalogPath
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &bomEnv{Engine: bom.NewEngine(bom.WithLogger(zap.L()))}

	src, pool, err := initCatalog(ctx)
	if err != nil {
		return nil, err
	}
	env.Catalog = src
	env.catalogPool = pool

	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Store = st
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog opens the configured catalog source. The returned pool is nil
// for file catalogs.
func initCatalog(ctx context.Context) (catalog.Source, *pgxpool.Pool, error) {
	switch cfg.Catalog.Source {
	case "file":
		src, err := catalog.OpenFile(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Debug("catalog loaded", zap.String("path", cfg.Catalog.Path))
		return src, nil, nil
	case "postgres":
		pool, err := db.Open(ctx, cfg.CatalogDatabaseURL(), &cfg.Store.Pool, nil)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open catalog database")
		}
		src := catalog.NewPostgresSource(pool,
			catalog.WithRetry(cfg.Catalog.RetryPolicy()),
			catalog.WithBreaker(resilience.NewBreaker(cfg.Catalog.BreakerPolicy())),
		)
		return src, pool, nil
	default:
		return nil, nil, eris.Errorf("unsupported catalog source: %s", cfg.Catalog.Source)
	}
}

// openCatalogPool connects to the catalog database for schema and publish
// commands.
func openCatalogPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.Validate("catalog"); err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, cfg.CatalogDatabaseURL(), &cfg.Store.Pool, nil)
	if err != nil {
		return nil, eris.Wrap(err, "open catalog database")
	}
	return pool, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog YAML file (overrides catalog.source)")
}
