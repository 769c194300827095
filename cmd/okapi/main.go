package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/okapilabs/okapi/internal/api/admin"
	"github.com/okapilabs/okapi/internal/cluster"
	"github.com/okapilabs/okapi/internal/config"
	"github.com/okapilabs/okapi/internal/discovery"
	"github.com/okapilabs/okapi/internal/module"
	"github.com/okapilabs/okapi/internal/proxy"
	"github.com/okapilabs/okapi/internal/server"
	"github.com/okapilabs/okapi/internal/storage"
	"github.com/okapilabs/okapi/internal/storage/memory"
	"github.com/okapilabs/okapi/internal/storage/sqldb"
	"github.com/okapilabs/okapi/internal/telemetry"
	"github.com/okapilabs/okapi/internal/tenant"
)

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("OKAPI_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("loading config failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Okapi.URL, logger)
	if err != nil {
		logger.Error("initializing telemetry failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("opening store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	catalog := module.NewCatalog()
	tenants := tenant.NewRegistry()
	dm := discovery.NewManager()

	ctx := context.Background()
	loader := newLoader(store, catalog, tenants)
	if err := loader(ctx); err != nil {
		logger.Error("loading catalog failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := loadDeployments(ctx, store, dm); err != nil {
		logger.Error("loading deployments failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bus, err := openBus(ctx, cfg, logger)
	if err != nil {
		logger.Error("connecting cluster bus failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer bus.Close()

	sync := cluster.NewSync(bus, store.Timestamps(), loader, logger)
	sync.Start(ctx)
	defer sync.Stop()

	srv := server.New(cfg.Server.Port, logger)
	srv.MountAdmin(admin.New(catalog, tenants, dm, store, sync, logger).Routes)
	srv.MountProxy(proxy.NewEngine(catalog, tenants, dm, cfg.Okapi.URL, logger))

	if err := srv.Start(); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return sqldb.New(sqldb.Config{Driver: "sqlite", DSN: cfg.SQLite.Path})
	case "postgres":
		return sqldb.New(sqldb.Config{
			Driver: "postgres",
			DSN: sqldb.PostgresDSN(cfg.Postgres.Host, cfg.Postgres.Port,
				cfg.Postgres.Username, cfg.Postgres.Password, cfg.Postgres.Database),
			Reinit: cfg.Postgres.DBInit,
		})
	default:
		return memory.New(), nil
	}
}

func openBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cluster.Bus, error) {
	if !cfg.Cluster.Enabled {
		return cluster.NewLocalBus(), nil
	}
	return cluster.NewRedisBus(ctx, cluster.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
}

// newLoader builds the reload callback the cluster sync runs: repopulate
// the catalog and tenant registry from the store as one atomic swap each.
func newLoader(store storage.Store, catalog *module.Catalog, tenants *tenant.Registry) cluster.Loader {
	return func(ctx context.Context) error {
		mods, err := store.Modules().GetAll(ctx)
		if err != nil {
			return err
		}
		tns, err := store.Tenants().GetAll(ctx)
		if err != nil {
			return err
		}
		catalog.ReplaceAll(mods)
		tenants.ReplaceAll(tns)
		return nil
	}
}

func loadDeployments(ctx context.Context, store storage.Store, dm *discovery.Manager) error {
	dds, err := store.Deployments().GetAll(ctx)
	if err != nil {
		return err
	}
	for _, dd := range dds {
		if _, err := dm.Deploy(dd); err != nil {
			return err
		}
	}
	return nil
}
