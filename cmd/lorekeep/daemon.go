package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/accesscontrol"
	"github.com/lorekeep/lorekeep/internal/api"
	"github.com/lorekeep/lorekeep/internal/cache"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/identity"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/internal/provision"
	"github.com/lorekeep/lorekeep/internal/retention"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/sweeper"
)

func daemonCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the control-plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			logging.InitStructured(cfg.Observability.LogFormat, cfg.Observability.LogLevel)
			log := logging.Op()

			metrics.InitPrometheus("lorekeep")
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.TraceEnabled,
				Exporter:    "otlp-http",
				Endpoint:    cfg.Observability.TraceURL,
				ServiceName: "lorekeep",
				SampleRate:  cfg.Observability.SampleRate,
			}); err != nil {
				return err
			}

			pgStore, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer pgStore.Close()

			resolver := identity.NewResolver(pgStore)
			engine := accesscontrol.NewEngine(pgStore, resolver)

			provisioner, err := buildProvisioner(pgStore, resolver, engine, cfg)
			if err != nil {
				return err
			}

			retEngine := retention.NewEngine(pgStore.Pool(), retention.DefaultRegistry())

			var sw *sweeper.Sweeper
			if cfg.Retention.Enabled {
				sw = sweeper.New(retEngine, cfg.Retention)
				if err := sw.Start(); err != nil {
					return err
				}
			}

			server := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Store:       pgStore,
				Engine:      engine,
				Provisioner: provisioner,
				Retention:   retEngine,
			})
			log.Info("lorekeep daemon started", "addr", cfg.Daemon.HTTPAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
			defer cancel()
			server.Shutdown(shutdownCtx)
			if sw != nil {
				sw.Stop()
			}
			observability.Shutdown(shutdownCtx)
			log.Info("lorekeep daemon stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address override")
	return cmd
}

// buildProvisioner assembles the provisioner from the configured providers:
// credential cipher, managed control-plane client, and metadata cache.
func buildProvisioner(pgStore *store.PostgresStore, resolver *identity.Resolver, engine *accesscontrol.Engine, cfg *config.Config) (*provision.Provisioner, error) {
	opts := make([]provision.Option, 0, 3)

	cipher, err := provision.NewCipher(cfg.Graph.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if cipher != nil {
		opts = append(opts, provision.WithCipher(cipher))
	}

	if cfg.Graph.Provider == provision.GraphNeo4jAura {
		catalog := provision.DefaultCatalog()
		if cfg.Graph.CatalogPath != "" {
			catalog, err = provision.LoadCatalog(cfg.Graph.CatalogPath)
			if err != nil {
				return nil, err
			}
		}
		profile, err := catalog.Profile("")
		if err != nil {
			return nil, err
		}
		managed := provision.NewManagedClient(
			cfg.Graph.ControlAPIURL,
			cfg.Graph.ClientID,
			cfg.Graph.ClientSecret,
			cfg.Graph.ProjectID,
			profile,
		)
		opts = append(opts, provision.WithManagedClient(managed))
	}

	var backend cache.Cache = cache.NewInMemoryCache()
	if cfg.Redis.Enabled {
		backend = cache.NewTieredCache(backend, cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), 0)
	}
	opts = append(opts, provision.WithRecordCache(cache.NewRecordCache(backend, 0)))

	return provision.NewProvisioner(pgStore, resolver, engine, cfg.Vector, cfg.Graph, opts...), nil
}
