package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/accesscontrol"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/identity"
	"github.com/lorekeep/lorekeep/internal/store"
)

var (
	configPath string
	pgDSN      string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lorekeep",
		Short: "Lorekeep - multi-tenant knowledge-store control plane",
		Long:  "Manages dataset ownership, per-dataset storage provisioning, access control and retention",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (JSON)")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg", "", "Postgres DSN")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level")

	rootCmd.AddCommand(
		daemonCmd(),
		userCmd(),
		tenantCmd(),
		roleCmd(),
		grantCmd(),
		provisionCmd(),
		retentionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers file, environment and flag overrides over the defaults.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	return cfg, nil
}

func openStore(ctx context.Context) (*store.PostgresStore, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func openEngine(ctx context.Context) (*accesscontrol.Engine, *store.PostgresStore, error) {
	s, _, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return accesscontrol.NewEngine(s, identity.NewResolver(s)), s, nil
}
