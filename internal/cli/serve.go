package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/upmirror/pkg/config"
	"github.com/matzehuels/upmirror/pkg/registry"
)

// serveCommand creates the "serve" daemon command.
func (c *CLI) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the npm-protocol registry adapter",
		Long: `Serve the mirrored catalog over the npm registry protocol: package
documents at /{name}, the bulk listing at /-/all, and /-/v1/search. All
responses are read from the metadata store; this process never talks to the
remote feed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context())
		},
	}
}

func (c *CLI) runServe(ctx context.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	st, cleanup, err := c.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var cache registry.Cache = registry.NewNullCache()
	if cfg.Redis.Addr != "" && cfg.Redis.CacheTTL > 0 {
		rc := registry.NewRedisCache(cfg.Redis.Addr, cfg.CacheTTLDuration())
		defer rc.Close()
		cache = rc
		c.Logger.Info("response cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.CacheTTLDuration())
	}

	dbName := cfg.Mongo.Database
	if cfg.StoreBackend == config.StoreMemory {
		dbName = config.StoreMemory
	}

	srv := registry.NewServer(st, c.Logger, registry.Options{
		License: cfg.License,
		DBName:  dbName,
		Cache:   cache,
	})

	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.ServerPort))
}
