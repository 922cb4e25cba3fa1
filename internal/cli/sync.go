package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/upmirror/pkg/mirror"
	"github.com/matzehuels/upmirror/pkg/upstream"
)

// syncCommand creates the "sync" daemon command.
func (c *CLI) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the feed synchronizer daemon",
		Long: `Periodically reconcile the remote feed's package catalog into the
metadata store. Each cycle lists every package in the feed, fetches its full
version metadata, and replaces the stored record. A single broken package
never blocks the rest of the catalog.

Set WIPE_DB (or wipe_db in the config file) to wipe the store once before
the first cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSync(cmd.Context())
		},
	}
}

func (c *CLI) runSync(ctx context.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSync(); err != nil {
		return err
	}

	st, cleanup, err := c.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	catalog, err := upstream.New(upstream.Config{
		Org:  cfg.Org,
		Feed: cfg.Feed,
		PAT:  cfg.PAT,
	}, c.Logger)
	if err != nil {
		return err
	}

	c.Logger.Info("starting synchronizer",
		"org", cfg.Org,
		"feed", cfg.Feed,
		"interval", cfg.RefreshInterval())

	return c.startSync(ctx, st, catalog, cfg.WipeDB, mirror.Options{
		FallbackAuthor: cfg.FallbackAuthor,
		Interval:       cfg.RefreshInterval(),
		Workers:        cfg.SyncWorkers,
		FetchTimeout:   cfg.FetchTimeoutDuration(),
	})
}

// startSync optionally wipes the store, then runs the synchronizer until
// ctx is cancelled. The wipe runs exactly once, before the first cycle, and
// is never rescheduled. A failed wipe aborts startup rather than risking a
// half-cleared catalog.
func (c *CLI) startSync(ctx context.Context, st metadataStore, catalog mirror.Catalog, wipe bool, opts mirror.Options) error {
	if wipe {
		c.Logger.Warn("wiping metadata store before first sync cycle")
		if err := st.DeleteAll(ctx); err != nil {
			return err
		}
	}
	return mirror.New(catalog, st, c.Logger, opts).Run(ctx)
}
