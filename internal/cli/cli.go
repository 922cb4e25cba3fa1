// Package cli implements the upmirror command-line interface.
//
// Two daemons share one binary: "sync" runs the feed synchronizer and
// "serve" runs the npm-protocol adapter. Both read the same configuration
// (TOML file plus environment) and talk to the same metadata store; they
// share no other state.
package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/upmirror/pkg/buildinfo"
	"github.com/matzehuels/upmirror/pkg/config"
	"github.com/matzehuels/upmirror/pkg/mirror"
	"github.com/matzehuels/upmirror/pkg/registry"
	"github.com/matzehuels/upmirror/pkg/store"
)

// appName is the application name used for display.
const appName = "upmirror"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "upmirror mirrors private feed metadata behind an npm-style registry",
		Long:         `upmirror keeps a local mirror of the package metadata in an authenticated artifact feed and re-exposes it through the npm registry protocol, so package managers can browse and search a catalog the feed itself cannot list. Package archives are still fetched from the feed directly with the client's own credentials.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to TOML config file (optional; env vars override)")

	root.AddCommand(c.syncCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads configuration from the optional file and the environment.
func (c *CLI) loadConfig() (*config.Config, error) {
	return config.Load(c.configPath)
}

// metadataStore is the full store surface the commands wire up.
type metadataStore interface {
	mirror.Upserter
	registry.Store
	DeleteAll(ctx context.Context) error
}

// openStore builds the configured store backend. The returned cleanup is
// never nil.
func (c *CLI) openStore(ctx context.Context, cfg *config.Config) (metadataStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		c.Logger.Warn("using in-memory store, data will not survive a restart")
		return store.NewMemory(), func() {}, nil
	default:
		m, err := store.NewMongo(ctx, store.MongoConfig{
			URI:      cfg.MongoURI(),
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := m.Close(context.Background()); err != nil {
				c.Logger.Debug("close store", "err", err)
			}
		}
		return m, cleanup, nil
	}
}
