// Command codegraph indexes source trees into a code knowledge graph and
// answers Cypher queries over it.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/store"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	storePath  string
	logLevel   string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "codegraph:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "codegraph",
		Short:         "Build and query a code knowledge graph",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(g.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default <root>/"+config.FileName+")")
	pf.StringVar(&g.storePath, "store", "", "SQLite store path; overrides store.path, empty keeps the graph in memory")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		newIndexCmd(g),
		newQueryCmd(g),
		newServeCmd(g),
		newWatchCmd(g),
		newASTCmd(),
		newVersionCmd(),
	)
	return root
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("invalid --log-level %q", s)
	}
	return l, nil
}

// loadConfig reads the explicit config file, or the one at the project root.
func (g *globalFlags) loadConfig(root string) (config.Config, error) {
	path := g.configPath
	if path == "" {
		path = filepath.Join(root, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}
	return cfg, nil
}

// openStore opens the configured store, or nil when it is in memory only.
func openStore(cfg config.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	var opts []store.Option
	if cfg.Persistence.StagingDir != "" {
		opts = append(opts, store.WithStagingDir(cfg.Persistence.StagingDir))
	}
	st, err := store.Open(cfg.Store.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "codegraph", version)
		},
	}
}
