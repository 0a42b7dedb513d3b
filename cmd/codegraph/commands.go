package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/DeusData/codegraph/internal/config"
	"github.com/DeusData/codegraph/internal/cypher"
	"github.com/DeusData/codegraph/internal/discover"
	"github.com/DeusData/codegraph/internal/metrics"
	"github.com/DeusData/codegraph/internal/pipeline"
	"github.com/DeusData/codegraph/internal/store"
	"github.com/DeusData/codegraph/internal/tools"
	"github.com/DeusData/codegraph/internal/watcher"
)

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// session is the store and tool server shared by one command invocation.
type session struct {
	cfg   config.Config
	store *store.Store
	srv   *tools.Server
}

func (g *globalFlags) open(root string, m *metrics.Metrics) (*session, error) {
	cfg, err := g.loadConfig(root)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	tools.Version = version
	return &session{
		cfg:   cfg,
		store: st,
		srv:   tools.NewServer(cfg, st, tools.WithLogger(slog.Default()), tools.WithMetrics(m)),
	}, nil
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("store.close", "err", err)
		}
	}
}

func newIndexCmd(g *globalFlags) *cobra.Command {
	var jsonOut, mode string
	cmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Index a source tree and print run statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := rootArg(args)
			s, err := g.open(root, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			if mode != "" {
				s.cfg.Persistence.Mode = mode
				if err := s.cfg.Validate(); err != nil {
					return err
				}
				s.srv = tools.NewServer(s.cfg, s.store, tools.WithLogger(slog.Default()))
			}

			res, err := s.srv.Index(cmd.Context(), root)
			if err != nil {
				return err
			}
			if jsonOut != "" {
				if err := writeGraph(jsonOut, res); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), summary(res))
		},
	}
	cmd.Flags().StringVar(&jsonOut, "json-out", "", "write the full graph as JSON to this file")
	cmd.Flags().StringVar(&mode, "mode", "", "persistence mode: batched, bulk or direct")
	return cmd
}

func summary(res *pipeline.Result) map[string]any {
	out := map[string]any{
		"files":         res.Files,
		"parsed":        res.Parsed,
		"failed":        res.Failed,
		"nodes":         res.Graph.NodeCount(),
		"relationships": res.Graph.RelationshipCount(),
		"labels":        res.Graph.CountByLabel(),
		"types":         res.Graph.CountByType(),
		"imports":       res.Imports,
		"calls":         res.Calls,
		"cache":         res.Cache,
		"elapsed":       res.Elapsed.String(),
	}
	if res.Persist != nil {
		out["persist"] = res.Persist
	}
	return out
}

func writeGraph(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := res.Graph.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write graph: %w", err)
	}
	return f.Close()
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var root string
	var maxRows int
	cmd := &cobra.Command{
		Use:   "query <cypher>",
		Short: "Run a Cypher query against the store, or against a fresh in-memory index of --root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(root, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			var src cypher.Source
			if s.store != nil {
				src = s.store
			} else {
				res, err := s.srv.Index(cmd.Context(), root)
				if err != nil {
					return err
				}
				src = res.Graph
			}
			exec := &cypher.Executor{Source: src, MaxRows: maxRows}
			result, err := exec.Execute(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "project root indexed when no store is configured")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "row cap (default 200)")
	return cmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var root, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := startMetrics(ctx, metricsAddr)
			s, err := g.open(root, m)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "directory the config file is looked up in")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var metricsAddr string
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Index a source tree and re-index it whenever it changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root := rootArg(args)
			m := startMetrics(ctx, metricsAddr)
			s, err := g.open(root, m)
			if err != nil {
				return err
			}
			defer s.Close()

			index := func(ctx context.Context, root string) error {
				res, err := s.srv.Index(ctx, root)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summary(res))
			}
			if err := index(ctx, root); err != nil {
				return err
			}

			w, err := watcher.New(root, discover.Options{
				Patterns:         s.cfg.Ignore.Patterns,
				RespectGitignore: s.cfg.Ignore.RespectGitignore,
			}, index, watcher.WithDebounce(debounce))
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "quiet period before re-indexing")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// startMetrics serves a fresh registry on addr until ctx is done. It
// returns nil collectors when addr is empty.
func startMetrics(ctx context.Context, addr string) *metrics.Metrics {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics.serve", "addr", addr, "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("metrics.listen", "addr", addr)
	return m
}
