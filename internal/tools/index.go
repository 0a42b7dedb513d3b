package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/codegraph/internal/persist"
	"github.com/DeusData/codegraph/internal/pipeline"
)

func (s *Server) handleIndexRepository(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	repoPath := getStringArg(args, "repo_path")
	if repoPath == "" {
		return errResult("repo_path is required"), nil
	}
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}

	res, err := s.Index(ctx, absPath)
	if err != nil {
		return errResult(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	out := map[string]any{
		"repo_path":     absPath,
		"files":         res.Files,
		"parsed":        res.Parsed,
		"failed":        res.Failed,
		"nodes":         res.Graph.NodeCount(),
		"relationships": res.Graph.RelationshipCount(),
		"imports":       res.Imports,
		"calls":         res.Calls,
		"elapsed_ms":    res.Elapsed.Milliseconds(),
	}
	if res.Persist != nil {
		out["persist"] = res.Persist
	}
	return jsonResult(out), nil
}

// Index runs the pipeline over root, mirroring into the server's store when
// one is configured. Runs are serialized.
func (s *Server) Index(ctx context.Context, root string) (*pipeline.Result, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	opts := []pipeline.Option{pipeline.WithLogger(s.log), pipeline.WithMetrics(s.metrics)}
	var engine *persist.Engine
	if s.store != nil {
		var err error
		engine, err = persist.New(s.store, s.cfg.Persistence, persist.WithLogger(s.log), persist.WithMetrics(s.metrics))
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithEngine(engine))
	}

	p, err := pipeline.New(s.cfg, opts...)
	if err != nil {
		return nil, err
	}
	res, err := p.RunDir(ctx, root)
	if engine != nil {
		if serr := engine.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			s.log.Warn("index.shutdown.err", "err", serr)
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = res.Graph
	s.mu.Unlock()
	s.log.Info("index.done", "root", root, "nodes", res.Graph.NodeCount(), "relationships", res.Graph.RelationshipCount())
	return res, nil
}
