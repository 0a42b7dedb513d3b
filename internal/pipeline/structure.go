package pipeline

import (
	"context"
	"path"
	"sort"

	"github.com/DeusData/codegraph/internal/astcache"
	"github.com/DeusData/codegraph/internal/graph"
	"github.com/DeusData/codegraph/internal/symbols"
)

// folderID and fileID are the IDs of structure nodes, which carry no line.
func folderID(dir string) string { return graph.NodeID(graph.LabelFolder, dir, path.Base(dir), 0) }
func fileID(p string) string     { return graph.NodeID(graph.LabelFile, p, path.Base(p), 0) }

// structurePhase adds Folder, File and definition nodes with their CONTAINS
// and DEFINES edges, then seals the symbol registry. Failed files get no
// node.
func (r *run) structurePhase(ctx context.Context, _ *astcache.Cache) error {
	dirs := make(map[string]bool)
	for _, fr := range r.parsed {
		for d := path.Dir(fr.path); d != "." && d != "/" && !dirs[d]; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	for _, d := range sorted {
		r.addNode(graph.NewNode(graph.LabelFolder, d, path.Base(d), 0, 0))
		if parent := path.Dir(d); dirs[parent] {
			r.addRelationship(graph.NewRelationship(graph.RelContains, folderID(parent), folderID(d), ""))
		}
	}

	r.reg = symbols.NewRegistry()
	for _, fr := range r.parsed {
		if err := ctx.Err(); err != nil {
			return err
		}
		file := graph.NewNode(graph.LabelFile, fr.path, path.Base(fr.path), 0, 0)
		file.Properties = map[string]any{"language": string(fr.lang)}
		r.addNode(file)
		if parent := path.Dir(fr.path); dirs[parent] {
			r.addRelationship(graph.NewRelationship(graph.RelContains, folderID(parent), file.ID, ""))
		}
		for _, def := range fr.defs {
			if err := r.reg.Add(def); err != nil {
				return err
			}
			r.addNode(def.Node())
			r.addRelationship(graph.NewRelationship(graph.RelDefines, file.ID, def.NodeID, ""))
		}
	}

	// Methods declared inside a class body hang off that class.
	for _, fr := range r.parsed {
		for _, def := range fr.defs {
			if def.Kind != symbols.KindMethod || def.Parent == "" {
				continue
			}
			if owner, ok := r.owner(def); ok {
				r.addRelationship(graph.NewRelationship(graph.RelContains, owner.NodeID, def.NodeID, ""))
			}
		}
	}
	r.reg.Seal()
	r.log.Info("pipeline.registry", "definitions", r.reg.Len())
	return nil
}

// owner returns the innermost type named def.Parent whose body contains def.
func (r *run) owner(def symbols.Definition) (symbols.Definition, bool) {
	var best symbols.Definition
	found := false
	for _, c := range r.reg.FindInSameFile(def.FilePath, def.Parent) {
		if !c.Kind.TypeLike() || !c.Contains(def.StartLine) || c.NodeID == def.NodeID {
			continue
		}
		if !found || c.StartLine > best.StartLine {
			best, found = c, true
		}
	}
	return best, found
}
