// Package template builds the in-memory Template Graph a map-reduce node
// iterates over: the DAG of prototype nodes marked template, with cycle
// detection and root discovery.
package template

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/patch"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// Graph is the derived template DAG for one parent map-reduce node.
type Graph struct {
	Nodes map[string]*model.Node   // prototype id -> prototype
	Edges map[string]map[string]bool // prototype id -> set of prototype ids it targets
	Roots []string                 // prototypes with no incoming intra-template edge
}

// IsRoot reports whether protoID is one of the graph's roots.
func (g *Graph) IsRoot(protoID string) bool {
	for _, id := range g.Roots {
		if id == protoID {
			return true
		}
	}
	return false
}

// Build fetches every template-status child of parentNodeID, applies any
// pending template patch (§2.3), then derives edges and roots from
// data_targets/error_targets. Targets outside the template set are ignored
// for graph purposes (they still route normally once the clone executes).
func Build(ctx context.Context, st store.Store, dataflowID, parentNodeID string) (*Graph, error) {
	children, err := st.ListNodes(ctx, dataflowID, model.ListFilter{ParentID: parentNodeID, Status: string(model.NodeTemplate)})
	if err != nil {
		return nil, model.WrapError(model.ErrTemplateDiscoveryFailed, err, "failed to list template children of %s", parentNodeID)
	}
	if len(children) == 0 {
		return nil, model.NewError(model.ErrNoTemplates, "node %s has no template children", parentNodeID)
	}

	ops, hasPatch, err := st.GetTemplatePatch(ctx, dataflowID, parentNodeID)
	if err != nil {
		return nil, model.WrapError(model.ErrTemplateDiscoveryFailed, err, "failed to load template patch for %s", parentNodeID)
	}
	if hasPatch && len(ops) > 0 {
		children, err = patch.Apply(children, ops)
		if err != nil {
			return nil, model.WrapError(model.ErrTemplateDiscoveryFailed, err, "failed to apply template patch for %s", parentNodeID)
		}
	}

	g := &Graph{
		Nodes: make(map[string]*model.Node, len(children)),
		Edges: make(map[string]map[string]bool, len(children)),
	}
	for _, n := range children {
		g.Nodes[n.ID] = n
		g.Edges[n.ID] = make(map[string]bool)
	}

	incoming := make(map[string]int, len(children))
	for id := range g.Nodes {
		incoming[id] = 0
	}
	for _, n := range children {
		for _, targetID := range targetNodeIDs(n.Config) {
			if _, inSet := g.Nodes[targetID]; !inSet || targetID == n.ID {
				continue
			}
			if !g.Edges[n.ID][targetID] {
				g.Edges[n.ID][targetID] = true
				incoming[targetID]++
			}
		}
	}

	for id, count := range incoming {
		if count == 0 {
			g.Roots = append(g.Roots, id)
		}
	}
	if len(g.Roots) == 0 {
		return nil, model.NewError(model.ErrTemplateDiscoveryFailed, "template graph for %s has no roots (every prototype is on a cycle)", parentNodeID)
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}
	return g, nil
}

// targetNodeIDs extracts every node_id referenced by a prototype's
// data_targets/error_targets config entries.
func targetNodeIDs(config map[string]any) []string {
	var ids []string
	for _, key := range []string{"data_targets", "error_targets"} {
		raw, ok := config[key].([]any)
		if !ok {
			continue
		}
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := m["node_id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// detectCycle runs DFS with an explicit recursion stack over every node
// (not only the roots, since a cycle disjoint from the root set must still
// be caught).
func detectCycle(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for next := range g.Edges[id] {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				return model.NewError(model.ErrTemplateDiscoveryFailed, "template graph contains a cycle through %s", next)
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
