// Package iterator clones a Template Graph into a fresh subgraph per input
// item (§4.6): every prototype gets a new identifier, intra-subgraph
// targets are rewritten via a generated JSON-Patch document, and the root
// clone(s) are seeded with the iteration's input item.
package iterator

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/template"
)

// Clone is one materialised iteration: the create_node commands for every
// cloned prototype plus the root node.input data item that seeds it.
type Clone struct {
	NodeCommands []model.Command
	DataCommands []model.Command
	RootNodeIDs  []string
}

// CreateIteration clones graph for a single input item, per §4.6 steps 1-5.
func CreateIteration(parent *model.Node, graph *template.Graph, item any, iterationIndex int, inputKey string) (*Clone, error) {
	idMap := make(map[string]string, len(graph.Nodes))
	for protoID := range graph.Nodes {
		idMap[protoID] = model.NewID()
	}

	clone := &Clone{}
	for protoID, proto := range graph.Nodes {
		newID := idMap[protoID]

		config, err := rewriteConfig(proto.Config, idMap)
		if err != nil {
			return nil, model.WrapError(model.ErrIterationFailed, err, "failed to rewrite config for prototype %s", protoID)
		}

		metadata := cloneMetadata(proto.Metadata, iterationIndex)

		ancestorPath := append(append([]string{}, parent.AncestorPath...), parent.ID)

		clone.NodeCommands = append(clone.NodeCommands, model.Command{
			Type: model.CommandCreateNode,
			Payload: map[string]any{
				"node_id":         newID,
				"node_type":       proto.Type,
				"status":          "pending",
				"config":          config,
				"parent_node_id":  parent.ID,
				"ancestor_path":   ancestorPath,
				"metadata":        metadata,
				"iteration":       iterationIndex,
				"template_source": protoID,
			},
		})

		if graph.IsRoot(protoID) {
			clone.RootNodeIDs = append(clone.RootNodeIDs, newID)
			clone.DataCommands = append(clone.DataCommands, model.Command{
				Type: model.CommandCreateData,
				Payload: map[string]any{
					"data_id":      model.NewID(),
					"data_type":    string(model.DataNodeInput),
					"node_id":      newID,
					"key":          inputKey,
					"content":      item,
					"content_type": contentTypeFor(item),
				},
			})
		}
	}
	return clone, nil
}

// CreateBatch iterates items[start:end), producing one Clone per item.
func CreateBatch(parent *model.Node, graph *template.Graph, items []any, start, end int, inputKey string) ([]*Clone, error) {
	if end > len(items) {
		end = len(items)
	}
	clones := make([]*Clone, 0, end-start)
	for i := start; i < end; i++ {
		c, err := CreateIteration(parent, graph, items[i], i, inputKey)
		if err != nil {
			return nil, err
		}
		clones = append(clones, c)
	}
	return clones, nil
}

// Result is one collected output from an iteration's clones.
type Result struct {
	Key           string
	Content       any
	NodeID        string
	Discriminator string
}

// CollectResults gathers every node.output item owned by a node in the
// iteration (nodeIDs) via resolve, deref'ing references. It returns a
// single value when exactly one output exists, else the slice of Results.
func CollectResults(ctx context.Context, resolve func(ctx context.Context, nodeID string) ([]*model.Data, error), nodeIDs []string) (any, error) {
	var all []*model.Data
	for _, id := range nodeIDs {
		items, err := resolve(ctx, id)
		if err != nil {
			return nil, model.WrapError(model.ErrIterationFailed, err, "failed to collect output for node %s", id)
		}
		all = append(all, items...)
	}

	if len(all) == 1 {
		return decodeContent(all[0]), nil
	}

	out := make([]Result, 0, len(all))
	for _, d := range all {
		out = append(out, Result{
			Key:           d.Key,
			Content:       decodeContent(d),
			NodeID:        d.NodeID,
			Discriminator: d.Discriminator,
		})
	}
	return out, nil
}

func decodeContent(d *model.Data) any {
	if d.ContentType != model.ContentJSON {
		return d.Content
	}
	raw, ok := d.Content.(string)
	if !ok {
		return d.Content
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return d.Content
	}
	return decoded
}

func contentTypeFor(v any) string {
	switch v.(type) {
	case string:
		return model.ContentText
	default:
		return model.ContentJSON
	}
}

func cloneMetadata(metadata map[string]any, iterationIndex int) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if title, ok := out["title"].(string); ok {
		out["title"] = fmt.Sprintf("%s (#%d)", title, iterationIndex)
	}
	return out
}

// rewriteConfig deep-copies config via JSON round-trip, then generates and
// applies a JSON-Patch document of replace operations against every
// data_targets[*]/node_id and error_targets[*]/node_id path that points at
// a prototype present in idMap. Targets outside the mapping are untouched.
func rewriteConfig(config map[string]any, idMap map[string]string) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	var ops []map[string]any
	for _, key := range []string{"data_targets", "error_targets"} {
		targets, ok := config[key].([]any)
		if !ok {
			continue
		}
		for i, t := range targets {
			m, ok := t.(map[string]any)
			if !ok {
				continue
			}
			oldID, _ := m["node_id"].(string)
			newID, mapped := idMap[oldID]
			if !mapped {
				continue
			}
			ops = append(ops, map[string]any{
				"op":    "replace",
				"path":  fmt.Sprintf("/%s/%d/node_id", key, i),
				"value": newID,
			})
		}
	}
	if len(ops) == 0 {
		var cp map[string]any
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, err
		}
		return cp, nil
	}

	opsBytes, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	patchDoc, err := jsonpatch.DecodePatch(opsBytes)
	if err != nil {
		return nil, err
	}
	patched, err := patchDoc.Apply(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, err
	}
	return out, nil
}
