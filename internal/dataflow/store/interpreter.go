package store

import (
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/statemachine"
)

// applyCommand interprets a single command against a resident node/data
// snapshot. It is shared by MemoryStore (applied directly against the
// live maps) and the Postgres store (applied against rows loaded for the
// transaction, then upserted back) so the two backends can never disagree
// on command semantics.
func applyCommand(nodes map[string]*model.Node, items map[string]*model.Data, patches map[string][]map[string]any, dataflowID string, cmd model.Command) error {
	switch cmd.Type {
	case model.CommandCreateNode:
		id, _ := cmd.Payload["node_id"].(string)
		nodeType, _ := cmd.Payload["node_type"].(string)
		status := model.NodeStatus(asString(cmd.Payload["status"]))
		if status == "" {
			status = model.NodePending
		}
		if status == model.NodeTemplate && asString(cmd.Payload["parent_node_id"]) == "" {
			return model.NewError(model.ErrInvalidInputStructure, "template node must have a parent_node_id")
		}
		n := &model.Node{
			ID:           id,
			DataflowID:   dataflowID,
			Type:         nodeType,
			Status:       status,
			Config:       asMap(cmd.Payload["config"]),
			ParentNodeID: asString(cmd.Payload["parent_node_id"]),
			Metadata:     asMap(cmd.Payload["metadata"]),
		}
		if path, ok := cmd.Payload["ancestor_path"].([]string); ok {
			n.AncestorPath = path
		}
		if it, ok := cmd.Payload["iteration"].(int); ok {
			n.Iteration = it
		}
		n.TemplateSource = asString(cmd.Payload["template_source"])
		nodes[id] = n

	case model.CommandUpdateNodeStatus:
		id, _ := cmd.Payload["node_id"].(string)
		n, ok := nodes[id]
		if !ok {
			return model.NewError(model.ErrNotFound, "node %s not found", id)
		}
		newStatus := model.NodeStatus(asString(cmd.Payload["status"]))
		if err := statemachine.Validate(n.Status, newStatus); err != nil {
			return err
		}
		n.Status = newStatus
		if reason := asString(cmd.Payload["reason"]); reason != "" {
			if n.Metadata == nil {
				n.Metadata = map[string]any{}
			}
			n.Metadata["status_reason"] = reason
		}

	case model.CommandCompleteNode:
		id, _ := cmd.Payload["node_id"].(string)
		n, ok := nodes[id]
		if !ok {
			return model.NewError(model.ErrNotFound, "node %s not found", id)
		}
		if err := statemachine.Validate(n.Status, model.NodeCompleted); err != nil {
			return err
		}
		n.Status = model.NodeCompleted
		if msg := asString(cmd.Payload["message"]); msg != "" {
			if n.Metadata == nil {
				n.Metadata = map[string]any{}
			}
			n.Metadata["message"] = msg
		}

	case model.CommandFailNode:
		id, _ := cmd.Payload["node_id"].(string)
		n, ok := nodes[id]
		if !ok {
			return model.NewError(model.ErrNotFound, "node %s not found", id)
		}
		if err := statemachine.Validate(n.Status, model.NodeFailed); err != nil {
			return err
		}
		n.Status = model.NodeFailed
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		n.Metadata["error_code"] = asString(cmd.Payload["error_code"])
		n.Metadata["error_message"] = asString(cmd.Payload["error_message"])

	case model.CommandCreateData:
		id, _ := cmd.Payload["data_id"].(string)
		d := &model.Data{
			ID:            id,
			DataflowID:    dataflowID,
			DataType:      model.DataType(asString(cmd.Payload["data_type"])),
			NodeID:        asString(cmd.Payload["node_id"]),
			Key:           asString(cmd.Payload["key"]),
			Content:       cmd.Payload["content"],
			ContentType:   asString(cmd.Payload["content_type"]),
			Discriminator: asString(cmd.Payload["discriminator"]),
			Metadata:      asMap(cmd.Payload["metadata"]),
		}
		items[id] = d

	case model.CommandApplyTemplatePatch:
		parent, _ := cmd.Payload["parent_node_id"].(string)
		ops, _ := cmd.Payload["operations"].([]map[string]any)
		patches[parent] = ops

	default:
		return model.NewError(model.ErrInvalidTransition, "unhandled command type %s", cmd.Type)
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
