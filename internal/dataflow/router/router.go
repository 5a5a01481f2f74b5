// Package router implements the Data Router (§4.3): given a node's produced
// output or error, it resolves the node's declared data_targets/
// error_targets, encodes and routes the content to each satisfied target,
// and returns the command batch (data items + the producing node's terminal
// status) for the scheduler to apply in one transaction.
package router

import (
	"context"
	"encoding/json"

	"github.com/lyzr/dataflow-engine/internal/dataflow/cas"
	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// offloadThreshold is the encoded-size cutoff above which a routed item's
// content is stored in the CAS instead of inline, if a CAS client is
// configured (§4.1).
const offloadThreshold = 32 * 1024

// Router resolves targets and builds the data/status command batch for one
// node outcome.
type Router struct {
	eval *condition.Evaluator
	cas  cas.Client // optional; nil disables offload
}

// New constructs a Router. casClient may be nil to disable CAS offload.
func New(eval *condition.Evaluator, casClient cas.Client) *Router {
	return &Router{eval: eval, cas: casClient}
}

// Route builds create_data commands for every target whose `when` predicate
// (if any) is satisfied, plus the final status command for the producing
// node. discriminator is recorded on each created item ("success"/"error").
// nodeExists, if non-nil, is consulted per target with a declared node_id;
// a target naming a node that no longer exists is dropped silently (§4.3).
func (r *Router) Route(node *model.Node, success bool, value any, targetsKey string, nodeExists func(id string) bool) ([]model.Command, error) {
	targets := parseTargets(node.Config, targetsKey)
	if nodeExists != nil {
		filtered := targets[:0]
		for _, t := range targets {
			if t.NodeID != "" && !nodeExists(t.NodeID) {
				continue
			}
			filtered = append(filtered, t)
		}
		targets = filtered
	}

	discriminator := "success"
	statusCmd := model.Command{Type: model.CommandCompleteNode, Payload: map[string]any{"node_id": node.ID}}
	if !success {
		discriminator = "error"
		errCode, _ := value.(errorValue)
		msg := ""
		code := model.ErrFunctionExecutionFailed
		if errCode.code != "" {
			code = errCode.code
			msg = errCode.message
		}
		statusCmd = model.Command{Type: model.CommandFailNode, Payload: map[string]any{
			"node_id": node.ID, "error_code": string(code), "error_message": msg,
		}}
		value = errCode.payload
	}

	var cmds []model.Command
	for _, target := range targets {
		if target.When != "" {
			ok, err := r.eval.EvaluateBool(target.When, value, nil)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		content, contentType, err := r.encode(value, target.ContentType)
		if err != nil {
			return nil, err
		}

		cmds = append(cmds, model.Command{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id":       model.NewID(),
			"data_type":     string(target.DataType),
			"node_id":       target.NodeID,
			"key":           target.Key,
			"content":       content,
			"content_type":  contentType,
			"discriminator": discriminator,
		}})
	}
	cmds = append(cmds, statusCmd)
	return cmds, nil
}

// errorValue carries a coded failure through Route's success=false path.
type errorValue struct {
	code    model.ErrorCode
	message string
	payload any
}

// NewErrorValue wraps err's code/message as a routable error value.
func NewErrorValue(err error, payload any) errorValue {
	return errorValue{code: model.CodeOf(err), message: err.Error(), payload: payload}
}

func (r *Router) encode(value any, forcedContentType string) (any, string, error) {
	contentType := forcedContentType
	if contentType == "" {
		if _, isString := value.(string); isString {
			contentType = model.ContentText
		} else {
			contentType = model.ContentJSON
		}
	}

	var encoded any = value
	if contentType == model.ContentJSON {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, "", model.WrapError(model.ErrInvalidInputStructure, err, "failed to encode routed content as JSON")
		}
		encoded = string(raw)

		if r.cas != nil && len(raw) > offloadThreshold {
			ref, err := r.cas.Put(context.Background(), raw)
			if err != nil {
				return nil, "", err
			}
			return ref, model.ContentReference, nil
		}
	}
	return encoded, contentType, nil
}

// parseTargets reads node.Config[targetsKey] ("data_targets" or
// "error_targets") into DataTarget structs; malformed or missing targets
// are dropped rather than erroring, matching §4.3's "targets are additive,
// not required".
func parseTargets(config map[string]any, targetsKey string) []model.DataTarget {
	raw, ok := config[targetsKey].([]any)
	if !ok {
		return nil
	}
	targets := make([]model.DataTarget, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := model.DataTarget{
			DataType:    model.DataType(asString(m["data_type"])),
			NodeID:      asString(m["node_id"]),
			Key:         asString(m["key"]),
			ContentType: asString(m["content_type"]),
			When:        asString(m["when"]),
		}
		if t.DataType == "" {
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
