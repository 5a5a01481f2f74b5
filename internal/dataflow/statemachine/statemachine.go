// Package statemachine enforces the legal node status transitions (§4.4).
package statemachine

import (
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// legal maps a source status to the set of statuses it may transition to.
// template has no outgoing edges: templates are cloned, never transitioned.
var legal = map[model.NodeStatus]map[model.NodeStatus]bool{
	model.NodePending: {
		model.NodeRunning:  true,
		model.NodeCanceled: true,
	},
	model.NodeRunning: {
		model.NodeCompleted: true,
		model.NodeFailed:    true,
		model.NodeCanceled:  true,
	},
}

// Validate reports whether transitioning a node from `from` to `to` is
// legal; it returns an *model.EngineError coded invalid_transition otherwise.
func Validate(from, to model.NodeStatus) error {
	if from == to {
		return model.NewError(model.ErrInvalidTransition, "node already in status %s", from)
	}
	allowed, ok := legal[from]
	if !ok || !allowed[to] {
		return model.NewError(model.ErrInvalidTransition, "cannot transition %s -> %s", from, to)
	}
	return nil
}

// CanDispatch reports whether a node in status `from` may be dispatched by
// the scheduler (pending -> running).
func CanDispatch(from model.NodeStatus) bool {
	return Validate(from, model.NodeRunning) == nil
}
