// Package model holds the persisted record types shared by every dataflow
// engine component: dataflows, nodes, data items, and commands.
package model

import "time"

// DataflowStatus is the top-level status of one dataflow execution instance.
type DataflowStatus string

const (
	DataflowPending    DataflowStatus = "pending"
	DataflowRunning    DataflowStatus = "running"
	DataflowCompleted  DataflowStatus = "completed"
	DataflowFailed     DataflowStatus = "failed"
	DataflowCanceled   DataflowStatus = "canceled"
	DataflowTerminated DataflowStatus = "terminated"
)

// Terminal reports whether the dataflow status accepts no further node status
// changes.
func (s DataflowStatus) Terminal() bool {
	switch s {
	case DataflowCompleted, DataflowFailed, DataflowCanceled, DataflowTerminated:
		return true
	default:
		return false
	}
}

// NodeStatus is the lifecycle status of a single node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeTemplate  NodeStatus = "template"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeCanceled  NodeStatus = "canceled"
)

// Terminal reports whether the node status is one of completed/failed/canceled.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeCanceled:
		return true
	default:
		return false
	}
}

// DataType enumerates the slot a data item occupies.
type DataType string

const (
	DataWorkflowInput  DataType = "workflow.input"
	DataWorkflowOutput DataType = "workflow.output"
	DataNodeInput      DataType = "node.input"
	DataNodeOutput     DataType = "node.output"
	DataNodeConfig     DataType = "node.config"
)

// Content types recognised by the router and by readers.
const (
	ContentJSON      = "application/json"
	ContentText      = "text/plain"
	ContentReference = "dataflow/reference"
)

// Dataflow is the top-level execution instance.
type Dataflow struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner"`
	Status    DataflowStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ParentID  string         `json:"parent_id,omitempty"` // optional, empty if top-level
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Node is one computational step inside a dataflow.
type Node struct {
	ID             string         `json:"id"`
	DataflowID     string         `json:"dataflow_id"`
	Type           string         `json:"type"`
	Status         NodeStatus     `json:"status"`
	Config         map[string]any `json:"config,omitempty"`
	ParentNodeID   string         `json:"parent_node_id,omitempty"`
	AncestorPath   []string       `json:"ancestor_path,omitempty"` // root-first, excludes the node itself
	Metadata       map[string]any `json:"metadata,omitempty"`
	Iteration      int            `json:"iteration,omitempty"`       // set on iterator clones, 0 otherwise
	TemplateSource string         `json:"template_source,omitempty"` // prototype node id this was cloned from, if any
}

// IsTemplate reports whether the node is a prototype (never itself executed).
func (n *Node) IsTemplate() bool { return n.Status == NodeTemplate }

// Data is a typed artifact: input, output, configuration value, or reference.
type Data struct {
	ID            string         `json:"id"`
	DataflowID    string         `json:"dataflow_id"`
	DataType      DataType       `json:"data_type"`
	NodeID        string         `json:"node_id,omitempty"` // optional, set for node.input/node.output
	Key           string         `json:"key,omitempty"`
	Content       any            `json:"content"`
	ContentType   string         `json:"content_type"`
	Discriminator string         `json:"discriminator,omitempty"` // optional, e.g. "success"/"error"
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IsReference reports whether the item is a one-hop pointer to another item.
func (d *Data) IsReference() bool { return d.ContentType == ContentReference }

// DataTarget declares a destination for a node's produced output or error.
type DataTarget struct {
	DataType    DataType `json:"data_type"`
	NodeID      string   `json:"node_id,omitempty"`
	Key         string   `json:"key,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	When        string   `json:"when,omitempty"` // optional CEL predicate
}

// Command is a record in the append-only log describing an intended mutation.
type Command struct {
	DataflowID string
	Seq        int64
	Type       CommandType
	Payload    map[string]any
	AppliedAt  *time.Time
}

// Applied reports whether the command has been applied to the Store.
func (c *Command) Applied() bool { return c.AppliedAt != nil }

// CommandType is a tagged-union enum for the dispatch family of command
// types; unknown values are rejected at decode time rather than dispatched.
type CommandType string

const (
	CommandCreateNode         CommandType = "create_node"
	CommandUpdateNodeStatus   CommandType = "update_node_status"
	CommandCreateData         CommandType = "create_data"
	CommandCompleteNode       CommandType = "complete_node"
	CommandFailNode           CommandType = "fail_node"
	CommandApplyTemplatePatch CommandType = "apply_template_patch"
)

// ValidCommandType reports whether t is one of the enumerated command types.
func ValidCommandType(t CommandType) bool {
	switch t {
	case CommandCreateNode, CommandUpdateNodeStatus, CommandCreateData,
		CommandCompleteNode, CommandFailNode, CommandApplyTemplatePatch:
		return true
	default:
		return false
	}
}

// ListFilter narrows a List query; zero values are "don't filter".
type ListFilter struct {
	Owner      string
	Status     string
	ParentID   string
	NodeID     string
	DataType   string
	Key        string
	Limit      int
	Offset     int
}

// Page bounds applied uniformly across list queries (§4.1: cap page size at 100).
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ClampPage normalises limit/offset to the documented bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
