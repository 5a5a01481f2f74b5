package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/statemachine"
)

// MemoryStore is an in-process Store backed by plain maps guarded by a
// mutex, in the spirit of the teacher's MemoryQueue/MemoryCache: a
// dependency-free stand-in that is wired directly into production for
// single-process deployments and used throughout the test suite.
type MemoryStore struct {
	mu sync.Mutex

	dataflows map[string]*model.Dataflow
	nodes     map[string]map[string]*model.Node // dataflowID -> nodeID -> node
	data      map[string]map[string]*model.Data  // dataflowID -> dataID -> data
	commands  map[string][]model.Command         // dataflowID -> applied commands, in seq order
	seq       map[string]int64
	patches   map[string]map[string][]map[string]any // dataflowID -> parentNodeID -> ops
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dataflows: make(map[string]*model.Dataflow),
		nodes:     make(map[string]map[string]*model.Node),
		data:      make(map[string]map[string]*model.Data),
		commands:  make(map[string][]model.Command),
		seq:       make(map[string]int64),
		patches:   make(map[string]map[string][]map[string]any),
	}
}

func (s *MemoryStore) CreateDataflow(ctx context.Context, df *model.Dataflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dataflows[df.ID]; exists {
		return model.NewError(model.ErrConflict, "dataflow %s already exists", df.ID)
	}
	cp := *df
	s.dataflows[df.ID] = &cp
	s.nodes[df.ID] = make(map[string]*model.Node)
	s.data[df.ID] = make(map[string]*model.Data)
	s.patches[df.ID] = make(map[string][]map[string]any)
	return nil
}

func (s *MemoryStore) GetDataflow(ctx context.Context, id string) (*model.Dataflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	df, ok := s.dataflows[id]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", id)
	}
	cp := *df
	return &cp, nil
}

func (s *MemoryStore) UpdateDataflowStatus(ctx context.Context, dataflowID string, status model.DataflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	df, ok := s.dataflows[dataflowID]
	if !ok {
		return model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	df.Status = status
	df.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListDataflows(ctx context.Context, filter model.ListFilter) ([]*model.Dataflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Dataflow
	for _, df := range s.dataflows {
		if filter.Owner != "" && df.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && string(df.Status) != filter.Status {
			continue
		}
		cp := *df
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	limit, offset := model.ClampPage(filter.Limit, filter.Offset)
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *MemoryStore) GetNode(ctx context.Context, dataflowID, id string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, ok := s.nodes[dataflowID]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	n, ok := nodes[id]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "node %s not found", id)
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, ok := s.nodes[dataflowID]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	var out []*model.Node
	for _, n := range nodes {
		if filter.ParentID != "" && n.ParentNodeID != filter.ParentID {
			continue
		}
		if filter.Status != "" && string(n.Status) != filter.Status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetData(ctx context.Context, dataflowID, id string, resolveReferences bool) (*model.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDataLocked(dataflowID, id, resolveReferences)
}

func (s *MemoryStore) getDataLocked(dataflowID, id string, resolveReferences bool) (*model.Data, error) {
	items, ok := s.data[dataflowID]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	d, ok := items[id]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "data %s not found", id)
	}
	cp := *d
	if resolveReferences && cp.IsReference() {
		targetID, _ := cp.Content.(string)
		target, ok := items[targetID]
		if !ok {
			return nil, model.NewError(model.ErrNotFound, "reference target %s not found", targetID)
		}
		if target.IsReference() {
			return nil, model.NewError(model.ErrInvalidInputStructure, "reference chains longer than 1 hop are not followed")
		}
		tcp := *target
		return &tcp, nil
	}
	return &cp, nil
}

func (s *MemoryStore) ListData(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.data[dataflowID]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	var out []*model.Data
	for _, d := range items {
		if filter.NodeID != "" && d.NodeID != filter.NodeID {
			continue
		}
		if filter.DataType != "" && string(d.DataType) != filter.DataType {
			continue
		}
		if filter.Key != "" && d.Key != filter.Key {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) LastSequence(ctx context.Context, dataflowID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[dataflowID], nil
}

func (s *MemoryStore) ReplayCommands(ctx context.Context, dataflowID string, afterSeq int64) ([]model.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Command
	for _, c := range s.commands[dataflowID] {
		if c.Seq > afterSeq {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTemplatePatch(ctx context.Context, dataflowID, parentNodeID string) ([]map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byParent, ok := s.patches[dataflowID]
	if !ok {
		return nil, false, nil
	}
	ops, ok := byParent[parentNodeID]
	return ops, ok, nil
}

// AppendCommands performs the CAS-guarded single write primitive: it checks
// sequenceExpected against the current counter, then applies every command
// in the batch in order. The batch is all-or-nothing: commands are replayed
// against cloned node/data/patch maps first, and the live state is only
// swapped in once every command in the batch has applied cleanly, matching
// the Postgres backend's transactional behavior (a mid-transaction error
// rolls back the whole write, never a prefix of it).
func (s *MemoryStore) AppendCommands(ctx context.Context, dataflowID string, sequenceExpected int64, commands []model.Command) ([]model.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dataflows[dataflowID]; !ok {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}

	current := s.seq[dataflowID]
	if current != sequenceExpected {
		return nil, model.NewError(model.ErrConflict, "sequence mismatch: expected %d, got %d", sequenceExpected, current)
	}

	nodes := cloneNodes(s.nodes[dataflowID])
	items := cloneData(s.data[dataflowID])
	patches := clonePatches(s.patches[dataflowID])

	now := time.Now()
	applied := make([]model.Command, 0, len(commands))
	for _, cmd := range commands {
		if !model.ValidCommandType(cmd.Type) {
			return nil, model.NewError(model.ErrInvalidTransition, "unknown command type %s", cmd.Type)
		}
		if err := applyCommand(nodes, items, patches, dataflowID, cmd); err != nil {
			return nil, err
		}
		current++
		cmd.Seq = current
		cmd.DataflowID = dataflowID
		appliedAt := now
		cmd.AppliedAt = &appliedAt
		applied = append(applied, cmd)
	}

	s.nodes[dataflowID] = nodes
	s.data[dataflowID] = items
	s.patches[dataflowID] = patches
	s.commands[dataflowID] = append(s.commands[dataflowID], applied...)
	s.seq[dataflowID] = current
	return applied, nil
}

func cloneNodes(in map[string]*model.Node) map[string]*model.Node {
	out := make(map[string]*model.Node, len(in))
	for k, v := range in {
		cp := *v
		if v.Metadata != nil {
			cp.Metadata = make(map[string]any, len(v.Metadata))
			for mk, mv := range v.Metadata {
				cp.Metadata[mk] = mv
			}
		}
		out[k] = &cp
	}
	return out
}

func cloneData(in map[string]*model.Data) map[string]*model.Data {
	out := make(map[string]*model.Data, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

func clonePatches(in map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
