package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror mirrors the suspension table into a per-dataflow Redis hash
// (field = parent node id, value = JSON array of child node ids), grounded
// on the teacher's Redis-hash iteration counters in
// operators/control_flow.go's HandleLoop. A takeover process can rebuild
// the in-memory suspension table from this hash without rescanning the
// command log.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror constructs a RedisMirror.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

var _ SuspensionMirror = (*RedisMirror)(nil)

func suspensionKey(dataflowID string) string {
	return fmt.Sprintf("dataflow:suspensions:%s", dataflowID)
}

func (m *RedisMirror) SetSuspension(ctx context.Context, dataflowID, parentNodeID string, childNodeIDs []string) error {
	raw, err := json.Marshal(childNodeIDs)
	if err != nil {
		return err
	}
	return m.rdb.HSet(ctx, suspensionKey(dataflowID), parentNodeID, raw).Err()
}

func (m *RedisMirror) ClearSuspension(ctx context.Context, dataflowID, parentNodeID string) error {
	return m.rdb.HDel(ctx, suspensionKey(dataflowID), parentNodeID).Err()
}

// LoadSuspensions rebuilds the suspension table for dataflowID from the
// mirror, for a takeover process resuming after a crash (§4.2).
func (m *RedisMirror) LoadSuspensions(ctx context.Context, dataflowID string) (map[string][]string, error) {
	raw, err := m.rdb.HGetAll(ctx, suspensionKey(dataflowID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(raw))
	for parent, v := range raw {
		var children []string
		if err := json.Unmarshal([]byte(v), &children); err != nil {
			continue
		}
		out[parent] = children
	}
	return out, nil
}
