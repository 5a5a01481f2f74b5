// Package lifecycle publishes dataflow top-level status transitions to
// Redis pub/sub, grounded on the teacher's workflow_lifecycle.EventPublisher
// (publish to "workflow:events:<owner>"). This is a read-only side channel
// (§2.3): nothing in the engine depends on a subscriber existing.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// EventType enumerates the published lifecycle events.
type EventType string

const (
	EventStarted   EventType = "dataflow_started"
	EventCompleted EventType = "dataflow_completed"
	EventFailed    EventType = "dataflow_failed"
	EventCanceled  EventType = "dataflow_canceled"
)

// Logger is the minimal logging surface lifecycle needs.
type Logger interface {
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Publisher publishes dataflow lifecycle events on
// "dataflow:events:<owner>".
type Publisher struct {
	rdb    *redis.Client
	logger Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(rdb *redis.Client, logger Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// Publish sends evt for dataflow df on its owner's channel. Failures are
// logged and swallowed: a missing subscriber or unreachable Redis must
// never fail the dataflow transition that triggered the event.
func (p *Publisher) Publish(ctx context.Context, df *model.Dataflow, evt EventType) {
	channel := fmt.Sprintf("dataflow:events:%s", df.Owner)
	payload := map[string]any{
		"type":         string(evt),
		"dataflow_id":  df.ID,
		"status":       string(df.Status),
		"updated_at":   df.UpdatedAt,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal dataflow lifecycle event", "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.logger.Error("failed to publish dataflow lifecycle event", "channel", channel, "error", err)
		return
	}
	p.logger.Debug("published dataflow lifecycle event", "channel", channel, "type", evt)
}

// EventForStatus maps a terminal/started dataflow status to its event type;
// ok is false for a status with no corresponding event (e.g. "pending").
func EventForStatus(status model.DataflowStatus) (EventType, bool) {
	switch status {
	case model.DataflowRunning:
		return EventStarted, true
	case model.DataflowCompleted:
		return EventCompleted, true
	case model.DataflowFailed:
		return EventFailed, true
	case model.DataflowCanceled, model.DataflowTerminated:
		return EventCanceled, true
	default:
		return "", false
	}
}
