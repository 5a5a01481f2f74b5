package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

type nopLogger struct{}

func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Debug(msg string, args ...any) {}

func TestPublish_SendsEventOnOwnerChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, "dataflow:events:alice")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPublisher(rdb, nopLogger{})
	pub.Publish(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowCompleted}, EventCompleted)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "dataflow_completed", payload["type"])
	assert.Equal(t, "df1", payload["dataflow_id"])
}

func TestEventForStatus(t *testing.T) {
	evt, ok := EventForStatus(model.DataflowFailed)
	assert.True(t, ok)
	assert.Equal(t, EventFailed, evt)

	_, ok = EventForStatus(model.DataflowPending)
	assert.False(t, ok)
}
