package funcnode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

type fakeFacade struct {
	mu        sync.Mutex
	config    map[string]any
	inputs    []*model.Data
	inputsErr error
	cancelled chan struct{}

	completedResult any
	completedMsg    string
	failedCode      model.ErrorCode
	failedMsg       string
	done            chan struct{}
}

func newFakeFacade(config map[string]any, inputs []*model.Data) *fakeFacade {
	return &fakeFacade{
		config:    config,
		inputs:    inputs,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}, 1),
	}
}

func (f *fakeFacade) NodeID() string      { return "n1" }
func (f *fakeFacade) DataflowID() string  { return "df1" }
func (f *fakeFacade) Config() map[string]any { return f.config }

func (f *fakeFacade) Inputs(ctx context.Context) ([]*model.Data, error) {
	return f.inputs, f.inputsErr
}

func (f *fakeFacade) CreateData(ctx context.Context, d model.Data) error { return nil }

func (f *fakeFacade) Command(ctx context.Context, cmds []model.Command) error { return nil }

func (f *fakeFacade) Yield(ctx context.Context, runNodes []string) error { return nil }

func (f *fakeFacade) Complete(ctx context.Context, result any, message string) error {
	f.mu.Lock()
	f.completedResult = result
	f.completedMsg = message
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeFacade) Fail(ctx context.Context, code model.ErrorCode, message string) error {
	f.mu.Lock()
	f.failedCode = code
	f.failedMsg = message
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeFacade) Cancelled() <-chan struct{} { return f.cancelled }

func TestRun_Success(t *testing.T) {
	reg := functions.NewRegistry()
	rt := New(reg)

	f := newFakeFacade(
		map[string]any{"func_id": "echo"},
		[]*model.Data{{ID: "d1", Key: "default", Content: "hello"}},
	)
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, "hello", f.completedResult)
	assert.Empty(t, f.failedCode)
}

func TestRun_MissingFuncID(t *testing.T) {
	reg := functions.NewRegistry()
	rt := New(reg)

	f := newFakeFacade(map[string]any{}, nil)
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrMissingFuncID, f.failedCode)
}

func TestRun_NoInputData(t *testing.T) {
	reg := functions.NewRegistry()
	rt := New(reg)

	f := newFakeFacade(map[string]any{"func_id": "echo"}, nil)
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrNoInputData, f.failedCode)
}

func TestRun_UnknownFunction(t *testing.T) {
	reg := functions.NewRegistry()
	rt := New(reg)

	f := newFakeFacade(
		map[string]any{"func_id": "does_not_exist"},
		[]*model.Data{{ID: "d1", Content: "x"}},
	)
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrMissingFuncID, f.failedCode)
}

func TestRun_Cancellation(t *testing.T) {
	reg := functions.NewRegistry()
	blocked := make(chan struct{})
	reg.Register("slow", func(ctx context.Context, input any, fnContext map[string]any) (any, error) {
		close(blocked)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rt := New(reg)

	f := newFakeFacade(
		map[string]any{"func_id": "slow"},
		[]*model.Data{{ID: "d1", Content: "x"}},
	)

	go rt.Run(context.Background(), f)

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("function never started")
	}
	close(f.cancelled)

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("run never reported cancellation outcome")
	}
	require.Equal(t, model.ErrFunctionCanceled, f.failedCode)
}

func TestSelectInput_PrefersDefaultKey(t *testing.T) {
	v, err := selectInput([]*model.Data{
		{Key: "a", Content: 1},
		{Key: "default", Content: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSelectInput_MergesKeyedInputs(t *testing.T) {
	v, err := selectInput([]*model.Data{
		{Key: "a", Content: 1},
		{Key: "b", Content: 2},
	})
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, 2, m["b"])
}
