package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hurtener/penguiflow-sub005/catalog"
	"github.com/hurtener/penguiflow-sub005/registry"
	"github.com/hurtener/penguiflow-sub005/tool"
)

func newTestDispatcher(t *testing.T, impl tool.Func, timeoutSeconds float64) (*Dispatcher, tool.Ident) {
	t.Helper()
	c := catalog.New()
	r := registry.New()
	name := tool.New("demo", "slow")
	require.NoError(t, r.Register(name, map[string]any{}, map[string]any{}, nil))
	require.NoError(t, c.Register("demo", catalog.Descriptor{
		QualifiedName:  "slow",
		TimeoutSeconds: timeoutSeconds,
		Impl:           tool.Impl{Kind: tool.ImplNative, Native: impl},
	}))
	return New(c, r, Options{}), name
}

func TestDispatchReturnsCancelledWhenContextCancelledMidCall(t *testing.T) {
	started := make(chan struct{})
	d, name := newTestDispatcher(t, func(ctx tool.Context, input map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, 30)

	ctx, cancel := context.WithCancel(context.Background())
	call := tool.Call{Name: name, ToolCallID: "call-1", TraceID: "trace-1", Payload: map[string]any{}}

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- d.Dispatch(ctx, call, 1)
	}()

	<-started
	cancel()

	select {
	case res := <-resultCh:
		require.False(t, res.Ok())
		require.Equal(t, ClassCancelled, res.Err.Class)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after context cancellation")
	}
}

func TestDispatchReturnsTimeoutWhenToolExceedsDeadline(t *testing.T) {
	d, name := newTestDispatcher(t, func(ctx tool.Context, input map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 0.01)

	call := tool.Call{Name: name, ToolCallID: "call-2", TraceID: "trace-1", Payload: map[string]any{}}
	res := d.Dispatch(context.Background(), call, 1)

	require.False(t, res.Ok())
	require.Equal(t, ClassTimeout, res.Err.Class)
}

func TestDispatchSucceedsOnHappyPath(t *testing.T) {
	d, name := newTestDispatcher(t, func(ctx tool.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, 30)

	call := tool.Call{Name: name, ToolCallID: "call-3", TraceID: "trace-1", Payload: map[string]any{}}
	res := d.Dispatch(context.Background(), call, 1)

	require.True(t, res.Ok())
	require.Equal(t, true, res.Output["ok"])
}
