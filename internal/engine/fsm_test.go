package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/pkg/schema"
)

// captureAppender records emitted events in order.
type captureAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (c *captureAppender) AppendEvent(_ context.Context, event *store.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureAppender) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestRunFSM_Lifecycle(t *testing.T) {
	appender := &captureAppender{}
	fsm := NewRunFSM(appender)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusPending, schema.RunStatusActive))
	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusActive, schema.RunStatusCompleted))

	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunCompleted}, appender.types())
}

func TestRunFSM_InvalidTransitions(t *testing.T) {
	fsm := NewRunFSM(&captureAppender{})
	ctx := context.Background()

	tests := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusPending, schema.RunStatusCompleted},
		{schema.RunStatusCompleted, schema.RunStatusActive},
		{schema.RunStatusFailed, schema.RunStatusActive},
		{schema.RunStatusStopped, schema.RunStatusCompleted},
	}

	for _, tt := range tests {
		err := fsm.Transition(ctx, "r1", tt.from, tt.to)
		requireCode(t, err, schema.ErrCodeInvalidTransition)
	}
}

func TestNodeFSM_Lifecycle(t *testing.T) {
	appender := &captureAppender{}
	fsm := NewNodeFSM(appender)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "r1", "n1", schema.NodeStatusIdle, schema.NodeStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "r1", "n1", schema.NodeStatusRunning, schema.NodeStatusError))

	assert.Equal(t, []string{schema.EventNodeStarted, schema.EventNodeFailed}, appender.types())
	assert.Equal(t, "n1", appender.events[0].NodeID)
}

func TestNodeFSM_TerminalStatesSealed(t *testing.T) {
	fsm := NewNodeFSM(&captureAppender{})
	ctx := context.Background()

	err := fsm.Transition(ctx, "r1", "n1", schema.NodeStatusSuccess, schema.NodeStatusRunning)
	requireCode(t, err, schema.ErrCodeInvalidTransition)

	err = fsm.Transition(ctx, "r1", "n1", schema.NodeStatusError, schema.NodeStatusRunning)
	requireCode(t, err, schema.ErrCodeInvalidTransition)

	err = fsm.Transition(ctx, "r1", "n1", schema.NodeStatusIdle, schema.NodeStatusSuccess)
	requireCode(t, err, schema.ErrCodeInvalidTransition)
}

func TestFSMHooks(t *testing.T) {
	fsm := NewRunFSM(&captureAppender{})
	ctx := context.Background()

	var order []string
	fsm.OnBefore(schema.RunStatusPending, schema.RunStatusActive, func(from, to string) error {
		order = append(order, "before:"+from+">"+to)
		return nil
	})
	fsm.OnAfter(schema.RunStatusPending, schema.RunStatusActive, func(from, to string) error {
		order = append(order, "after:"+from+">"+to)
		return nil
	})

	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusPending, schema.RunStatusActive))
	assert.Equal(t, []string{"before:pending>active", "after:pending>active"}, order)
}

func TestTerminalPredicates(t *testing.T) {
	assert.True(t, IsTerminalRun(schema.RunStatusCompleted))
	assert.True(t, IsTerminalRun(schema.RunStatusFailed))
	assert.True(t, IsTerminalRun(schema.RunStatusStopped))
	assert.False(t, IsTerminalRun(schema.RunStatusActive))

	assert.True(t, IsTerminalNode(schema.NodeStatusSuccess))
	assert.True(t, IsTerminalNode(schema.NodeStatusError))
	assert.False(t, IsTerminalNode(schema.NodeStatusRunning))
}
