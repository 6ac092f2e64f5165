package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/pkg/schema"
)

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventRunStarted}))

	select {
	case e := <-ch:
		assert.Equal(t, "r1", e.RunID)
		assert.Equal(t, schema.EventRunStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestMemoryHub_FilterByRun(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "r1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r2", Type: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventNodeStarted, NodeID: "a"}))

	select {
	case e := <-ch:
		assert.Equal(t, "r1", e.RunID)
		assert.Equal(t, "a", e.NodeID)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
	assert.Empty(t, ch)
}

func TestMemoryHub_FilterByEventType(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{schema.EventNodeFailed}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventNodeStarted}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventNodeFailed, NodeID: "b"}))

	select {
	case e := <-ch:
		assert.Equal(t, schema.EventNodeFailed, e.Type)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestMemoryHub_CancelRemovesSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventRunStarted}))
	assert.Empty(t, ch)
}

func TestMemoryHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Overflow the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelBuffer*2; i++ {
			_ = hub.Publish(ctx, RunEvent{RunID: "r1", Type: schema.EventNodeStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
