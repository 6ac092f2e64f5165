package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/pkg/schema"
)

func evt(seq int64, nodeID, typ string, at time.Time) *Event {
	return &Event{RunID: "r1", NodeID: nodeID, Type: typ, Sequence: seq, Timestamp: at}
}

func TestReplayNodeStates(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := json.RawMessage(`{"abi":[]}`)

	events := []*Event{
		evt(1, "", schema.EventRunStarted, t0),
		evt(2, "a", schema.EventNodeStarted, t0.Add(time.Second)),
		{RunID: "r1", NodeID: "a", Type: schema.EventNodeSucceeded, Sequence: 3, Timestamp: t0.Add(3 * time.Second), Payload: out},
		evt(4, "b", schema.EventNodeStarted, t0.Add(4*time.Second)),
		{RunID: "r1", NodeID: "b", Type: schema.EventNodeFailed, Sequence: 5, Timestamp: t0.Add(5 * time.Second), Payload: json.RawMessage(`{"message":"boom"}`)},
	}

	states, err := ReplayNodeStates("r1", events)
	require.NoError(t, err)
	require.Len(t, states, 2)

	a := states["a"]
	assert.Equal(t, schema.NodeStatusSuccess, a.Status)
	assert.JSONEq(t, `{"abi":[]}`, string(a.Output))
	assert.Equal(t, int64(2000), a.DurationMs)

	b := states["b"]
	assert.Equal(t, schema.NodeStatusError, b.Status)
	assert.JSONEq(t, `{"message":"boom"}`, string(b.Error))
}

func TestReplayNodeStates_SequenceGap(t *testing.T) {
	t0 := time.Now().UTC()
	events := []*Event{
		evt(1, "a", schema.EventNodeStarted, t0),
		evt(3, "a", schema.EventNodeSucceeded, t0),
	}

	_, err := ReplayNodeStates("r1", events)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeStore, fe.Code)
}

func TestReplayNodeStates_Empty(t *testing.T) {
	states, err := ReplayNodeStates("r1", nil)
	require.NoError(t, err)
	assert.Empty(t, states)
}
