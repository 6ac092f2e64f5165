package panel

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/internal/validation"
	"github.com/solweave/chainflow/pkg/schema"
)

func TestSSERunStream(t *testing.T) {
	hub := streaming.NewMemoryHub()
	v, err := validation.NewGraphValidator()
	require.NoError(t, err)
	srv := NewServer(Deps{
		Store:     store.NewMemoryStore(),
		Runner:    newMockRunner(),
		Hub:       hub,
		Validator: v,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/runs/run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), streaming.RunEvent{
		RunID: "run-1",
		Type:  schema.EventRunStarted,
	}))

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: "+schema.EventRunStarted, strings.TrimSpace(eventLine))

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, dataLine, `"run_id":"run-1"`)
}
