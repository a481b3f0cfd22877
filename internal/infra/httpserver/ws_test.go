package httpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

func dialStream(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/tasks/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) streamUpdate {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var u streamUpdate
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func TestStreamPushesStateUntilTerminal(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	h, err := ts.broker.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{OwnerID: "user-1", ScanID: "scan-1"})
	require.NoError(t, err)
	taskToken, err := ts.issuer.IssueTask(ctx, "user-1", h)
	require.NoError(t, err)

	conn := dialStream(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(taskToken)))

	first := readUpdate(t, conn)
	assert.Equal(t, h.ID, first.JobID)
	assert.Equal(t, "pending", first.State)

	claimed, err := ts.broker.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NoError(t, ts.broker.Complete(ctx, claimed.Handle.ID, "normalized/scan-1.jpg"))

	// The poll loop pushes running and succeeded; skip intermediate frames.
	var last streamUpdate
	for i := 0; i < 3; i++ {
		last = readUpdate(t, conn)
		if jobs.State(last.State).IsTerminal() {
			break
		}
	}
	assert.Equal(t, "succeeded", last.State)
	assert.Equal(t, "normalized/scan-1.jpg", last.ResultRef)
}

func TestStreamClosesOnInvalidToken(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-a-token")))
	u := readUpdate(t, conn)
	assert.Equal(t, "invalid task token", u.Error)

	// The server drops the connection after the error frame.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
