package httpserver

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

const (
	streamPollInterval = time.Second
	streamIdleTimeout  = 5 * time.Minute
	streamWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamUpdate is one push frame. result_ref appears once the job succeeds,
// reason once it fails.
type streamUpdate struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	ResultRef string `json:"result_ref,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GET /v1/tasks/stream
// The client sends task tokens as bare text frames. For each valid token the
// server polls the job and pushes status frames until the job is terminal.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(u streamUpdate) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(u)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		claims, err := r.tokens.ValidateTask(ctx, string(msg))
		if err != nil {
			// Invalid credential drops the connection; the client does not
			// get to keep probing on an unauthenticated socket.
			send(streamUpdate{Error: "invalid task token"})
			return
		}

		go r.pollJob(ctx, claims.JobID, send)
	}
}

// pollJob pushes the job state every second until it goes terminal or the
// connection dies.
func (r *Router) pollJob(ctx context.Context, jobID string, send func(streamUpdate) error) {
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var last string
	for {
		st, err := r.svc.Status(ctx, jobID)
		if err != nil {
			send(streamUpdate{JobID: jobID, Error: err.Error()})
			return
		}
		if st.State != last {
			last = st.State
			if send(streamUpdate{JobID: jobID, State: st.State, ResultRef: st.ResultRef, Reason: st.Reason}) != nil {
				return
			}
		}
		if jobs.State(st.State).IsTerminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
