package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-studio-auth/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestWebSocketTransportRoundTrip(t *testing.T) {
	authHeader := make(chan string, 1)
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		authHeader <- conn.Request().Header.Get("Authorization")
		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)
		for {
			var f realtime.Frame
			if err := dec.Decode(&f); err != nil {
				return
			}
			if f.Event == realtime.EventJoinRoom {
				var room string
				_ = json.Unmarshal(f.Data, &room)
				reply, _ := realtime.NewFrame(realtime.EventNewAnnouncement, map[string]string{"room": room})
				if err := enc.Encode(reply); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	tr := &realtime.WebSocketTransport{}
	header := http.Header{"Authorization": []string{"Bearer abc"}}
	conn, err := tr.Dial(context.Background(), srv.URL, header)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer abc", <-authHeader)

	join, err := realtime.NewFrame(realtime.EventJoinRoom, "teacher")
	require.NoError(t, err)
	require.NoError(t, conn.Send(join))

	got, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, realtime.EventNewAnnouncement, got.Event)
	assert.JSONEq(t, `{"room":"teacher"}`, string(got.Data))
}

func TestWebSocketTransportRejectsUnknownScheme(t *testing.T) {
	_, err := (&realtime.WebSocketTransport{}).Dial(context.Background(), "ftp://rt.studio.test", nil)
	assert.Error(t, err)
}

// pollServer is a minimal long-poll endpoint for one session.
type pollServer struct {
	mu       sync.Mutex
	sid      string
	received []realtime.Frame
	outbox   chan realtime.Frame
	closed   bool
}

func (p *pollServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if r.URL.Query().Get("transport") != "polling" || sid == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	if p.sid == "" {
		p.sid = sid
	}
	same := p.sid == sid
	p.mu.Unlock()
	if !same {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}

	switch r.Method {
	case http.MethodPut:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		var f realtime.Frame
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.received = append(p.received, f)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		select {
		case f := <-p.outbox:
			_ = json.NewEncoder(w).Encode([]realtime.Frame{f})
		case <-r.Context().Done():
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusNoContent)
		}
	case http.MethodDelete:
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestPollingTransportRoundTrip(t *testing.T) {
	ps := &pollServer{outbox: make(chan realtime.Frame, 1)}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	conn, err := (&realtime.PollingTransport{}).Dial(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	join, err := realtime.NewFrame(realtime.EventJoinRoom, "student-uid-s")
	require.NoError(t, err)
	require.NoError(t, conn.Send(join))

	out, err := realtime.NewFrame(realtime.EventRescheduleApproved, realtime.MessagePayload{Message: "ok"})
	require.NoError(t, err)
	ps.outbox <- out

	got, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, realtime.EventRescheduleApproved, got.Event)

	require.NoError(t, conn.Close())
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.Len(t, ps.received, 1)
	assert.Equal(t, realtime.EventJoinRoom, ps.received[0].Event)
	assert.True(t, ps.closed)
}

func TestSocketFallsBackToPolling(t *testing.T) {
	ps := &pollServer{outbox: make(chan realtime.Frame, 1)}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	s := realtime.NewSocket(srv.URL,
		realtime.WithSocketLogger(quietLogger{}),
		realtime.WithBackOff(fastBackOff),
	)
	connected := make(chan string, 1)
	s.OnConnect(func(s *realtime.Socket) { connected <- s.Transport() })
	s.Open(context.Background())
	defer s.Close()

	select {
	case name := <-connected:
		assert.Equal(t, "polling", name)
	case <-time.After(waitFor):
		t.Fatal("expected the polling fallback to connect")
	}
}
