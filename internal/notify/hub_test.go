package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func join(t *testing.T, h *Hub, ownerID string) *Client {
	t.Helper()
	c := &Client{OwnerID: ownerID, Send: make(chan []byte, clientSendBuffer)}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept registration")
	}
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestPublishReachesEveryConnectionInTheRoom(t *testing.T) {
	h := runHub(t)
	a := join(t, h, "u1")
	b := join(t, h, "u1")
	other := join(t, h, "u2")

	require.NoError(t, h.Publish(context.Background(), Event{
		Kind:    EventProgress,
		JobID:   "u1:career-insights:1:aa",
		OwnerID: "u1",
		Percent: 40,
	}))

	for _, c := range []*Client{a, b} {
		ev := receive(t, c)
		assert.Equal(t, EventProgress, ev.Kind)
		assert.Equal(t, 40, ev.Percent)
	}
	select {
	case data := <-other.Send:
		t.Fatalf("event leaked across rooms: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutRoomNeverBlocks(t *testing.T) {
	h := runHub(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = h.Publish(context.Background(), Event{Kind: EventComplete, OwnerID: "ghost"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a live room")
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := runHub(t)
	c := join(t, h, "u1")

	select {
	case h.unregister <- c:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept unregistration")
	}

	select {
	case _, open := <-c.Send:
		assert.False(t, open, "send channel must be closed on unregister")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestWebsocketConnectionReceivesEvents(t *testing.T) {
	h := runHub(t)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.HandleConnection(conn, "u1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Registration is asynchronous; keep publishing until delivery sticks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = h.Publish(context.Background(), Event{
					Kind:    EventComplete,
					JobID:   "u1:career-insights:1:aa",
					OwnerID: "u1",
					Percent: 100,
				})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventComplete, ev.Kind)
	assert.Equal(t, "u1:career-insights:1:aa", ev.JobID)
}
