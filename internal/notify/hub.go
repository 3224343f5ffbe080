package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"careerhub-jobs/internal/telemetry"
)

const (
	clientSendBuffer = 64
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client is one live connection joined to its owner's room.
type Client struct {
	OwnerID string
	Send    chan []byte

	conn *websocket.Conn
}

// Hub maintains the live connections, one logical room per owner. It
// implements Publish so single-process deployments can skip the Redis bridge.
type Hub struct {
	log *slog.Logger

	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	mu sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
	}
}

// Run drives registration and fan-out until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.OwnerID] == nil {
				h.clients[client.OwnerID] = make(map[*Client]bool)
			}
			h.clients[client.OwnerID][client] = true
			h.mu.Unlock()
			h.log.Debug("notify client joined", slog.String("owner_id", client.OwnerID))

		case client := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.clients[client.OwnerID]; ok {
				if _, ok := room[client]; ok {
					delete(room, client)
					close(client.Send)
					if len(room) == 0 {
						delete(h.clients, client.OwnerID)
					}
				}
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", slog.String("job_id", ev.JobID), slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	room := h.clients[ev.OwnerID]
	if len(room) == 0 {
		h.mu.RUnlock()
		// No live connection; the owner's polling fallback will catch up.
		telemetry.EventsDropped.Inc()
		return
	}
	for client := range room {
		select {
		case client.Send <- data:
			telemetry.EventsDelivered.Inc()
		default:
			// Slow consumer; drop rather than block the hub.
			telemetry.EventsDropped.Inc()
		}
	}
	h.mu.RUnlock()
}

// Publish enqueues an event for fan-out. Satisfies the same interface as the
// Redis publisher.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	telemetry.EventsPublished.Inc()
	select {
	case h.broadcast <- ev:
	default:
		telemetry.EventsDropped.Inc()
	}
	return nil
}

// Broadcast routes an already-published event to the owner's room. Used by
// the Redis bridge on the API side.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		telemetry.EventsDropped.Inc()
	}
}

// HandleConnection runs the write pump for one upgraded connection and blocks
// until the peer goes away.
func (h *Hub) HandleConnection(conn *websocket.Conn, ownerID string) {
	client := &Client{
		OwnerID: ownerID,
		Send:    make(chan []byte, clientSendBuffer),
		conn:    conn,
	}
	h.register <- client
	defer func() { h.unregister <- client }()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case msg := <-client.Send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Read pump: clients never send application messages; this just notices
	// disconnects and answers pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(stop)
	_ = conn.Close()
	<-done
}
