package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"careerhub-jobs/internal/telemetry"
)

const eventsChannel = "jobs:events"

// Publisher pushes events over Redis pub/sub so worker processes reach the
// websocket hub living in the API process. Pub/sub is fire-and-forget, which
// matches the at-most-once contract of the channel.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	telemetry.EventsPublished.Inc()
	return p.client.Publish(ctx, eventsChannel, data).Err()
}

// Bridge subscribes to the events channel and forwards everything into the
// hub for room fan-out.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	log    *slog.Logger
}

func NewBridge(client *redis.Client, hub *Hub, log *slog.Logger) *Bridge {
	return &Bridge{client: client, hub: hub, log: log}
}

// Run blocks consuming events until the context ends.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("drop malformed event", slog.String("error", err.Error()))
				continue
			}
			b.hub.Broadcast(ev)
		}
	}
}
