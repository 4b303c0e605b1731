package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pulsefit/retain/pkg/agent"
	"github.com/rs/zerolog"
)

// writeTimeout bounds one broadcast write; a client that cannot keep up is
// disconnected rather than allowed to stall the fan-out.
const writeTimeout = 5 * time.Second

// Broadcaster fans session events out to every connected client.
type Broadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{clients: clients, logger: logger}
}

// Broadcast sends one session event to all clients.
func (b *Broadcaster) Broadcast(ev agent.Event) {
	msg := EventMessage{
		Type:      "event",
		Event:     string(ev.Type),
		SessionID: ev.SessionID,
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
		Data:      ev,
		Timestamp: time.Now().UnixMilli(),
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		if err := client.WriteJSON(msg, writeTimeout); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Msg("Dropping slow client")
			b.clients.Remove(client.ID)
			client.Conn.Close()
		}
	}
}

// Pump forwards a session event stream into the broadcast fan-out until the
// stream closes or the context ends.
func (b *Broadcaster) Pump(ctx context.Context, events <-chan agent.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Broadcast(ev)
		case <-ctx.Done():
			return
		}
	}
}
