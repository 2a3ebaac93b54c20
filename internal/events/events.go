package events

import "context"

// Redis pubsub streams. The pubsub mirror is a live convenience for connected
// clients; the durable record is the transaction log.
const (
	StreamEscrow = "events:escrow"
)

// Live event types
const (
	EventTransition       = "escrow_transition"
	EventHistoryRefreshed = "history_refreshed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
