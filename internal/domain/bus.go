package domain

import (
	"context"
)

// Topics published over the analysis pipeline's lifetime.
const (
	TopicTransactionIngested = "heron.transaction.ingested"
	TopicRunRequested        = "heron.run.requested"
	TopicRunCompleted        = "heron.run.completed"
	TopicRunFailed           = "heron.run.failed"
)

// GlobalTenant is the subscription pseudo-tenant that receives every
// tenant's traffic on a topic. Messages delivered to a global subscriber
// carry the originating tenant in Message.TenantID. Publishing as
// GlobalTenant reaches only global subscribers.
const GlobalTenant = "_global"

// EventBus carries pipeline lifecycle events between the API layer and
// workers. The Community tier runs on in-process channels, Pro on NATS.
// Every operation is tenant-scoped; subscribing as GlobalTenant is the
// one sanctioned fan-in across tenants.
type EventBus interface {
	// Publish sends a message to all current subscribers of the topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic and returns the
	// subscription handle used to detach it.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes a message and waits for a single reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. A non-nil error is
// logged by the bus; there is no redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the bus envelope.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic subscription.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig selects and configures the bus implementation.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	// ChannelBufferSize is the per-subscriber buffer for the channel bus.
	ChannelBufferSize int

	// NATS settings (Pro tier).
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
