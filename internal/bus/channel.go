// Package bus provides event bus implementations for Heron.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

// replyToKey is the metadata key carrying the reply topic for request-reply
// exchanges.
const replyToKey = "replyTo"

const requestTimeout = 30 * time.Second

// subKey identifies a subscription list: every (tenant, topic) pair has its
// own fan-out set, so tenants never observe each other's traffic. The one
// exception is domain.GlobalTenant, whose subscribers receive all tenants'
// messages on the topic.
type subKey struct {
	tenantID string
	topic    string
}

// ChannelBus is the in-process EventBus used by the Community tier. Delivery
// is at-most-once: a subscriber whose buffer is full misses the message
// rather than blocking the publisher.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[subKey][]*channelSubscription
	closed     bool
}

type channelSubscription struct {
	bus    *ChannelBus
	key    subKey
	inbox  chan *domain.Message
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process event bus. Each subscriber gets its
// own buffer of bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[subKey][]*channelSubscription),
	}
}

// Publish sends a message to every current subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	return b.publish(tenantID, topic, payload, nil)
}

func (b *ChannelBus) publish(tenantID, topic string, payload []byte, metadata map[string]string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	var targets []*channelSubscription
	targets = append(targets, b.subs[subKey{tenantID, topic}]...)
	if tenantID != domain.GlobalTenant {
		// Global subscribers see every tenant's traffic on the topic.
		targets = append(targets, b.subs[subKey{domain.GlobalTenant, topic}]...)
	}
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			// Subscriber buffer full; drop rather than block.
		}
	}
	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs on a
// dedicated goroutine until Unsubscribe, context cancellation, or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:    b,
		key:    subKey{tenantID, topic},
		inbox:  make(chan *domain.Message, b.bufferSize),
		cancel: cancel,
	}
	b.subs[sub.key] = append(b.subs[sub.key], sub)

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-sub.inbox:
				_ = handler(subCtx, msg)
			}
		}
	}()

	return sub, nil
}

// Request publishes a message carrying a unique reply topic in its metadata
// and waits for the first response published there. Responders reply by
// publishing to msg.Metadata["replyTo"].
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyTopic := topic + ".reply." + uuid.New().String()
	replyCh := make(chan []byte, 1)

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.publish(tenantID, topic, payload, map[string]string{replyToKey: replyTopic}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout on %s", topic)
	}
}

// Ping reports whether the bus accepts traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close shuts down the bus and every subscription.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[subKey][]*channelSubscription)
	return nil
}

// Unsubscribe detaches the subscription from the bus and stops its handler.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subs[s.key]
	for i, candidate := range list {
		if candidate == s {
			s.bus.subs[s.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.key.topic
}
