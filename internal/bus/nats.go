package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/heron/internal/domain"
)

// NATSBus is the Pro tier EventBus. Messages travel as JSON envelopes on
// subjects of the form heron.<tenant>.<topic>, so NATS subject isolation
// doubles as tenant isolation.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs []*natsSubscription
}

type natsSubscription struct {
	topic string
	inner *nats.Subscription
}

// NewNATSBus connects to NATS and returns the bus. Connection loss is
// handled by the client's reconnect machinery; the initial connect retries
// up to the configured attempt count.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("nats error", "subject", sub.Subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := connectWithRetry(url, opts, attempts, wait)
	if err != nil {
		return nil, err
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn}, nil
}

func connectWithRetry(url string, opts []nats.Option, attempts int, wait time.Duration) (*nats.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("nats connect attempt failed",
			"attempt", i+1,
			"max_attempts", attempts,
			"error", err,
		)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, lastErr)
}

// envelope builds and marshals the wire message.
func envelope(tenantID, topic string, payload []byte) ([]byte, error) {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func subject(tenantID, topic string) string {
	return fmt.Sprintf("heron.%s.%s", tenantID, topic)
}

// subscribeSubject maps the global pseudo-tenant to a wildcard so one
// subscription covers every tenant's subject for the topic.
func subscribeSubject(tenantID, topic string) string {
	if tenantID == domain.GlobalTenant {
		return subject("*", topic)
	}
	return subject(tenantID, topic)
}

// Publish sends a message on the tenant's subject for the topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	data, err := envelope(tenantID, topic, payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe registers a handler on the tenant's subject for the topic;
// domain.GlobalTenant subscribes via wildcard to every tenant's subject.
// Handler errors are logged, not redelivered.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subj := subscribeSubject(tenantID, topic)
	inner, err := b.conn.Subscribe(subj, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal nats message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	sub := &natsSubscription{topic: topic, inner: inner}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Request performs a NATS request-reply exchange. The reply payload is
// unwrapped from its envelope.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	data, err := envelope(tenantID, topic, payload)
	if err != nil {
		return nil, err
	}

	timeout := requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	reply, err := b.conn.Request(subject(tenantID, topic), data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return replyMsg.Payload, nil
}

// Ping verifies connectivity with a round trip to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		_ = sub.inner.Unsubscribe()
	}
	b.subs = nil

	b.conn.Close()
	return nil
}

// Stats exposes the client's connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	return s.inner.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
