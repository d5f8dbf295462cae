package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker carries events over Redis Pub/Sub so every server instance
// sees every insert. Reconnects after a dropped connection are handled by
// go-redis; events published while disconnected are lost, and a chat view
// recovers them with its next Load.
type RedisBroker struct {
	client *redis.Client
	buffer int
	logger *zap.Logger

	mu    sync.Mutex
	names map[string]struct{}
}

// NewRedisBroker connects to redisURL ("redis://host:6379/0") and pings it.
func NewRedisBroker(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connection established", zap.String("addr", opts.Addr))
	return NewRedisBrokerFromClient(client, DefaultBuffer, logger), nil
}

func NewRedisBrokerFromClient(client *redis.Client, buffer int, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		buffer: buffer,
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, e.Topic(), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Topic(), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, name string, f Filter) (*Subscription, error) {
	if !b.reserve(name) {
		return nil, ErrNameInUse
	}

	topic := f.Topic()
	ps := b.client.Subscribe(ctx, topic)
	// Receive blocks until Redis confirms the subscription, so no event
	// published after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		b.unreserve(name)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := newSubscription(name, f, b.buffer)
	forwarded := make(chan struct{})
	sub.release = func() {
		_ = ps.Close()
		<-forwarded
		b.unreserve(name)
		metrics.RealtimeSubscriptions.Dec()
	}
	metrics.RealtimeSubscriptions.Inc()

	go b.forward(ps.Channel(), sub, forwarded)
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

func (b *RedisBroker) forward(ch <-chan *redis.Message, sub *Subscription, forwarded chan struct{}) {
	defer close(forwarded)
	for {
		select {
		case <-sub.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				go sub.Close()
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("discarding malformed realtime payload",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if !sub.deliver(e) {
				metrics.RealtimeEventsDropped.Inc()
				b.logger.Warn("realtime event dropped", zap.String("subscription", sub.Name()))
			}
		}
	}
}

func (b *RedisBroker) reserve(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.names[name]; taken {
		return false
	}
	b.names[name] = struct{}{}
	return true
}

func (b *RedisBroker) unreserve(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.names, name)
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
