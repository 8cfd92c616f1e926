package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/pkg/metrics"
)

// Channel is the Redis pub/sub channel carrying notification
// envelopes. Every worker instance relays it into its local hub, so
// subscribers can connect to any instance.
const Channel = "notifications"

// Relay consumes the Redis channel and feeds the hub.
type Relay struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRelay(rdb *redis.Client, hub *Hub, log *zap.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, logger: log}
}

// Run blocks until ctx is cancelled, resubscribing after transport
// errors.
func (r *Relay) Run(ctx context.Context) {
	for {
		if err := r.consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Notification relay interrupted", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// force the SUBSCRIBE to complete before reading
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			var notification mqcontracts.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &notification); err != nil {
				r.logger.Warn("Discarding malformed notification",
					zap.String("payload", msg.Payload),
					zap.Error(err),
				)
				continue
			}
			metrics.IncrementNotificationsRelayed(notification.Type)
			r.hub.Publish(notification)
		}
	}
}

// RedisSink publishes outbox payloads onto the notification channel.
// It satisfies the outbox dispatcher's sink contract.
type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) PublishEvent(ctx context.Context, routingKey string, payload []byte) error {
	return s.rdb.Publish(ctx, Channel, payload).Err()
}
