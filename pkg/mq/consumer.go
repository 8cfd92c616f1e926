package mq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailpipe/pkg/config"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/trace"
	"mailpipe/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// Consumer pulls jobs from one named durable queue and runs them with
// per-queue bounds: a concurrency ceiling, a lock duration enforced as a
// context deadline, a stalled-redispatch cap, and bounded attempt retries
// with exponential backoff. Exhausted jobs go to the DLQ for inspection.
type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	logger     *zap.Logger

	cfg      config.QueueConfig
	attempts *util.RetryCounter
	stalls   *util.RetryCounter
	dlq      *Publisher

	wg sync.WaitGroup
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, cfg config.QueueConfig, rdb *redis.Client, dlq *Publisher, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	// prefetch == concurrency，避免单个 worker 囤积消息
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("lock_duration", cfg.LockDuration),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
		cfg:        cfg,
		attempts:   util.NewRetryCounter(rdb, time.Hour),
		stalls:     util.NewRetryCounter(rdb, time.Hour),
		dlq:        dlq,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.wg.Wait()
}

// StartConsuming starts consuming messages. This method blocks and should
// be called in a goroutine. Jobs run on cfg.Concurrency worker goroutines;
// slow jobs in one queue never block another queue's consumers.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"worker",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range deliveries {
				c.process(msg)
			}
		}()
	}

	c.wg.Wait()
	return nil
}

func (c *Consumer) process(msg amqp091.Delivery) {
	jobID := msg.MessageId
	if jobID == "" {
		sum := sha256.Sum256(msg.Body)
		jobID = hex.EncodeToString(sum[:8])
	}

	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	// Lock duration: a job that outlives it is treated as stalled.
	if c.cfg.LockDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.LockDuration)
		defer cancel()
	}

	start := time.Now()
	done := make(chan struct{})
	if c.cfg.StalledInterval > 0 {
		go func() {
			ticker := time.NewTicker(c.cfg.StalledInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					c.logger.Debug("Job still running",
						zap.String("queue", c.queue.Name),
						zap.String("job_id", jobID),
						zap.Duration("elapsed", time.Since(start)),
					)
				}
			}
		}()
	}

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		close(done)
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("queue", c.queue.Name),
				zap.String("job_id", jobID),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handler(ctx, msg.Body)
	metrics.RecordQueueConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))

	if err == nil {
		c.attempts.Reset(context.Background(), c.attemptKey(jobID))
		c.stalls.Reset(context.Background(), c.stallKey(jobID))
		if err := msg.Ack(false); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("queue", c.queue.Name),
				zap.Error(err),
			)
		}
		return
	}

	// Stalled path: the job hit its lock duration. A bounded redispatch
	// count prevents a permanently slow job from looping forever.
	if errors.Is(err, context.DeadlineExceeded) {
		stalls, cntErr := c.stalls.IncrementAndGet(context.Background(), c.stallKey(jobID))
		if cntErr != nil {
			stalls = 1
		}
		c.logger.Warn("Job stalled past lock duration",
			zap.String("queue", c.queue.Name),
			zap.String("job_id", jobID),
			zap.Int64("stall_count", stalls),
		)
		if c.cfg.MaxStalledCount > 0 && stalls > int64(c.cfg.MaxStalledCount) {
			c.deadLetter(msg, jobID, fmt.Sprintf("stalled %d times: %v", stalls, err))
			return
		}
		c.requeue(msg, jobID)
		return
	}

	retryable, errType := util.IsRetryableError(err)
	if !retryable {
		// 配置错误、数据错误等不可重试，直接进 DLQ
		c.logger.Error("Terminal handler error",
			zap.String("queue", c.queue.Name),
			zap.String("job_id", jobID),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		c.deadLetter(msg, jobID, fmt.Sprintf("%s: %v", errType, err))
		return
	}

	attempts, cntErr := c.attempts.IncrementAndGet(context.Background(), c.attemptKey(jobID))
	if cntErr != nil {
		attempts = 1
	}

	c.logger.Error("Handler error",
		zap.String("queue", c.queue.Name),
		zap.String("job_id", jobID),
		zap.String("error_type", errType),
		zap.Int64("attempt", attempts),
		zap.Error(err),
	)

	if c.cfg.MaxAttempts > 0 && attempts >= int64(c.cfg.MaxAttempts) {
		c.deadLetter(msg, jobID, err.Error())
		return
	}

	// 指数退避后再 nack，避免热循环重试
	if c.cfg.BackoffBase > 0 {
		backoff := c.cfg.BackoffBase << uint(attempts-1)
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		time.Sleep(backoff)
	}
	c.requeue(msg, jobID)
}

func (c *Consumer) requeue(msg amqp091.Delivery, jobID string) {
	if err := msg.Nack(false, true); err != nil {
		c.logger.Error("Failed to nack message",
			zap.String("queue", c.queue.Name),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

func (c *Consumer) deadLetter(msg amqp091.Delivery, jobID, reason string) {
	if c.dlq != nil {
		if err := c.dlq.PublishToDLQ(c.routingKey, jobID, msg.Body, reason); err != nil {
			c.logger.Error("Failed to publish to DLQ, requeueing",
				zap.String("queue", c.queue.Name),
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			c.requeue(msg, jobID)
			return
		}
	}
	c.attempts.Reset(context.Background(), c.attemptKey(jobID))
	c.stalls.Reset(context.Background(), c.stallKey(jobID))
	c.logger.Warn("Job moved to DLQ",
		zap.String("queue", c.queue.Name),
		zap.String("job_id", jobID),
		zap.String("reason", reason),
	)
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}

func (c *Consumer) attemptKey(jobID string) string {
	return fmt.Sprintf("attempts:%s:%s", c.queue.Name, jobID)
}

func (c *Consumer) stallKey(jobID string) string {
	return fmt.Sprintf("stalls:%s:%s", c.queue.Name, jobID)
}
