package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink 事件的发布目标（如 Redis 通知总线）
type Sink interface {
	PublishEvent(ctx context.Context, routingKey string, payload []byte) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到通知总线
type Dispatcher struct {
	repo       *Repository
	sink       Sink
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
	retention  time.Duration
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(repo *Repository, sink Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		sink:       sink,
		logger:     logger,
		maxRetries: 5,                  // 默认最大重试5次
		interval:   1 * time.Second,    // 默认每秒扫描一次
		batchSize:  100,                // 默认每次处理100个事件
		retention:  24 * time.Hour,     // 已发送事件保留一天
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// Start 启动 Dispatcher（在 goroutine 中运行）
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.processPendingEvents(ctx)
		case <-cleanup.C:
			if n, err := d.repo.CleanupSent(ctx, d.retention); err != nil {
				d.logger.Error("Failed to cleanup sent events", zap.Error(err))
			} else if n > 0 {
				d.logger.Debug("Cleaned up sent events", zap.Int64("count", n))
			}
		}
	}
}

// processPendingEvents 处理待发送的事件
func (d *Dispatcher) processPendingEvents(ctx context.Context) {
	events, err := d.repo.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return
	}

	if len(events) == 0 {
		return
	}

	d.logger.Debug("Processing pending events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		if err := d.sink.PublishEvent(ctx, event.RoutingKey, event.Payload); err != nil {
			d.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)

			if err := d.repo.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed",
					zap.Int64("event_id", event.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if err := d.repo.MarkAsSent(ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}
