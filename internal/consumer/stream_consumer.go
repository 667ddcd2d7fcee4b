package consumer

import (
	"context"
	"fmt"
	"time"

	"habit-monitor/internal/broker"
	"habit-monitor/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConsumer Redis Streams 消费者
// 通过消费者组读取推理结果流，支持多实例水平扩展
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	handler     ResultHandler
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	handler ResultHandler,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		handler:     handler,
		logger:      logger,
	}
}

// Start 启动消费者
func (c *StreamConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := broker.CreateConsumerGroup(ctx, c.redisClient, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Ingest.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Ingest.Stream),
		zap.String("consumer_group", c.config.Ingest.ConsumerGroup),
		zap.String("consumer_name", c.config.Ingest.ConsumerName),
	)

	// 启动消费循环
	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					// 指数退避，但不超过最大值
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// Stop 停止消费者
func (c *StreamConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stream consumer stopped")
	return nil
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := broker.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Ingest.Stream,
		c.config.Ingest.ConsumerGroup,
		c.config.Ingest.ConsumerName,
		c.config.Ingest.BatchSize,
	)

	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Ingest.Stream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, &msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream", msg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}

		// 无论处理结果如何都确认消息，避免坏消息反复投递
		if err := broker.AckMessage(ctx, c.redisClient, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条消息
// 消息体约定：payload JSON 存放在 "data" 字段
func (c *StreamConsumer) processMessage(ctx context.Context, msg *broker.StreamMessage) error {
	raw, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("message %s missing data field", msg.ID)
	}

	payload, ok := raw.(string)
	if !ok {
		return fmt.Errorf("message %s data field is not a string", msg.ID)
	}

	if err := c.handler.HandleResult(ctx, []byte(payload)); err != nil {
		return fmt.Errorf("failed to handle result: %w", err)
	}

	return nil
}
