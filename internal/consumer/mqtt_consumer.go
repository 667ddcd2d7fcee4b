package consumer

import (
	"context"
	"fmt"
	"strings"

	"habit-monitor/internal/broker"
	"habit-monitor/internal/config"

	"go.uber.org/zap"
)

// MQTTConsumer MQTT消息消费者
// 订阅推理服务发布的分类结果主题，逐帧交给 ResultHandler 处理
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *broker.MQTTClient
	handler    ResultHandler
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *broker.MQTTClient,
	handler ResultHandler,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		handler:    handler,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	// 订阅推理结果主题
	if err := c.mqttClient.Subscribe(c.config.Ingest.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to results topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Ingest.Topic),
	)

	// 等待上下文取消
	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Ingest.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
// 主题格式: inference/results/{camera_id}，camera_id 仅用于日志标注
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	cameraID := ""
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		cameraID = parts[2]
	}

	c.logger.Debug("Received inference result",
		zap.String("topic", topic),
		zap.String("camera_id", cameraID),
		zap.Int("payload_size", len(payload)),
	)

	if err := c.handler.HandleResult(context.Background(), payload); err != nil {
		return fmt.Errorf("failed to handle result: %w", err)
	}

	return nil
}
