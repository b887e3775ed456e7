package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqttcommon "gng-loaner/internal/common/mqtt"
	"gng-loaner/internal/models"
)

// heartbeatRecorder 心跳落库（由 lifecycle.DeviceService 实现）
type heartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, serial string) (*models.Device, error)
}

// heartbeatMessage 设备上报的心跳
type heartbeatMessage struct {
	Serial         string `json:"serial"`
	ChromeDeviceID string `json:"chrome_device_id,omitempty"`
	Status         string `json:"status,omitempty"`
}

// MQTTConsumer 设备心跳消费者
type MQTTConsumer struct {
	mqttClient *mqttcommon.Client
	devices    heartbeatRecorder
	topic      string
	logger     *zap.Logger
}

// NewMQTTConsumer 创建心跳消费者
func NewMQTTConsumer(mqttClient *mqttcommon.Client, devices heartbeatRecorder, topic string, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		mqttClient: mqttClient,
		devices:    devices,
		topic:      topic,
		logger:     logger,
	}
}

// Start 订阅心跳主题并阻塞到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.topic == "" {
		return fmt.Errorf("heartbeat MQTT topic not configured")
	}

	if err := c.mqttClient.Subscribe(c.topic, 1, func(topic string, payload []byte) error {
		return c.handleMessage(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to heartbeat topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if c.topic != "" {
		if err := c.mqttClient.Unsubscribe(c.topic); err != nil {
			c.logger.Error("failed to unsubscribe", zap.Error(err))
		}
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理单条心跳消息
func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) error {
	var msg heartbeatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Error("failed to unmarshal heartbeat message",
			zap.String("topic", topic),
			zap.Error(err))
		return fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}

	if msg.Serial == "" {
		c.logger.Warn("heartbeat has no serial", zap.String("topic", topic))
		return fmt.Errorf("heartbeat has no serial")
	}

	if _, err := c.devices.RecordHeartbeat(ctx, msg.Serial); err != nil {
		c.logger.Error("failed to record heartbeat",
			zap.String("serial", msg.Serial),
			zap.Error(err))
		return err
	}

	c.logger.Debug("heartbeat recorded",
		zap.String("serial", msg.Serial),
		zap.String("status", msg.Status))
	return nil
}
