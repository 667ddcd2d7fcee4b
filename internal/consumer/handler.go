// Package consumer 实现推理结果的摄取：MQTT 订阅、Redis Streams 消费、本地模拟源
package consumer

import "context"

// ResultHandler 推理结果处理器，由服务层实现
// payload 为推理服务发布的原始 JSON 帧
type ResultHandler interface {
	HandleResult(ctx context.Context, payload []byte) error
}
