// Package transformer 提供推理结果转换功能
//
// 将推理服务回调的原始 JSON 载荷归一化为内部检测结果，包括：
// - classification_predictions 字段提取（top / confidence）
// - 畸形载荷容错（缺失、类型错误、非 JSON 统一归一化为 unknown/0.0）
// - 置信度钳制到 [0,1]
// - 批量结果的过滤与汇总
package transformer

import (
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"habit-monitor/internal/models"
)

// ClassificationTransformer 分类结果转换器
//
// 负责将推理服务的原始载荷转换为归一化检测结果。
// 载荷畸形时不返回错误，统一归一化为 unknown/0.0，保证消费链路不中断。
type ClassificationTransformer struct {
	logger *zap.Logger
}

// NewClassificationTransformer 创建分类结果转换器
func NewClassificationTransformer(logger *zap.Logger) *ClassificationTransformer {
	return &ClassificationTransformer{
		logger: logger,
	}
}

// Transform 转换原始载荷为归一化检测结果
//
// 提取流程：
// 1. 校验载荷为合法 JSON 对象（数组、标量、非 JSON 均视为畸形）
// 2. 提取 classification_predictions.top（非空字符串才采纳）
// 3. 提取 classification_predictions.confidence（仅接受数值类型）
// 4. 置信度钳制到 [0,1]
//
// top 与 confidence 独立提取：只有 top 时置信度为 0.0，只有
// confidence 时分类为 unknown。
func (t *ClassificationTransformer) Transform(raw []byte) models.DetectionResult {
	result := models.DetectionResult{
		Class:      models.UnknownClass,
		Confidence: 0.0,
	}

	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		t.logger.Debug("Malformed inference payload, normalized to unknown",
			zap.Int("payload_bytes", len(raw)))
		return result
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		t.logger.Debug("Inference payload is not a JSON object, normalized to unknown")
		return result
	}

	preds := root.Get("classification_predictions")
	if !preds.IsObject() {
		return result
	}

	if top := preds.Get("top"); top.Type == gjson.String {
		if cls := strings.TrimSpace(top.String()); cls != "" {
			result.Class = cls
		}
	}

	if conf := preds.Get("confidence"); conf.Type == gjson.Number {
		result.Confidence = ClampConfidence(conf.Float())
	}

	return result
}

// ClampConfidence 置信度钳制到 [0,1]
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
