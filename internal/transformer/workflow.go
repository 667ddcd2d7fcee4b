package transformer

import (
	"encoding/json"

	"github.com/google/uuid"

	"habit-monitor/internal/models"
)

// FilterByConfidence 按最低置信度过滤一批归一化结果
func FilterByConfidence(results []models.DetectionResult, minConfidence float64) []models.DetectionResult {
	filtered := make([]models.DetectionResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= minConfidence {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Summarize 汇总一批归一化结果（报表用）
//
// unknown 结果计入 total 与分类计数，但不影响最大/平均置信度之外的统计。
func Summarize(results []models.DetectionResult) models.BatchSummary {
	summary := models.BatchSummary{
		ClassCounts: make(map[string]int),
	}
	if len(results) == 0 {
		return summary
	}

	var sum float64
	for _, r := range results {
		summary.Total++
		summary.ClassCounts[r.Class]++
		sum += r.Confidence
		if r.Confidence > summary.MaxConfidence {
			summary.MaxConfidence = r.Confidence
		}
	}
	summary.AvgConfidence = sum / float64(len(results))
	return summary
}

// MockResult 构造与推理服务载荷同构的模拟结果
//
// 用于测试与模拟输入源（--sim 模式），结构对齐推理服务的
// classification_predictions 回调格式。
func MockResult(class string, confidence float64) []byte {
	classID := 0
	if class != models.UnknownClass {
		classID = 1
	}
	payload := map[string]interface{}{
		"top_class": class,
		"classification_predictions": map[string]interface{}{
			"inference_id": uuid.New().String(),
			"time":         0.1,
			"image": map[string]interface{}{
				"width":  640,
				"height": 640,
			},
			"predictions": []map[string]interface{}{
				{
					"class":      class,
					"class_id":   classID,
					"confidence": confidence,
				},
			},
			"top":             class,
			"confidence":      confidence,
			"prediction_type": "classification",
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// map[string]interface{} 只含可序列化类型，正常不可达
		return []byte("{}")
	}
	return data
}
