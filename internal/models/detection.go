package models

import (
	"time"
)

// UnknownClass 无法识别的分类结果统一归一化为该值
const UnknownClass = "unknown"

// DetectionResult 归一化后的单帧分类结果
// 由 transformer 从推理服务的原始 JSON 载荷提取，保证 Confidence ∈ [0,1]
type DetectionResult struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// IsUnknown 判断是否为无效/缺失的分类结果
func (r DetectionResult) IsUnknown() bool {
	return r.Class == UnknownClass
}

// DetectionRecord 单帧检测历史记录（有界环形缓冲，持久化到统计文件）
type DetectionRecord struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Detected   bool      `json:"detected"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchSummary 一批分类结果的汇总（报表用）
type BatchSummary struct {
	Total         int            `json:"total"`
	ClassCounts   map[string]int `json:"class_counts"`
	MaxConfidence float64        `json:"max_confidence"`
	AvgConfidence float64        `json:"avg_confidence"`
}
