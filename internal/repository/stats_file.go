// Package repository 提供统计数据的持久化
//
// 三种存储：会话统计 JSON 文件（主存储，会话结束与定时保存写入）、
// 可选的 PostgreSQL 归档（习惯区间与报警事件）、以及 Redis 实时
// 快照缓存（供外部看板读取）。
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"habit-monitor/internal/models"
)

// StatsFileRepository 会话统计 JSON 文件仓库
//
// 写入采用临时文件 + rename，避免进程中断留下半写文件。
// 文件缺失或损坏不阻断启动：按首次运行处理。
type StatsFileRepository struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStatsFileRepository 创建统计文件仓库
func NewStatsFileRepository(path string, logger *zap.Logger) *StatsFileRepository {
	return &StatsFileRepository{
		path:   path,
		logger: logger,
	}
}

// Path 统计文件路径
func (r *StatsFileRepository) Path() string {
	return r.path
}

// Load 读取上次会话的统计记录
//
// 文件不存在返回 (nil, nil)（首次运行）；文件不可读或 JSON 损坏
// 记一条警告后同样按不存在处理，绝不让启动失败。
func (r *StatsFileRepository) Load() (*models.SessionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("No existing statistics file, starting fresh",
				zap.String("path", r.path))
			return nil, nil
		}
		r.logger.Warn("Statistics file unreadable, starting fresh",
			zap.String("path", r.path),
			zap.Error(err))
		return nil, nil
	}

	var stats models.SessionStats
	if err := json.Unmarshal(data, &stats); err != nil {
		r.logger.Warn("Statistics file corrupt, starting fresh",
			zap.String("path", r.path),
			zap.Error(err))
		return nil, nil
	}

	r.logger.Info("Statistics loaded",
		zap.String("path", r.path),
		zap.Int("total_detections", stats.TotalDetections),
		zap.Int("habit_sessions", len(stats.HabitSessions)))
	return &stats, nil
}

// Save 写入统计记录（临时文件 + rename）
func (r *StatsFileRepository) Save(stats *models.SessionStats) error {
	if stats == nil {
		return fmt.Errorf("stats is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create stats directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write statistics file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace statistics file: %w", err)
	}

	r.logger.Info("Statistics saved", zap.String("path", r.path))
	return nil
}
