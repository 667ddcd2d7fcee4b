// Package tracker 维护监控会话的习惯状态机与统计
//
// 状态机：空闲 → 监控中（无习惯）⇄ 监控中（习惯进行中）→ 已结束。
// F→T 打开一个习惯区间并累计检测次数，T→F 闭合区间并累计习惯时长，
// End 强制闭合并终止会话（幂等）。全部计数器与区间列表由同一把锁
// 保护，快照在锁内整体拷贝，读者不会看到半更新状态。
package tracker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"habit-monitor/internal/models"
)

// historyLimit 检测历史环形缓冲上限
const historyLimit = 200

type sessionState int

const (
	stateIdle sessionState = iota
	stateTracking
	stateHabitActive
	stateEnded
)

// ClosedSession 刚闭合的习惯区间（含分类，供归档）
type ClosedSession struct {
	HabitClass string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// Tracker 习惯会话跟踪器
type Tracker struct {
	mu     sync.Mutex
	logger *zap.Logger

	state        sessionState
	sessionStart time.Time
	sessionEnd   time.Time

	totalDetections int
	totalHabitTime  time.Duration
	sessions        []models.HabitSession

	// 当前习惯区间（state == stateHabitActive 时有效）
	habitStart time.Time
	habitClass string

	lastDetection *models.DetectionRecord
	history       []models.DetectionRecord
}

// New 创建跟踪器（初始为空闲态）
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:   logger,
		state:    stateIdle,
		sessions: make([]models.HabitSession, 0),
		history:  make([]models.DetectionRecord, 0, historyLimit),
	}
}

// Seed 用持久化统计回种累计计数器
//
// 仅在 Start 之前调用有效：恢复检测次数、习惯总时长、历史区间
// 与检测历史。会话起点不恢复，Start 会设置新的起点。
func (t *Tracker) Seed(stats *models.SessionStats) {
	if stats == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateIdle {
		t.logger.Debug("Seed ignored, session already started")
		return
	}

	t.totalDetections = stats.TotalDetections
	t.totalHabitTime = time.Duration(stats.TotalHabitTimeSeconds * float64(time.Second))
	t.sessions = append(t.sessions[:0], stats.HabitSessions...)
	t.history = append(t.history[:0], stats.DetectionHistory...)
	if len(t.history) > historyLimit {
		t.history = t.history[len(t.history)-historyLimit:]
	}

	t.logger.Info("Statistics seeded from previous session",
		zap.Int("total_detections", t.totalDetections),
		zap.Float64("total_habit_seconds", t.totalHabitTime.Seconds()),
		zap.Int("habit_sessions", len(t.sessions)))
}

// Start 开始监控会话
func (t *Tracker) Start(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateIdle {
		t.logger.Debug("Start ignored, session not idle")
		return
	}
	t.state = stateTracking
	t.sessionStart = now
	t.logger.Info("Monitoring session started")
}

// Update 处理一帧归一化检测结果
//
// 返回 opened（本帧打开了新习惯区间）与 closed（本帧闭合的区间，
// 未闭合为 nil）。会话未开始或已结束时忽略并返回零值。
func (t *Tracker) Update(detected bool, class string, confidence float64, now time.Time) (opened bool, closed *ClosedSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateTracking && t.state != stateHabitActive {
		t.logger.Debug("Update ignored, session not active")
		return false, nil
	}

	t.recordDetection(detected, class, confidence, now)

	switch {
	case detected && t.state == stateTracking:
		// F→T：打开习惯区间
		t.state = stateHabitActive
		t.habitStart = now
		t.habitClass = class
		t.totalDetections++
		t.logger.Info("Habit session started",
			zap.String("habit_class", class),
			zap.Float64("confidence", confidence))
		return true, nil

	case !detected && t.state == stateHabitActive:
		// T→F：闭合习惯区间
		return false, t.closeHabitSession(now)

	default:
		// T→T 持续中（当前时长由快照按 now 推导）；F→F 无变化
		return false, nil
	}
}

// End 结束监控会话，闭合进行中的习惯区间（幂等）
//
// 返回被强制闭合的区间（若有）。结束后的 Update/End 均为空操作。
func (t *Tracker) End(now time.Time) *ClosedSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == stateIdle || t.state == stateEnded {
		return nil
	}

	var closed *ClosedSession
	if t.state == stateHabitActive {
		closed = t.closeHabitSession(now)
	}
	t.state = stateEnded
	t.sessionEnd = now
	t.logger.Info("Monitoring session ended",
		zap.Int("total_detections", t.totalDetections),
		zap.Float64("total_habit_seconds", t.totalHabitTime.Seconds()))
	return closed
}

// Reset 清零全部统计并重新开始计时
//
// 会话进行中时回到监控中（无习惯）态并以 now 作为新起点；
// 未开始或已结束时回到空闲态。
func (t *Tracker) Reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	running := t.state == stateTracking || t.state == stateHabitActive

	t.totalDetections = 0
	t.totalHabitTime = 0
	t.sessions = t.sessions[:0]
	t.history = t.history[:0]
	t.lastDetection = nil
	t.habitStart = time.Time{}
	t.habitClass = ""
	t.sessionEnd = time.Time{}

	if running {
		t.state = stateTracking
		t.sessionStart = now
	} else {
		t.state = stateIdle
		t.sessionStart = time.Time{}
	}
	t.logger.Info("Statistics reset")
}

// closeHabitSession 闭合当前习惯区间（调用方必须持锁）
func (t *Tracker) closeHabitSession(now time.Time) *ClosedSession {
	duration := now.Sub(t.habitStart)
	if duration < 0 {
		duration = 0
	}

	t.sessions = append(t.sessions, models.HabitSession{
		StartTime:       t.habitStart,
		EndTime:         now,
		DurationSeconds: duration.Seconds(),
	})
	t.totalHabitTime += duration

	closed := &ClosedSession{
		HabitClass: t.habitClass,
		StartTime:  t.habitStart,
		EndTime:    now,
		Duration:   duration,
	}

	t.state = stateTracking
	t.habitStart = time.Time{}
	t.habitClass = ""

	t.logger.Info("Habit session ended",
		zap.String("habit_class", closed.HabitClass),
		zap.String("duration", FormatDuration(duration)))
	return closed
}

// recordDetection 记录检测历史并刷新最近一次检测（调用方必须持锁）
func (t *Tracker) recordDetection(detected bool, class string, confidence float64, now time.Time) {
	record := models.DetectionRecord{
		Class:      class,
		Confidence: confidence,
		Detected:   detected,
		Timestamp:  now,
	}
	t.lastDetection = &record

	t.history = append(t.history, record)
	if len(t.history) > historyLimit {
		t.history = t.history[1:]
	}
}

// ExportStats 导出持久化统计记录（锁内整体拷贝）
//
// 只包含已闭合的区间；进行中的区间由 End 闭合后再导出。
func (t *Tracker) ExportStats(now time.Time) *models.SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := &models.SessionStats{
		SessionStartTime:      t.sessionStart,
		TotalDetections:       t.totalDetections,
		TotalHabitTimeSeconds: t.totalHabitTime.Seconds(),
		HabitSessions:         make([]models.HabitSession, len(t.sessions)),
		DetectionHistory:      make([]models.DetectionRecord, len(t.history)),
		LastSavedAt:           now,
	}
	copy(stats.HabitSessions, t.sessions)
	copy(stats.DetectionHistory, t.history)
	return stats
}
