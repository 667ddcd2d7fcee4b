package tracker

import (
	"fmt"
	"time"

	"habit-monitor/internal/models"
)

// Snapshot 会话统计的一致性快照
//
// 在跟踪器锁内整体拷贝生成，所有字段来自同一时刻。
// LiveHabitTime 与 HabitPercentage 计入进行中的区间，
// TotalHabitTime 与 AverageSessionDuration 只计已闭合区间。
type Snapshot struct {
	SessionActive bool
	HabitActive   bool

	SessionStart   time.Time
	SessionElapsed time.Duration

	CurrentHabitClass    string
	CurrentHabitDuration time.Duration
	CurrentConfidence    float64

	TotalDetections int
	TotalHabitTime  time.Duration
	LiveHabitTime   time.Duration
	SessionCount    int

	AverageSessionDuration time.Duration
	HabitPercentage        float64
	DetectionRate          float64

	LastDetection *models.DetectionRecord
}

// Snapshot 生成当前统计快照
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		SessionActive:   t.state == stateTracking || t.state == stateHabitActive,
		HabitActive:     t.state == stateHabitActive,
		SessionStart:    t.sessionStart,
		TotalDetections: t.totalDetections,
		TotalHabitTime:  t.totalHabitTime,
		SessionCount:    len(t.sessions),
	}

	if t.lastDetection != nil {
		record := *t.lastDetection
		snap.LastDetection = &record
	}

	// 会话已结束时按结束时刻截断，未开始时为零
	switch t.state {
	case stateIdle:
		// elapsed 保持 0
	case stateEnded:
		snap.SessionElapsed = t.sessionEnd.Sub(t.sessionStart)
	default:
		snap.SessionElapsed = now.Sub(t.sessionStart)
	}
	if snap.SessionElapsed < 0 {
		snap.SessionElapsed = 0
	}

	if snap.HabitActive {
		snap.CurrentHabitClass = t.habitClass
		snap.CurrentHabitDuration = now.Sub(t.habitStart)
		if snap.CurrentHabitDuration < 0 {
			snap.CurrentHabitDuration = 0
		}
		if t.lastDetection != nil {
			snap.CurrentConfidence = t.lastDetection.Confidence
		}
	}

	snap.LiveHabitTime = snap.TotalHabitTime + snap.CurrentHabitDuration

	// 派生指标：分母为零时取 0
	if snap.SessionCount > 0 {
		snap.AverageSessionDuration = snap.TotalHabitTime / time.Duration(snap.SessionCount)
	}
	if elapsed := snap.SessionElapsed.Seconds(); elapsed > 0 {
		snap.HabitPercentage = snap.LiveHabitTime.Seconds() / elapsed * 100
		snap.DetectionRate = float64(snap.TotalDetections) / (elapsed / 60)
	}

	return snap
}

// FormattedStats 展示用的格式化统计
//
// 时长 H:MM:SS，百分比与频率固定一位小数（与统计文件一同
// 写入快照缓存，供外部看板读取）。
type FormattedStats struct {
	SessionDuration        string `json:"session_duration"`
	TotalDetections        int    `json:"total_detections"`
	TotalHabitTime         string `json:"total_habit_time"`
	CurrentHabitDuration   string `json:"current_habit_duration"`
	HabitSessionsCount     int    `json:"habit_sessions_count"`
	AverageSessionDuration string `json:"average_session_duration"`
	HabitPercentage        string `json:"habit_percentage"`
	DetectionRate          string `json:"detection_rate"`
	IsHabitActive          bool   `json:"is_habit_active"`
}

// Formatted 生成格式化统计
func (s Snapshot) Formatted() FormattedStats {
	return FormattedStats{
		SessionDuration:        FormatDuration(s.SessionElapsed),
		TotalDetections:        s.TotalDetections,
		TotalHabitTime:         FormatDuration(s.TotalHabitTime),
		CurrentHabitDuration:   FormatDuration(s.CurrentHabitDuration),
		HabitSessionsCount:     s.SessionCount,
		AverageSessionDuration: FormatDuration(s.AverageSessionDuration),
		HabitPercentage:        fmt.Sprintf("%.1f%%", s.HabitPercentage),
		DetectionRate:          fmt.Sprintf("%.1f/min", s.DetectionRate),
		IsHabitActive:          s.HabitActive,
	}
}

// FormatDuration 时长格式化为 H:MM:SS（秒向下截断，小时不补零）
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}
