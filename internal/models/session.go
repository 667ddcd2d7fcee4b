package models

import (
	"time"
)

// HabitSession 一次连续的习惯行为区间
// EndTime 为零值表示该区间仍在进行中
type HabitSession struct {
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// IsActive 区间是否仍在进行中
func (s HabitSession) IsActive() bool {
	return s.EndTime.IsZero()
}

// Duration 区间时长（进行中的区间以 now 截断）
func (s HabitSession) Duration(now time.Time) time.Duration {
	if s.IsActive() {
		if now.Before(s.StartTime) {
			return 0
		}
		return now.Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// SessionStats 监控会话统计（会话结束时写入 JSON 文件，启动时回种）
type SessionStats struct {
	SessionStartTime      time.Time         `json:"sessionStartTime"`
	TotalDetections       int               `json:"totalDetections"`
	TotalHabitTimeSeconds float64           `json:"totalHabitTimeSeconds"`
	HabitSessions         []HabitSession    `json:"habitSessions"`
	DetectionHistory      []DetectionRecord `json:"detectionHistory,omitempty"`
	LastSavedAt           time.Time         `json:"lastSavedAt,omitempty"`
}

// HabitSessionRecord 习惯区间归档记录（对应 habit_sessions 表）
type HabitSessionRecord struct {
	RecordID         string    `json:"record_id" db:"record_id"`
	SessionStartTime time.Time `json:"session_start_time" db:"session_start_time"`
	HabitClass       string    `json:"habit_class" db:"habit_class"`
	StartTime        time.Time `json:"start_time" db:"start_time"`
	EndTime          time.Time `json:"end_time" db:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds" db:"duration_seconds"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// AlertEvent 报警事件归档记录（对应 alert_events 表）
type AlertEvent struct {
	EventID          string    `json:"event_id" db:"event_id"`
	SessionStartTime time.Time `json:"session_start_time" db:"session_start_time"`
	HabitClass       string    `json:"habit_class" db:"habit_class"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	TriggeredAt      time.Time `json:"triggered_at" db:"triggered_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
