package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"habit-monitor/internal/models"
)

// SessionArchiveRepository 会话归档仓库（PostgreSQL）
//
// 可选能力：配置了数据库后，闭合的习惯区间与触发的报警事件
// 逐条归档，供跨会话查询。未配置时服务不创建该仓库。
type SessionArchiveRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionArchiveRepository 创建会话归档仓库
func NewSessionArchiveRepository(db *sql.DB, logger *zap.Logger) *SessionArchiveRepository {
	return &SessionArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// schemaDDL 归档表结构（与 scripts/init_db.sql 保持一致）
const schemaDDL = `
CREATE TABLE IF NOT EXISTS habit_sessions (
	record_id          UUID PRIMARY KEY,
	session_start_time TIMESTAMPTZ NOT NULL,
	habit_class        VARCHAR(64) NOT NULL,
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ NOT NULL,
	duration_seconds   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_habit_sessions_start_time ON habit_sessions (start_time DESC);
CREATE INDEX IF NOT EXISTS idx_habit_sessions_habit_class ON habit_sessions (habit_class);

CREATE TABLE IF NOT EXISTS alert_events (
	event_id           UUID PRIMARY KEY,
	session_start_time TIMESTAMPTZ NOT NULL,
	habit_class        VARCHAR(64) NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	triggered_at       TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_alert_events_triggered_at ON alert_events (triggered_at DESC);
CREATE INDEX IF NOT EXISTS idx_alert_events_habit_class ON alert_events (habit_class);
`

// EnsureSchema 创建归档表结构（幂等）
func (r *SessionArchiveRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	r.logger.Info("Archive schema ensured")
	return nil
}

// HabitSessionFilters 习惯区间查询过滤条件
type HabitSessionFilters struct {
	HabitClass *string    // 按分类过滤
	Since      *time.Time // start_time >= Since
	Until      *time.Time // start_time <= Until
	Limit      int        // 0 表示默认 100
}

// CreateHabitSession 归档一条闭合的习惯区间
func (r *SessionArchiveRepository) CreateHabitSession(ctx context.Context, record *models.HabitSessionRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.HabitClass == "" {
		return fmt.Errorf("habit_class is required")
	}
	if record.StartTime.IsZero() || record.EndTime.IsZero() {
		return fmt.Errorf("start_time and end_time are required")
	}

	if record.RecordID == "" {
		record.RecordID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO habit_sessions (
			record_id,
			session_start_time,
			habit_class,
			start_time,
			end_time,
			duration_seconds,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		record.SessionStartTime,
		record.HabitClass,
		record.StartTime,
		record.EndTime,
		record.DurationSeconds,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create habit session record: %w", err)
	}

	r.logger.Debug("Habit session archived",
		zap.String("record_id", record.RecordID),
		zap.String("habit_class", record.HabitClass),
		zap.Float64("duration_seconds", record.DurationSeconds))
	return nil
}

// CreateAlertEvent 归档一条报警事件
func (r *SessionArchiveRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.HabitClass == "" {
		return fmt.Errorf("habit_class is required")
	}
	if event.TriggeredAt.IsZero() {
		return fmt.Errorf("triggered_at is required")
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			session_start_time,
			habit_class,
			confidence,
			triggered_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionStartTime,
		event.HabitClass,
		event.Confidence,
		event.TriggeredAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// GetRecentAlertEvent 查询某分类最近 within 时间内的报警事件
//
// 用于冷却审计与重复报警排查，没有命中返回 (nil, nil)。
func (r *SessionArchiveRepository) GetRecentAlertEvent(ctx context.Context, habitClass string, within time.Duration) (*models.AlertEvent, error) {
	if habitClass == "" {
		return nil, fmt.Errorf("habit_class is required")
	}
	if within <= 0 {
		return nil, fmt.Errorf("within must be positive")
	}

	query := `
		SELECT
			event_id,
			session_start_time,
			habit_class,
			confidence,
			triggered_at,
			created_at
		FROM alert_events
		WHERE habit_class = $1
		  AND triggered_at >= $2
		ORDER BY triggered_at DESC
		LIMIT 1
	`

	cutoff := time.Now().Add(-within)
	var event models.AlertEvent
	err := r.db.QueryRowContext(ctx, query, habitClass, cutoff).Scan(
		&event.EventID,
		&event.SessionStartTime,
		&event.HabitClass,
		&event.Confidence,
		&event.TriggeredAt,
		&event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query recent alert event: %w", err)
	}
	return &event, nil
}

// ListHabitSessions 查询归档的习惯区间
func (r *SessionArchiveRepository) ListHabitSessions(ctx context.Context, filters HabitSessionFilters) ([]models.HabitSessionRecord, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filters.HabitClass != nil {
		conditions = append(conditions, fmt.Sprintf("habit_class = $%d", argPos))
		args = append(args, *filters.HabitClass)
		argPos++
	}
	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", argPos))
		args = append(args, *filters.Since)
		argPos++
	}
	if filters.Until != nil {
		conditions = append(conditions, fmt.Sprintf("start_time <= $%d", argPos))
		args = append(args, *filters.Until)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT
			record_id,
			session_start_time,
			habit_class,
			start_time,
			end_time,
			duration_seconds,
			created_at
		FROM habit_sessions
		%s
		ORDER BY start_time DESC
		LIMIT %d
	`, whereClause, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list habit sessions: %w", err)
	}
	defer rows.Close()

	records := []models.HabitSessionRecord{}
	for rows.Next() {
		var record models.HabitSessionRecord
		if err := rows.Scan(
			&record.RecordID,
			&record.SessionStartTime,
			&record.HabitClass,
			&record.StartTime,
			&record.EndTime,
			&record.DurationSeconds,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan habit session record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate habit session records: %w", err)
	}
	return records, nil
}
