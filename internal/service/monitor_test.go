package service

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"habit-monitor/internal/alert"
	"habit-monitor/internal/config"
	"habit-monitor/internal/dashboard"
	"habit-monitor/internal/models"
	"habit-monitor/internal/repository"
	"habit-monitor/internal/tracker"
	"habit-monitor/internal/transformer"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 可控摄取源
type fakeSource struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeSource) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (s *fakeSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func testMonitorConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.ConfidenceThreshold = 0.5
	cfg.Monitor.StatsFile = filepath.Join(t.TempDir(), "stats.json")
	cfg.Alert.Enabled = true
	cfg.Alert.Cooldown = time.Hour // 测试中只允许首次报警
	cfg.Ingest.Source = "sim"
	cfg.Ingest.SimInterval = 10 * time.Millisecond
	cfg.Dashboard.Refresh = time.Second
	return cfg
}

// newTestMonitor 手工组装监测服务，不触达外部依赖
func newTestMonitor(t *testing.T, cfg *config.Config) *Monitor {
	logger := zap.NewNop()
	trk := tracker.New(logger)

	m := &Monitor{
		config:      cfg,
		logger:      logger,
		transformer: transformer.NewClassificationTransformer(logger),
		tracker:     trk,
		alerts:      alert.NewManager(cfg.Alert.Enabled, cfg.Alert.Cooldown, nil, alert.NewBellNotifier(&bytes.Buffer{}), logger),
		display:     dashboard.NewRenderer(trk, cfg.Dashboard.Refresh, &bytes.Buffer{}, logger),
		statsRepo:   repository.NewStatsFileRepository(cfg.Monitor.StatsFile, logger),
		source:      &fakeSource{},
		sessionID:   "test-session",
	}
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// ============ 检出判定 ============

func TestMonitor_IsTargetDetected(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	tests := []struct {
		name     string
		target   string
		class    string
		conf     float64
		expected bool
	}{
		{"any class above threshold", "", "chomping", 0.9, true},
		{"exactly at threshold", "", "chomping", 0.5, true},
		{"below threshold", "", "chomping", 0.3, false},
		{"unknown never counts", "", "unknown", 0.9, false},
		{"target match", "chomping", "chomping", 0.8, true},
		{"target mismatch", "chomping", "idle", 0.9, false},
		{"target mismatch below threshold", "chomping", "chomping", 0.2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.config.Monitor.TargetClass = tt.target

			got := m.isTargetDetected(models.DetectionResult{Class: tt.class, Confidence: tt.conf})

			assert.Equal(t, tt.expected, got)
		})
	}
}

// ============ 结果处理链路 ============

func TestMonitor_HandleResult_OpensAndClosesSessions(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)
	m.tracker.Start(time.Now())

	ctx := context.Background()

	// 检出帧：开启习惯区间
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))

	snap := m.tracker.Snapshot(time.Now())
	assert.True(t, snap.HabitActive)
	assert.Equal(t, 1, snap.TotalDetections)
	assert.Equal(t, "chomping", snap.CurrentHabitClass)

	// 空闲帧：闭合区间
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("idle", 0.1)))

	snap = m.tracker.Snapshot(time.Now())
	assert.False(t, snap.HabitActive)
	assert.Equal(t, 1, snap.SessionCount)
}

func TestMonitor_HandleResult_MalformedPayloadNeverErrors(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)
	m.tracker.Start(time.Now())

	ctx := context.Background()

	for _, payload := range [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte(`[1, 2, 3]`),
		[]byte(`{"classification_predictions": "nope"}`),
	} {
		require.NoError(t, m.HandleResult(ctx, payload))
	}

	// 畸形载荷一律按未检测处理
	snap := m.tracker.Snapshot(time.Now())
	assert.Equal(t, 0, snap.TotalDetections)
	assert.False(t, snap.HabitActive)
}

func TestMonitor_HandleResult_ArchivesEvents(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m.archiveRepo = repository.NewSessionArchiveRepository(db, zap.NewNop())

	m.sessionStart = time.Now()
	m.tracker.Start(m.sessionStart)

	// 首个检出帧触发报警归档，闭合帧触发区间归档
	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs(sqlmock.AnyArg(), m.sessionStart, "chomping", 0.9, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO habit_sessions`).
		WithArgs(sqlmock.AnyArg(), m.sessionStart, "chomping",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("idle", 0.1)))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_HandleResult_CooldownSuppressesArchive(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m.archiveRepo = repository.NewSessionArchiveRepository(db, zap.NewNop())

	m.sessionStart = time.Now()
	m.tracker.Start(m.sessionStart)

	// 冷却期内连续检出只归档一次报警
	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs(sqlmock.AnyArg(), m.sessionStart, "chomping", 0.9, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============ 生命周期 ============

func TestMonitor_StartStop_Lifecycle(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)
	src := m.source.(*fakeSource)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Start(ctx)
	}()

	waitFor(t, time.Second, func() bool { return m.Status().Running })

	// 运行期间喂入一个完整的习惯区间
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("chomping", 0.9)))
	require.NoError(t, m.HandleResult(ctx, transformer.MockResult("idle", 0.1)))

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, m.Stop())

	assert.True(t, src.wasStopped())
	assert.False(t, m.Status().Running)

	// 统计已落盘
	saved, err := m.statsRepo.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.TotalDetections)
	assert.Len(t, saved.HabitSessions, 1)
	assert.False(t, saved.SessionStartTime.IsZero())

	// 重复 Stop 不生效
	require.NoError(t, m.Stop())
}

func TestMonitor_Start_SeedsFromStatsFile(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	// 预写统计文件
	prior := &models.SessionStats{
		SessionStartTime:      time.Now().Add(-time.Hour),
		TotalDetections:       5,
		TotalHabitTimeSeconds: 120,
		HabitSessions: []models.HabitSession{
			{StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(-58 * time.Minute), DurationSeconds: 120},
		},
	}
	require.NoError(t, m.statsRepo.Save(prior))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Start(ctx)
	}()

	waitFor(t, time.Second, func() bool { return m.Status().Running })

	status := m.Status()
	assert.Equal(t, 5, status.Stats.TotalDetections)
	assert.Equal(t, 1, status.Stats.HabitSessionsCount)
	assert.Equal(t, "0:02:00", status.Stats.TotalHabitTime)

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, m.Stop())
}

func TestMonitor_Start_Twice(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Start(ctx)
	}()
	waitFor(t, time.Second, func() bool { return m.Status().Running })

	// 重复启动报错
	err := m.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, m.Stop())
}

func TestMonitor_Stop_WithoutStart(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	require.NoError(t, m.Stop())
}

// ============ 自检与状态 ============

func TestMonitor_ValidateSetup_SimSource(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	results := m.ValidateSetup(context.Background())

	byName := make(map[string]ValidationResult)
	for _, r := range results {
		byName[r.Name] = r
	}

	// 未配置健康检查地址时不做推理服务检查
	assert.NotContains(t, byName, "API Key")
	assert.NotContains(t, byName, "Inference Service")

	require.Contains(t, byName, "Stats Directory")
	assert.True(t, byName["Stats Directory"].Success)

	// 声音播放器缺失只降级，不判失败
	require.Contains(t, byName, "Sound Player")
	assert.True(t, byName["Sound Player"].Success)

	require.Contains(t, byName, "Alert System")
	assert.True(t, byName["Alert System"].Success)

	require.Contains(t, byName, "Ingest Source")
	assert.True(t, byName["Ingest Source"].Success)
}

func TestMonitor_ValidateSetup_AlertTestRestoresCooldown(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	m.ValidateSetup(context.Background())

	assert.Equal(t, time.Hour.Seconds(), m.alerts.Status().CooldownSeconds)
}

func TestMonitor_Status(t *testing.T) {
	cfg := testMonitorConfig(t)
	m := newTestMonitor(t, cfg)

	status := m.Status()

	assert.False(t, status.Running)
	assert.Equal(t, "test-session", status.SessionID)
	assert.Equal(t, "sim", status.Source)
	assert.Equal(t, cfg.Monitor.StatsFile, status.StatsFile)
	assert.Equal(t, "0:00:00", status.Stats.SessionDuration)
	assert.True(t, status.Alerts.Enabled)
}

func TestCheckDirWritable(t *testing.T) {
	require.NoError(t, checkDirWritable(t.TempDir()))

	// 不存在的目录会被创建
	nested := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, checkDirWritable(nested))
	assert.DirExists(t, nested)
}
