// Package service 组装监测服务：摄取、归一化、会话跟踪、报警、看板与持久化
package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"habit-monitor/internal/alert"
	"habit-monitor/internal/broker"
	"habit-monitor/internal/config"
	"habit-monitor/internal/consumer"
	"habit-monitor/internal/dashboard"
	"habit-monitor/internal/models"
	"habit-monitor/internal/repository"
	"habit-monitor/internal/tracker"
	"habit-monitor/internal/transformer"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// runner 可启动/停止的摄取源
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Monitor 习惯监测服务（整合各层）
type Monitor struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *broker.MQTTClient

	// 各层组件
	transformer   *transformer.ClassificationTransformer
	tracker       *tracker.Tracker
	alerts        *alert.Manager
	soundNotifier *alert.CommandNotifier
	display       *dashboard.Renderer
	statsRepo     *repository.StatsFileRepository
	archiveRepo   *repository.SessionArchiveRepository
	snapshotCache *repository.SnapshotCache
	source        runner

	sessionID    string
	sessionStart time.Time

	mu      sync.Mutex
	running bool
}

// NewMonitor 创建监测服务
func NewMonitor(cfg *config.Config, logger *zap.Logger) (*Monitor, error) {
	m := &Monitor{
		config:    cfg,
		logger:    logger,
		sessionID: uuid.New().String(),
	}

	// 1. 连接数据库（可选，仅在启用归档时）
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		m.db = db
	}

	// 2. 连接 Redis（启用缓存或使用 stream 摄取源时）
	if cfg.Redis.Enabled || cfg.Ingest.Source == "stream" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		m.redisClient = redisClient
	}

	// 3. 创建 Repository 层
	m.statsRepo = repository.NewStatsFileRepository(cfg.Monitor.StatsFile, logger)
	if m.db != nil {
		m.archiveRepo = repository.NewSessionArchiveRepository(m.db, logger)
		if err := m.archiveRepo.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	if m.redisClient != nil {
		kv := repository.NewRedisKVStore(m.redisClient)
		m.snapshotCache = repository.NewSnapshotCache(kv, cfg.Cache.LiveKeyPrefix, cfg.Cache.LiveTTL, logger)
	}

	// 4. 创建核心组件
	m.transformer = transformer.NewClassificationTransformer(logger)
	m.tracker = tracker.New(logger)

	m.soundNotifier = alert.NewCommandNotifier(cfg.Alert.SoundFile, logger)
	var notifiers []alert.Notifier
	if m.soundNotifier.Available() {
		notifiers = append(notifiers, m.soundNotifier)
	}
	if cfg.Alert.Desktop {
		notifiers = append(notifiers, alert.NewDesktopNotifier("habit-monitor", logger))
	}
	m.alerts = alert.NewManager(cfg.Alert.Enabled, cfg.Alert.Cooldown, notifiers, nil, logger)

	m.display = dashboard.NewRenderer(m.tracker, cfg.Dashboard.Refresh, nil, logger)

	// 5. 创建摄取源
	switch cfg.Ingest.Source {
	case "mqtt":
		mqttClient, err := broker.NewMQTTClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT client: %w", err)
		}
		m.mqttClient = mqttClient
		m.source = consumer.NewMQTTConsumer(cfg, mqttClient, m, logger)
	case "stream":
		m.source = consumer.NewStreamConsumer(cfg, m.redisClient, m, logger)
	case "sim":
		m.source = consumer.NewSimFeeder(cfg, m, logger)
	default:
		return nil, fmt.Errorf("unknown ingest source: %s", cfg.Ingest.Source)
	}

	logger.Info("Habit monitor initialized",
		zap.String("session_id", m.sessionID),
		zap.String("source", cfg.Ingest.Source),
		zap.String("target_class", cfg.Monitor.TargetClass),
		zap.Float64("confidence_threshold", cfg.Monitor.ConfidenceThreshold),
	)

	return m, nil
}

// HandleResult 处理一帧推理结果
// 畸形载荷归一化为 unknown/0.0 并按"未检测"处理，绝不中断摄取链路
func (m *Monitor) HandleResult(ctx context.Context, payload []byte) error {
	result := m.transformer.Transform(payload)
	now := time.Now()

	detected := m.isTargetDetected(result)

	opened, closed := m.tracker.Update(detected, result.Class, result.Confidence, now)

	if detected {
		// 报警由冷却门限流，声音派发异步进行，不阻塞摄取
		if fired := m.alerts.PlayWarning(result.Class, result.Confidence); fired {
			m.logger.Info("Habit detected",
				zap.String("class", result.Class),
				zap.Float64("confidence", result.Confidence),
			)
			m.archiveAlertEvent(ctx, result, now)
		}
	}

	if opened {
		m.logger.Debug("Habit session opened",
			zap.String("class", result.Class),
			zap.Float64("confidence", result.Confidence),
		)
	}

	if closed != nil {
		m.logger.Debug("Habit session closed",
			zap.String("class", closed.HabitClass),
			zap.Duration("duration", closed.Duration),
		)
		m.archiveHabitSession(ctx, closed)
	}

	return nil
}

// isTargetDetected 判定一帧归一化结果是否算作习惯行为
// 目标类别为空时，任何非 unknown 类别达到阈值即算检出
func (m *Monitor) isTargetDetected(result models.DetectionResult) bool {
	if result.Confidence < m.config.Monitor.ConfidenceThreshold {
		return false
	}
	if m.config.Monitor.TargetClass != "" {
		return result.Class == m.config.Monitor.TargetClass
	}
	return !result.IsUnknown()
}

// Start 启动监测，阻塞直至 ctx 取消或摄取源致命失败
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is already running")
	}
	m.running = true
	m.mu.Unlock()

	now := time.Now()

	// 1. 加载历史统计并回种
	if stats, err := m.statsRepo.Load(); err != nil {
		m.logger.Warn("Failed to load stats file", zap.Error(err))
	} else if stats != nil {
		m.tracker.Seed(stats)
		m.logger.Info("Seeded tracker from stats file",
			zap.String("path", m.statsRepo.Path()),
			zap.Int("total_detections", stats.TotalDetections),
			zap.Int("habit_sessions", len(stats.HabitSessions)),
		)
	}

	// 2. 开始新会话
	m.tracker.Start(now)
	m.sessionStart = now

	// 3. 启动看板
	if m.config.Dashboard.Enabled {
		m.display.Banner(m.config)
		m.display.Start()
	}

	// 4. 实时快照发布与自动保存
	if m.snapshotCache != nil {
		go m.publishLoop(ctx)
	}
	if m.config.Monitor.AutosaveInterval > 0 {
		go m.autosaveLoop(ctx)
	}

	m.logger.Info("Habit monitoring started",
		zap.String("session_id", m.sessionID),
		zap.Time("session_start", m.sessionStart),
	)

	// 5. 启动摄取源（阻塞）
	if err := m.source.Start(ctx); err != nil {
		return fmt.Errorf("ingest source failed: %w", err)
	}
	return nil
}

// Stop 停止监测：闭合会话、落盘、停看板、断开连接。重复调用不生效
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping habit monitoring...")

	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 1. 结束会话（进行中的习惯区间强制闭合）
	if closed := m.tracker.End(now); closed != nil {
		m.archiveHabitSession(ctx, closed)
	}

	// 2. 保存统计
	if err := m.saveStats(now); err != nil {
		m.logger.Error("Failed to save session stats", zap.Error(err))
	}

	// 3. 发布最终快照
	m.publishSnapshot(ctx, now)

	// 4. 停止看板并输出总结
	if m.config.Dashboard.Enabled {
		m.display.Stop()
		m.display.ShutdownSummary(m.tracker.Snapshot(now))
	}

	// 5. 停止摄取源
	if m.source != nil {
		if err := m.source.Stop(ctx); err != nil {
			m.logger.Error("Failed to stop ingest source", zap.Error(err))
		}
	}

	// 6. 断开外部连接
	if m.mqttClient != nil {
		m.mqttClient.Disconnect()
	}
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil {
			m.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	m.logger.Info("Habit monitoring stopped",
		zap.String("session_id", m.sessionID),
	)
	return nil
}

// publishLoop 周期性发布实时快照到缓存
func (m *Monitor) publishLoop(ctx context.Context) {
	refresh := m.config.Dashboard.Refresh
	if refresh <= 0 {
		refresh = time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishSnapshot(ctx, time.Now())
		}
	}
}

// publishSnapshot 发布一次格式化快照
func (m *Monitor) publishSnapshot(ctx context.Context, now time.Time) {
	if m.snapshotCache == nil {
		return
	}

	stats := m.tracker.Snapshot(now).Formatted()
	if err := m.snapshotCache.Publish(ctx, m.sessionID, stats); err != nil {
		m.logger.Warn("Failed to publish live snapshot", zap.Error(err))
	}
}

// autosaveLoop 周期性保存统计文件，崩溃时最多丢一个保存周期
func (m *Monitor) autosaveLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.Monitor.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.saveStats(time.Now()); err != nil {
				m.logger.Warn("Autosave failed", zap.Error(err))
			}
		}
	}
}

// saveStats 导出并写统计文件
func (m *Monitor) saveStats(now time.Time) error {
	return m.statsRepo.Save(m.tracker.ExportStats(now))
}

// archiveHabitSession 归档一个已闭合的习惯区间（未配置数据库时跳过）
func (m *Monitor) archiveHabitSession(ctx context.Context, closed *tracker.ClosedSession) {
	if m.archiveRepo == nil {
		return
	}

	record := &models.HabitSessionRecord{
		SessionStartTime: m.sessionStart,
		HabitClass:       closed.HabitClass,
		StartTime:        closed.StartTime,
		EndTime:          closed.EndTime,
		DurationSeconds:  closed.Duration.Seconds(),
	}
	if err := m.archiveRepo.CreateHabitSession(ctx, record); err != nil {
		m.logger.Warn("Failed to archive habit session", zap.Error(err))
	}
}

// archiveAlertEvent 归档一次报警事件（未配置数据库时跳过）
func (m *Monitor) archiveAlertEvent(ctx context.Context, result models.DetectionResult, now time.Time) {
	if m.archiveRepo == nil {
		return
	}

	event := &models.AlertEvent{
		SessionStartTime: m.sessionStart,
		HabitClass:       result.Class,
		Confidence:       result.Confidence,
		TriggeredAt:      now,
	}
	if err := m.archiveRepo.CreateAlertEvent(ctx, event); err != nil {
		m.logger.Warn("Failed to archive alert event", zap.Error(err))
	}
}

// ============ 自检与状态 ============

// ValidationResult 自检单项结果
type ValidationResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ValidateSetup 启动自检
// 声音播放器缺失只降级提示（终端响铃兜底），不算失败
func (m *Monitor) ValidateSetup(ctx context.Context) []ValidationResult {
	var results []ValidationResult

	// 推理服务（仅在配置了健康检查地址时）
	if m.config.Inference.HealthURL != "" {
		if m.config.Inference.APIKey != "" && m.config.Inference.APIKey != "your-api-key-here" {
			results = append(results, ValidationResult{"API Key", true, "API key is set"})
		} else {
			results = append(results, ValidationResult{"API Key", false, "ROBOFLOW_API_KEY not set or invalid"})
		}

		probe := NewInferenceProbe(m.config.Inference.HealthURL, m.config.Inference.APIKey, m.logger)
		if err := probe.CheckHealth(ctx); err != nil {
			results = append(results, ValidationResult{"Inference Service", false, err.Error()})
		} else {
			results = append(results, ValidationResult{"Inference Service", true, "Inference service healthy"})
		}
	}

	// 统计文件目录可写
	if err := checkDirWritable(filepath.Dir(m.config.Monitor.StatsFile)); err != nil {
		results = append(results, ValidationResult{"Stats Directory", false, err.Error()})
	} else {
		results = append(results, ValidationResult{"Stats Directory", true, "Stats directory writable"})
	}

	// 声音播放器（仅提示，响铃兜底）
	if m.soundNotifier != nil && m.soundNotifier.Available() {
		results = append(results, ValidationResult{"Sound Player", true, "Sound player found"})
	} else {
		results = append(results, ValidationResult{"Sound Player", true, "No sound player found, falling back to terminal bell"})
	}

	// 报警链路
	if m.config.Alert.Enabled {
		if err := m.alerts.Test(ctx); err != nil {
			results = append(results, ValidationResult{"Alert System", false, err.Error()})
		} else {
			results = append(results, ValidationResult{"Alert System", true, "Alert system working"})
		}
	}

	// 摄取源连通性
	switch m.config.Ingest.Source {
	case "mqtt":
		if m.mqttClient != nil && m.mqttClient.IsConnected() {
			results = append(results, ValidationResult{"Ingest Source", true, "MQTT broker connected"})
		} else {
			results = append(results, ValidationResult{"Ingest Source", false, "MQTT broker not connected"})
		}
	case "stream":
		if m.redisClient != nil {
			if err := m.redisClient.Ping(ctx).Err(); err != nil {
				results = append(results, ValidationResult{"Ingest Source", false, fmt.Sprintf("redis ping failed: %v", err)})
			} else {
				results = append(results, ValidationResult{"Ingest Source", true, "Redis stream reachable"})
			}
		} else {
			results = append(results, ValidationResult{"Ingest Source", false, "redis client not configured"})
		}
	case "sim":
		results = append(results, ValidationResult{"Ingest Source", true, "Simulated source ready"})
	}

	return results
}

// checkDirWritable 检查目录可写（不存在时尝试创建）
func checkDirWritable(dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".habit-monitor-check-*")
	if err != nil {
		return fmt.Errorf("stats directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// StatusReport 运行状态汇总
type StatusReport struct {
	Running       bool                    `json:"running"`
	SessionID     string                  `json:"session_id"`
	SessionStart  time.Time               `json:"session_start"`
	Source        string                  `json:"source"`
	StatsFile     string                  `json:"stats_file"`
	Stats         tracker.FormattedStats  `json:"stats"`
	Alerts        alert.Status            `json:"alerts"`
	LastDetection *models.DetectionRecord `json:"last_detection,omitempty"`
}

// Status 返回当前运行状态
func (m *Monitor) Status() StatusReport {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	snap := m.tracker.Snapshot(time.Now())

	return StatusReport{
		Running:       running,
		SessionID:     m.sessionID,
		SessionStart:  m.sessionStart,
		Source:        m.config.Ingest.Source,
		StatsFile:     m.config.Monitor.StatsFile,
		Stats:         snap.Formatted(),
		Alerts:        m.alerts.Status(),
		LastDetection: snap.LastDetection,
	}
}
