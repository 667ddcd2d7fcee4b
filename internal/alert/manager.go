package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// dispatchTimeout 单次通知分发的超时上限
const dispatchTimeout = 10 * time.Second

// Status 报警状态快照
type Status struct {
	Enabled                 bool     `json:"enabled"`
	CooldownSeconds         float64  `json:"cooldown_seconds"`
	SecondsSinceLastWarning *float64 `json:"seconds_since_last_warning,omitempty"`
	SoundAvailable          bool     `json:"sound_available"`
}

// Manager 报警管理器
//
// 组合冷却门与通知通道。PlayWarning 在检测链路内同步完成
// 冷却判定（微秒级），通知分发交给后台 goroutine，失败只记日志。
// 所有通道都失败时回退到终端响铃。
type Manager struct {
	mu      sync.Mutex
	enabled bool

	gate      *Gate
	notifiers []Notifier
	fallback  Notifier
	logger    *zap.Logger
}

// NewManager 创建报警管理器
//
// notifiers 为按优先级排列的通知通道，fallback 为兜底通道
// （nil 时使用标准输出响铃）。
func NewManager(enabled bool, cooldown time.Duration, notifiers []Notifier, fallback Notifier, logger *zap.Logger) *Manager {
	if fallback == nil {
		fallback = NewBellNotifier(nil)
	}
	return &Manager{
		enabled:   enabled,
		gate:      NewGate(cooldown),
		notifiers: notifiers,
		fallback:  fallback,
		logger:    logger,
	}
}

// PlayWarning 请求播放一次报警
//
// 返回是否实际触发（未启用或处于冷却期内返回 false）。
// 触发时通知分发在后台进行，调用方不会被 I/O 阻塞。
func (m *Manager) PlayWarning(habitClass string, confidence float64) bool {
	if !m.Enabled() {
		return false
	}
	if !m.gate.TryFire(time.Now()) {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := m.dispatch(ctx, habitClass, confidence); err != nil {
			m.logger.Warn("Alert dispatch failed",
				zap.String("habit_class", habitClass),
				zap.Error(err))
		}
	}()
	return true
}

// dispatch 依次尝试各通知通道，全部失败时走兜底响铃
func (m *Manager) dispatch(ctx context.Context, habitClass string, confidence float64) error {
	start := time.Now()

	for _, n := range m.notifiers {
		if err := n.Notify(ctx, habitClass, confidence); err != nil {
			m.logger.Debug("Notifier failed, trying next",
				zap.String("notifier", n.Name()),
				zap.Error(err))
			continue
		}
		m.logger.Debug("Alert dispatched",
			zap.String("notifier", n.Name()),
			zap.String("habit_class", habitClass),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	if err := m.fallback.Notify(ctx, habitClass, confidence); err != nil {
		return fmt.Errorf("all notifiers failed including fallback: %w", err)
	}
	m.logger.Debug("Alert dispatched via fallback bell",
		zap.String("habit_class", habitClass))
	return nil
}

// Test 绕过冷却立即分发一次报警（同步）
//
// 临时将冷却清零触发，结束后恢复原冷却时长，失败也恢复。
func (m *Manager) Test(ctx context.Context) error {
	prev := m.gate.Cooldown()
	m.gate.SetCooldown(0)
	defer m.gate.SetCooldown(prev)

	m.gate.TryFire(time.Now())
	return m.dispatch(ctx, "test", 1.0)
}

// SetCooldown 更新冷却时长（负值钳制为 0）
func (m *Manager) SetCooldown(d time.Duration) {
	m.gate.SetCooldown(d)
}

// SetEnabled 启用/禁用报警（禁用时检测统计照常）
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Enabled 报警是否启用
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Status 报警状态快照
func (m *Manager) Status() Status {
	status := Status{
		Enabled:         m.Enabled(),
		CooldownSeconds: m.gate.Cooldown().Seconds(),
	}
	if last, ok := m.gate.LastFired(); ok {
		since := time.Since(last).Seconds()
		status.SecondsSinceLastWarning = &since
	}
	for _, n := range m.notifiers {
		if cn, ok := n.(*CommandNotifier); ok && cn.Available() {
			status.SoundAvailable = true
		}
	}
	return status
}
