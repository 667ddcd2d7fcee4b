// Package alert 提供习惯检测的报警能力
//
// 包含冷却门（防止报警刷屏）、多种通知通道（系统声音、桌面通知、
// 终端响铃兜底）以及统一的报警管理器。报警分发为 fire-and-forget，
// 失败只记日志，绝不阻塞检测链路。
package alert

import (
	"sync"
	"time"
)

// Gate 报警冷却门
//
// 检查与记录在同一把锁内完成，并发调用同一时刻只放行一次。
// 距上次放行不足冷却时长的调用全部抑制。
type Gate struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastFired time.Time
	hasFired  bool
}

// NewGate 创建冷却门，负的冷却时长按 0 处理
func NewGate(cooldown time.Duration) *Gate {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Gate{cooldown: cooldown}
}

// TryFire 原子地检查并记录一次触发
//
// 首次调用必定放行；之后仅当 now 距上次放行 >= 冷却时长才放行。
// 时钟回拨时 now 早于上次放行，差值为负，自然被抑制。
func (g *Gate) TryFire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hasFired && now.Sub(g.lastFired) < g.cooldown {
		return false
	}
	g.lastFired = now
	g.hasFired = true
	return true
}

// SetCooldown 更新冷却时长，负值钳制为 0
func (g *Gate) SetCooldown(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = d
}

// Cooldown 当前冷却时长
func (g *Gate) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// LastFired 上次放行时刻，从未放行时 ok 为 false
func (g *Gate) LastFired() (t time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFired, g.hasFired
}
