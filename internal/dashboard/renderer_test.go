package dashboard

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"habit-monitor/internal/config"
	"habit-monitor/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBase() time.Time {
	return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
}

// ============ 帧内容 ============

func TestBuildFrame_Idle(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	frame := buildFrame(trk.Snapshot(testBase()))

	assert.Contains(t, frame, "HABIT MONITOR - REAL-TIME STATUS")
	assert.Contains(t, frame, "Session Duration: 0:00:00")
	assert.Contains(t, frame, "✅ No Bad Habits Detected")
	assert.Contains(t, frame, "Total Detections: 0")
	assert.Contains(t, frame, "Press Ctrl+C to stop monitoring")
	// 无已闭合区间时不显示派生统计
	assert.NotContains(t, frame, "Average Session:")
	assert.NotContains(t, frame, "Habit Percentage:")
}

func TestBuildFrame_ActiveHabit(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	base := testBase()
	trk.Start(base)
	trk.Update(true, "chomping", 0.87, base.Add(time.Second))

	frame := buildFrame(trk.Snapshot(base.Add(3 * time.Second)))

	assert.Contains(t, frame, "🚨 HABIT DETECTED: Shirt Chomping 👕")
	assert.Contains(t, frame, "Current Session: 0:00:02")
	assert.Contains(t, frame, "Confidence: 87.0%")
	assert.Contains(t, frame, "Session Duration: 0:00:03")
	assert.NotContains(t, frame, "No Bad Habits")
}

func TestBuildFrame_ClosedSessions(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	base := testBase()
	trk.Start(base)
	trk.Update(true, "chomping", 0.9, base.Add(1*time.Second))
	trk.Update(false, "idle", 0.2, base.Add(3*time.Second))

	frame := buildFrame(trk.Snapshot(base.Add(10 * time.Second)))

	assert.Contains(t, frame, "✅ No Bad Habits Detected")
	assert.Contains(t, frame, "Last Confidence: 20.0%")
	assert.Contains(t, frame, "Number of Sessions: 1")
	assert.Contains(t, frame, "Average Session: 0:00:02")
	assert.Contains(t, frame, "Habit Percentage: 20.0%")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Shirt Chomping 👕", DisplayName("chomping"))
	assert.Equal(t, "Nail Biting 💅", DisplayName("nail-biting"))
	assert.Equal(t, "Unknown Habit", DisplayName("unknown"))
	assert.Equal(t, "Habit: doom-scrolling", DisplayName("doom-scrolling"))
}

func TestCenterText(t *testing.T) {
	assert.Equal(t, "  ab  ", centerText("ab", 6))
	assert.Equal(t, " ab  ", centerText("ab", 5))
	assert.Equal(t, "ab", centerText("ab", 2))
	assert.Equal(t, "abcd", centerText("abcd", 2))
}

// ============ 渲染循环 ============

func TestRenderer_StartStop_Idempotent(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	var buf bytes.Buffer
	r := NewRenderer(trk, 5*time.Millisecond, &buf, zap.NewNop())

	r.Start()
	r.Start() // 重复启动不生效
	assert.True(t, r.Running())

	time.Sleep(30 * time.Millisecond)

	r.Stop()
	r.Stop() // 重复停止不生效
	assert.False(t, r.Running())

	assert.Contains(t, buf.String(), "HABIT MONITOR - REAL-TIME STATUS")
}

func TestRenderer_StopWithoutStart(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	r := NewRenderer(trk, time.Second, &bytes.Buffer{}, zap.NewNop())

	// 未启动时 Stop 直接返回
	r.Stop()
	assert.False(t, r.Running())
}

// blockedWriter 模拟卡死的输出端
type blockedWriter struct {
	release chan struct{}
}

func (w *blockedWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestRenderer_StopBoundedWhenRenderWedged(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	w := &blockedWriter{release: make(chan struct{})}
	defer close(w.release)

	r := NewRenderer(trk, 5*time.Millisecond, w, zap.NewNop())
	r.Start()

	// 等首次渲染卡在 Write 上
	time.Sleep(20 * time.Millisecond)

	started := time.Now()
	r.Stop()
	elapsed := time.Since(started)

	// Stop 不等待卡死的渲染，最多 stopTimeout
	assert.Less(t, elapsed, 3*time.Second)
	assert.False(t, r.Running())
}

// failingWriter 每次写入都失败
type failingWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return 0, errors.New("terminal gone")
}

func (w *failingWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func TestRenderer_RenderFaultKeepsLoopAlive(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	w := &failingWriter{}

	r := NewRenderer(trk, 5*time.Millisecond, w, zap.NewNop())
	r.faultBackoff = 5 * time.Millisecond
	r.Start()

	time.Sleep(60 * time.Millisecond)
	r.Stop()

	// 渲染持续失败，循环仍多次尝试而非退出
	assert.Greater(t, w.callCount(), 2)
}

// panicOnceWriter 首次写入 panic，之后正常
type panicOnceWriter struct {
	mu    sync.Mutex
	calls int
	buf   bytes.Buffer
}

func (w *panicOnceWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls == 1 {
		panic("render exploded")
	}
	return w.buf.Write(p)
}

func (w *panicOnceWriter) contents() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestRenderer_PanicRecovered(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	w := &panicOnceWriter{}

	r := NewRenderer(trk, 5*time.Millisecond, w, zap.NewNop())
	r.faultBackoff = 5 * time.Millisecond
	r.Start()

	time.Sleep(60 * time.Millisecond)
	r.Stop()

	// panic 被兜住，后续帧照常渲染
	assert.Contains(t, w.contents(), "HABIT MONITOR")
}

// ============ 横幅与总结 ============

func TestBanner(t *testing.T) {
	cfg := &config.Config{}
	cfg.Monitor.ConfidenceThreshold = 0.5
	cfg.Alert.Cooldown = 5 * time.Second
	cfg.Ingest.Source = "sim"
	cfg.Monitor.StatsFile = "habit_stats.json"

	var buf bytes.Buffer
	r := NewRenderer(tracker.New(zap.NewNop()), time.Second, &buf, zap.NewNop())

	r.Banner(cfg)

	out := buf.String()
	assert.Contains(t, out, "HABIT MONITOR")
	assert.Contains(t, out, "(any known class)")
	assert.Contains(t, out, "Confidence:      0.50")
	assert.Contains(t, out, "Ingest Source:   sim")
}

func TestShutdownSummary(t *testing.T) {
	trk := tracker.New(zap.NewNop())
	base := testBase()
	trk.Start(base)
	trk.Update(true, "chomping", 0.9, base.Add(1*time.Second))
	trk.Update(false, "idle", 0.1, base.Add(4*time.Second))
	trk.End(base.Add(10 * time.Second))

	var buf bytes.Buffer
	r := NewRenderer(trk, time.Second, &buf, zap.NewNop())

	r.ShutdownSummary(trk.Snapshot(base.Add(10 * time.Second)))

	out := buf.String()
	assert.Contains(t, out, "Session Summary:")
	assert.Contains(t, out, "Total Duration: 0:00:10")
	assert.Contains(t, out, "Total Habit Time: 0:00:03")
	assert.Contains(t, out, "Total Detections: 1")
	assert.Contains(t, out, "Number of Sessions: 1")
	assert.Contains(t, out, "Average Session: 0:00:03")

	require.True(t, strings.Contains(out, "Stopping habit monitoring"))
}
