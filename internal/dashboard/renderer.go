// Package dashboard 实现终端实时看板
// 按固定周期渲染会话统计快照，渲染失败不影响数据处理链路
package dashboard

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"habit-monitor/internal/config"
	"habit-monitor/internal/models"
	"habit-monitor/internal/tracker"

	"go.uber.org/zap"
)

const (
	defaultRefresh = time.Second
	stopTimeout    = 2 * time.Second
	headerWidth    = 60

	// ANSI 清屏并将光标移回左上角
	clearScreen = "\033[2J\033[H"
)

// 习惯类别的展示名称，未登记的类别显示原始标识
var habitDisplayNames = map[string]string{
	"nail-biting":       "Nail Biting 💅",
	"hair-pulling":      "Hair Pulling 💇",
	"chomping":          "Shirt Chomping 👕",
	"thumb-sucking":     "Thumb Sucking 👍",
	models.UnknownClass: "Unknown Habit",
}

// Renderer 终端看板渲染器
// Start/Stop 幂等；Stop 最多等待 stopTimeout，渲染卡死也不阻塞关闭
type Renderer struct {
	mu      sync.Mutex
	tracker *tracker.Tracker
	refresh time.Duration
	out     io.Writer
	logger  *zap.Logger

	running bool
	stop    chan struct{}
	done    chan struct{}

	// 渲染失败后的等待时间，测试中可缩短
	faultBackoff time.Duration
}

// NewRenderer 创建看板渲染器
// out 为 nil 时写标准输出，refresh 非正时取默认 1 秒
func NewRenderer(trk *tracker.Tracker, refresh time.Duration, out io.Writer, logger *zap.Logger) *Renderer {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{
		tracker:      trk,
		refresh:      refresh,
		out:          out,
		logger:       logger,
		faultBackoff: time.Second,
	}
}

// Start 启动渲染循环，重复调用不生效
func (r *Renderer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)

	r.logger.Info("Display started",
		zap.Duration("refresh", r.refresh),
	)
}

// Stop 停止渲染循环，重复调用不生效
// 最多等待 stopTimeout，超时则放弃等待直接返回
func (r *Renderer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		r.logger.Info("Display stopped")
	case <-time.After(stopTimeout):
		r.logger.Warn("Display stop timed out, render loop abandoned")
	}
}

// Running 返回渲染循环是否在运行
func (r *Renderer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// loop 渲染主循环
// 单次渲染失败只记录日志并退避，循环继续
func (r *Renderer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.renderSafe(); err != nil {
				r.logger.Error("Display render failed", zap.Error(err))

				select {
				case <-stop:
					return
				case <-time.After(r.faultBackoff):
				}
			}
		}
	}
}

// renderSafe 渲染一帧，兜住 panic
func (r *Renderer) renderSafe() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	snap := r.tracker.Snapshot(time.Now())
	_, err = io.WriteString(r.out, clearScreen+buildFrame(snap))
	return err
}

// buildFrame 构造一帧看板内容
func buildFrame(snap tracker.Snapshot) string {
	stats := snap.Formatted()
	var b strings.Builder

	// 标题栏
	rule := strings.Repeat("=", headerWidth)
	b.WriteString(headerStyle.Render(rule) + "\n")
	b.WriteString(headerStyle.Render(centerText("HABIT MONITOR - REAL-TIME STATUS", headerWidth)) + "\n")
	b.WriteString(headerStyle.Render(rule) + "\n\n")

	// 会话信息
	b.WriteString(okStyle.Render("Session Duration: "+stats.SessionDuration) + "\n\n")

	// 当前习惯状态
	if snap.HabitActive {
		b.WriteString(alertStyle.Render("🚨 HABIT DETECTED: "+DisplayName(snap.CurrentHabitClass)) + "\n")
		b.WriteString(alertStyle.Render("Current Session: "+stats.CurrentHabitDuration) + "\n")
		if snap.CurrentConfidence > 0 {
			b.WriteString(alertStyle.Render(fmt.Sprintf("Confidence: %.1f%%", snap.CurrentConfidence*100)) + "\n")
		}
	} else {
		b.WriteString(okStyle.Render("✅ No Bad Habits Detected") + "\n")
		if snap.LastDetection != nil && snap.LastDetection.Confidence > 0 {
			b.WriteString(okStyle.Render(fmt.Sprintf("Last Confidence: %.1f%%", snap.LastDetection.Confidence*100)) + "\n")
		}
	}
	b.WriteString("\n")

	// 统计区
	b.WriteString(statsStyle.Render("Statistics:") + "\n")
	fmt.Fprintf(&b, "  Total Detections: %d\n", stats.TotalDetections)
	fmt.Fprintf(&b, "  Total Habit Time: %s\n", stats.TotalHabitTime)
	fmt.Fprintf(&b, "  Number of Sessions: %d\n", stats.HabitSessionsCount)
	fmt.Fprintf(&b, "  Detection Rate: %s\n", stats.DetectionRate)

	if snap.SessionCount > 0 {
		fmt.Fprintf(&b, "  Average Session: %s\n", stats.AverageSessionDuration)
		fmt.Fprintf(&b, "  Habit Percentage: %s\n", stats.HabitPercentage)
	}
	b.WriteString("\n")

	// 操作提示与页脚
	b.WriteString(footerStyle.Render("Press Ctrl+C to stop monitoring") + "\n")
	b.WriteString(headerStyle.Render(rule) + "\n")

	return b.String()
}

// Banner 输出启动横幅与生效配置
func (r *Renderer) Banner(cfg *config.Config) {
	var b strings.Builder

	rule := strings.Repeat("=", headerWidth)
	b.WriteString(headerStyle.Render(rule) + "\n")
	b.WriteString(headerStyle.Render(centerText("HABIT MONITOR", headerWidth)) + "\n")
	b.WriteString(headerStyle.Render(rule) + "\n")

	target := cfg.Monitor.TargetClass
	if target == "" {
		target = "(any known class)"
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Target Class:    %s", target)) + "\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Confidence:      %.2f", cfg.Monitor.ConfidenceThreshold)) + "\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Alert Cooldown:  %s", cfg.Alert.Cooldown)) + "\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Ingest Source:   %s", cfg.Ingest.Source)) + "\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Stats File:      %s", cfg.Monitor.StatsFile)) + "\n")

	io.WriteString(r.out, b.String())
}

// ShutdownSummary 输出停止时的会话总结
func (r *Renderer) ShutdownSummary(snap tracker.Snapshot) {
	stats := snap.Formatted()
	var b strings.Builder

	b.WriteString("\n" + statsStyle.Render("Stopping habit monitoring...") + "\n")
	b.WriteString("\n" + okStyle.Render("Session Summary:") + "\n")
	fmt.Fprintf(&b, "  Total Duration: %s\n", stats.SessionDuration)
	fmt.Fprintf(&b, "  Total Habit Time: %s\n", stats.TotalHabitTime)
	fmt.Fprintf(&b, "  Total Detections: %d\n", stats.TotalDetections)
	fmt.Fprintf(&b, "  Number of Sessions: %d\n", stats.HabitSessionsCount)
	fmt.Fprintf(&b, "  Detection Rate: %s\n", stats.DetectionRate)

	if snap.SessionCount > 0 {
		fmt.Fprintf(&b, "  Average Session: %s\n", stats.AverageSessionDuration)
		fmt.Fprintf(&b, "  Habit Percentage: %s\n", stats.HabitPercentage)
	}

	io.WriteString(r.out, b.String())
}

// DisplayName 返回习惯类别的展示名称
func DisplayName(class string) string {
	if name, ok := habitDisplayNames[class]; ok {
		return name
	}
	return "Habit: " + class
}

// centerText 将文本在固定宽度内居中
func centerText(text string, width int) string {
	pad := width - len(text)
	if pad <= 0 {
		return text
	}
	left := pad / 2
	right := pad - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}
