package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Notifier 报警通知通道
type Notifier interface {
	// Name 通道名（日志用）
	Name() string
	// Notify 发送一次报警通知
	Notify(ctx context.Context, habitClass string, confidence float64) error
}

// ============ 系统声音通道 ============

// CommandNotifier 系统声音播放器通道
//
// 按平台依次探测可用的播放器命令（macOS: afplay；Linux: paplay/aplay），
// 第一个在 PATH 中找到的生效。未配置声音文件或无可用播放器时
// Notify 返回错误，由管理器回退到终端响铃。
type CommandNotifier struct {
	soundFile string
	player    string
	logger    *zap.Logger
}

// NewCommandNotifier 创建系统声音通道并解析可用播放器
func NewCommandNotifier(soundFile string, logger *zap.Logger) *CommandNotifier {
	n := &CommandNotifier{
		soundFile: soundFile,
		logger:    logger,
	}
	for _, candidate := range playerCandidates() {
		if _, err := exec.LookPath(candidate); err == nil {
			n.player = candidate
			break
		}
	}
	if n.player == "" {
		logger.Debug("No sound player found in PATH, command notifier unavailable")
	}
	return n
}

// playerCandidates 按平台返回候选播放器命令
func playerCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"afplay"}
	case "linux":
		return []string{"paplay", "aplay"}
	default:
		return nil
	}
}

// Available 是否存在可用播放器且声音文件已配置
func (n *CommandNotifier) Available() bool {
	return n.player != "" && n.soundFile != ""
}

func (n *CommandNotifier) Name() string {
	return "sound"
}

// Notify 播放报警声音
func (n *CommandNotifier) Notify(ctx context.Context, habitClass string, confidence float64) error {
	if !n.Available() {
		return fmt.Errorf("sound player unavailable (player=%q, file=%q)", n.player, n.soundFile)
	}
	if _, err := os.Stat(n.soundFile); err != nil {
		return fmt.Errorf("sound file not accessible: %w", err)
	}

	cmd := exec.CommandContext(ctx, n.player, n.soundFile)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to play sound via %s: %w", n.player, err)
	}
	return nil
}

// ============ 终端响铃兜底通道 ============

// BellNotifier 终端响铃通道（ASCII BEL），始终可用的兜底
type BellNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellNotifier 创建终端响铃通道，w 为 nil 时写到标准输出
func NewBellNotifier(w io.Writer) *BellNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &BellNotifier{w: w}
}

func (n *BellNotifier) Name() string {
	return "bell"
}

// Notify 输出终端响铃
func (n *BellNotifier) Notify(ctx context.Context, habitClass string, confidence float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprint(n.w, "\a"); err != nil {
		return fmt.Errorf("failed to write terminal bell: %w", err)
	}
	return nil
}
