package alert

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// DesktopNotifier 桌面通知通道
//
// 通过 D-Bus 会话总线调用 org.freedesktop.Notifications 弹出桌面通知。
// 无图形会话（如 headless 部署）时连接失败，Notify 返回错误由
// 管理器回退到其它通道。
type DesktopNotifier struct {
	appName string
	logger  *zap.Logger
}

// NewDesktopNotifier 创建桌面通知通道
func NewDesktopNotifier(appName string, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		appName: appName,
		logger:  logger,
	}
}

func (n *DesktopNotifier) Name() string {
	return "desktop"
}

// Notify 发送桌面通知
func (n *DesktopNotifier) Notify(ctx context.Context, habitClass string, confidence float64) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect session bus: %w", err)
	}

	obj := conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.CallWithContext(ctx, "org.freedesktop.Notifications.Notify", 0,
		n.appName,                   // app_name
		uint32(0),                   // replaces_id
		"dialog-warning",            // app_icon
		"Habit detected",            // summary
		fmt.Sprintf("%s detected (%.0f%% confidence)", habitClass, confidence*100), // body
		[]string{}, // actions
		map[string]dbus.Variant{ // hints
			"urgency": dbus.MakeVariant(byte(1)),
		},
		int32(5000), // expire_timeout (5 seconds)
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send desktop notification: %w", call.Err)
	}
	return nil
}
