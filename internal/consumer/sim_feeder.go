package consumer

import (
	"context"
	"math/rand"
	"time"

	"habit-monitor/internal/config"
	"habit-monitor/internal/transformer"

	"go.uber.org/zap"
)

// 模拟周期：每 simCycleLength 帧中前 simActiveFrames 帧为习惯行为
const (
	simCycleLength  = 20
	simActiveFrames = 6
)

// SimFeeder 本地模拟结果源
// 无需推理服务即可联调整条处理链路：按固定间隔产生模拟分类结果，
// 周期性地在"习惯行为"与"空闲"之间切换
type SimFeeder struct {
	config  *config.Config
	handler ResultHandler
	logger  *zap.Logger
	tick    int
}

// NewSimFeeder 创建模拟结果源
func NewSimFeeder(cfg *config.Config, handler ResultHandler, logger *zap.Logger) *SimFeeder {
	return &SimFeeder{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start 启动模拟源
func (f *SimFeeder) Start(ctx context.Context) error {
	ticker := time.NewTicker(f.config.Ingest.SimInterval)
	defer ticker.Stop()

	f.logger.Info("Sim feeder started",
		zap.Duration("interval", f.config.Ingest.SimInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload := f.nextPayload()
			if err := f.handler.HandleResult(ctx, payload); err != nil {
				f.logger.Warn("Failed to handle simulated result", zap.Error(err))
			}
		}
	}
}

// Stop 停止模拟源
func (f *SimFeeder) Stop(ctx context.Context) error {
	f.logger.Info("Sim feeder stopped")
	return nil
}

// nextPayload 生成下一帧模拟结果
func (f *SimFeeder) nextPayload() []byte {
	phase := f.tick % simCycleLength
	f.tick++

	if phase < simActiveFrames {
		// 习惯行为帧：置信度在阈值上方浮动
		class := f.config.Monitor.TargetClass
		if class == "" {
			class = "nail-biting"
		}
		confidence := 0.65 + rand.Float64()*0.3
		return transformer.MockResult(class, confidence)
	}

	// 空闲帧：低置信度的其他类别
	return transformer.MockResult("idle", 0.1+rand.Float64()*0.2)
}
