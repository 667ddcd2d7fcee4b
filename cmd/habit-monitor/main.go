package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"habit-monitor/internal/alert"
	"habit-monitor/internal/config"
	"habit-monitor/internal/logger"
	"habit-monitor/internal/report"
	"habit-monitor/internal/repository"
	"habit-monitor/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "habit-monitor",
		Short: "Real-time habit detection monitor",
		Long: `habit-monitor consumes per-frame classification results from an
inference service and turns them into rate-limited alerts, a live
terminal dashboard and durable session statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newTestAlertCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		confidence     float64
		cooldown       float64
		refresh        float64
		target         string
		noAudio        bool
		simulate       bool
		skipValidation bool
	)

	run := &cobra.Command{
		Use:   "run",
		Short: "Start real-time habit monitoring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数优先于环境变量
			if cmd.Flags().Changed("confidence") {
				cfg.Monitor.ConfidenceThreshold = confidence
			}
			if cmd.Flags().Changed("cooldown") {
				cfg.Alert.Cooldown = time.Duration(cooldown * float64(time.Second))
			}
			if cmd.Flags().Changed("refresh") {
				cfg.Dashboard.Refresh = time.Duration(refresh * float64(time.Second))
			}
			if cmd.Flags().Changed("target") {
				cfg.Monitor.TargetClass = target
			}
			if noAudio {
				cfg.Alert.SoundFile = ""
				cfg.Alert.Desktop = false
			}
			if simulate {
				cfg.Ingest.Source = "sim"
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "habit-monitor")
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			monitor, err := service.NewMonitor(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to create monitor: %w", err)
			}

			if !skipValidation {
				if !printValidation(cmd, monitor.ValidateSetup(cmd.Context())) {
					return fmt.Errorf("setup validation failed (fix the issues above or pass --skip-validation)")
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// 监听系统信号
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			// 启动服务（在 goroutine 中）
			errChan := make(chan error, 1)
			go func() {
				if err := monitor.Start(ctx); err != nil {
					errChan <- err
				}
			}()

			// 等待信号或错误
			select {
			case sig := <-sigChan:
				log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
				cancel()
			case err := <-errChan:
				log.Error("Monitor error", zap.Error(err))
				cancel()
			}

			if err := monitor.Stop(); err != nil {
				log.Error("Error stopping monitor", zap.Error(err))
			}
			log.Info("Monitor stopped")
			return nil
		},
	}

	run.Flags().Float64VarP(&confidence, "confidence", "c", 0.5, "Confidence threshold for detection (0.0-1.0)")
	run.Flags().Float64Var(&cooldown, "cooldown", 5, "Alert cooldown in seconds")
	run.Flags().Float64Var(&refresh, "refresh", 1, "Dashboard refresh interval in seconds")
	run.Flags().StringVarP(&target, "target", "t", "", "Habit class to track (empty tracks any known class)")
	run.Flags().BoolVar(&noAudio, "no-audio", false, "Disable sound alerts (terminal bell only)")
	run.Flags().BoolVar(&simulate, "sim", false, "Use the simulated detection source")
	run.Flags().BoolVar(&skipValidation, "skip-validation", false, "Skip setup validation checks")

	return run
}

// printValidation 输出自检结果，全部通过返回 true
func printValidation(cmd *cobra.Command, results []service.ValidationResult) bool {
	ok := true
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Validating setup...")
	for _, r := range results {
		mark := "✅"
		if !r.Success {
			mark = "❌"
			ok = false
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %s\n", mark, r.Name, r.Message)
	}
	return ok
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			data, err := json.MarshalIndent(configView(cfg), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// configView 输出用配置视图（口令与密钥脱敏）
func configView(cfg *config.Config) map[string]interface{} {
	view := map[string]interface{}{
		"monitor": map[string]interface{}{
			"target_class":         cfg.Monitor.TargetClass,
			"confidence_threshold": cfg.Monitor.ConfidenceThreshold,
			"stats_file":           cfg.Monitor.StatsFile,
			"autosave_seconds":     cfg.Monitor.AutosaveInterval.Seconds(),
		},
		"alert": map[string]interface{}{
			"enabled":          cfg.Alert.Enabled,
			"cooldown_seconds": cfg.Alert.Cooldown.Seconds(),
			"sound_file":       cfg.Alert.SoundFile,
			"desktop":          cfg.Alert.Desktop,
		},
		"dashboard": map[string]interface{}{
			"enabled":         cfg.Dashboard.Enabled,
			"refresh_seconds": cfg.Dashboard.Refresh.Seconds(),
		},
		"ingest": map[string]interface{}{
			"source":         cfg.Ingest.Source,
			"topic":          cfg.Ingest.Topic,
			"stream":         cfg.Ingest.Stream,
			"consumer_group": cfg.Ingest.ConsumerGroup,
			"consumer_name":  cfg.Ingest.ConsumerName,
			"batch_size":     cfg.Ingest.BatchSize,
		},
		"inference": map[string]interface{}{
			"api_key":    maskSecret(cfg.Inference.APIKey),
			"health_url": cfg.Inference.HealthURL,
		},
		"log": map[string]interface{}{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
	}

	if cfg.Database.Enabled {
		view["database"] = map[string]interface{}{
			"enabled": true,
			"dsn":     cfg.Database.DSNForLog(),
		}
	}
	if cfg.Redis.Enabled {
		view["redis"] = map[string]interface{}{
			"enabled":  true,
			"addr":     cfg.Redis.Addr,
			"password": maskSecret(cfg.Redis.Password),
			"db":       cfg.Redis.DB,
		}
	}
	if cfg.Ingest.Source == "mqtt" {
		view["mqtt"] = map[string]interface{}{
			"broker":    cfg.MQTT.Broker,
			"client_id": cfg.MQTT.ClientID,
			"username":  cfg.MQTT.Username,
			"password":  maskSecret(cfg.MQTT.Password),
			"qos":       cfg.MQTT.QoS,
		}
	}
	return view
}

// maskSecret 非空敏感值统一脱敏
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func newReportCmd() *cobra.Command {
	var statsPath, outPath string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export session statistics to an Excel report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if statsPath == "" {
				statsPath = cfg.Monitor.StatsFile
			}

			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "habit-monitor")
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			stats, err := repository.NewStatsFileRepository(statsPath, log).Load()
			if err != nil {
				return fmt.Errorf("failed to load stats file: %w", err)
			}
			if stats == nil {
				return fmt.Errorf("no statistics found at %s", statsPath)
			}

			if err := report.WriteFile(stats, outPath); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (%d habit sessions)\n",
				outPath, len(stats.HabitSessions))
			return nil
		},
	}

	reportCmd.Flags().StringVar(&statsPath, "stats", "", "Stats JSON file (defaults to STATS_FILE)")
	reportCmd.Flags().StringVarP(&outPath, "out", "o", "habit_report.xlsx", "Output XLSX path")
	return reportCmd
}

func newTestAlertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-alert",
		Short: "Fire the alert path once, bypassing cooldown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "habit-monitor")
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			sound := alert.NewCommandNotifier(cfg.Alert.SoundFile, log)
			var notifiers []alert.Notifier
			if sound.Available() {
				notifiers = append(notifiers, sound)
			}
			if cfg.Alert.Desktop {
				notifiers = append(notifiers, alert.NewDesktopNotifier("habit-monitor", log))
			}
			manager := alert.NewManager(true, cfg.Alert.Cooldown, notifiers, nil, log)

			if err := manager.Test(cmd.Context()); err != nil {
				return fmt.Errorf("alert test failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Alert test dispatched")
			return nil
		},
	}
}
