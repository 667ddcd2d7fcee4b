// Package config 提供监测服务配置加载
// 配置来源优先级：环境变量 > .env 文件 > 默认值
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DSNForLog 安全输出 DSN（密码打码），用于日志
func (c *DatabaseConfig) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 习惯监测服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 监测核心配置
	Monitor struct {
		TargetClass         string        // 目标习惯类别，空表示任意已识别类别
		ConfidenceThreshold float64       // 置信度阈值，默认 0.5
		StatsFile           string        // 统计文件路径
		AutosaveInterval    time.Duration // 自动保存间隔
	}

	// 报警配置
	Alert struct {
		Enabled   bool
		Cooldown  time.Duration // 报警冷却时间
		SoundFile string        // 自定义报警音频文件（可选）
		Desktop   bool          // 是否发送桌面通知
	}

	// 仪表盘配置
	Dashboard struct {
		Enabled bool
		Refresh time.Duration // 刷新周期，默认 1 秒
	}

	// 结果摄取配置
	Ingest struct {
		Source        string // mqtt / stream / sim
		Topic         string // MQTT 订阅主题
		Stream        string // Redis Streams 流名称
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
		SimInterval   time.Duration // 模拟器发帧间隔
	}

	// 实时快照缓存配置
	Cache struct {
		LiveKeyPrefix string        // 如 "habit:live:"
		LiveTTL       time.Duration // 快照 TTL
	}

	// 推理服务配置（仅用于启动自检）
	Inference struct {
		APIKey    string
		HealthURL string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// 加载 .env 文件（如果存在）；找不到则直接使用系统环境变量
	_ = godotenv.Load()

	cfg := &Config{}

	// 数据库
	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "habitmon")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	// Redis
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// MQTT
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "habit-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	// 监测核心
	cfg.Monitor.TargetClass = getEnv("TARGET_CLASS", "")
	cfg.Monitor.ConfidenceThreshold = getEnvFloat("CONFIDENCE_THRESHOLD", 0.5)
	cfg.Monitor.StatsFile = getEnv("STATS_FILE", "habit_stats.json")
	cfg.Monitor.AutosaveInterval = getEnvSeconds("AUTOSAVE_SECONDS", 60)

	// 报警
	cfg.Alert.Enabled = getEnvBool("ALERT_ENABLED", true)
	cfg.Alert.Cooldown = getEnvSeconds("ALERT_COOLDOWN_SECONDS", 5)
	cfg.Alert.SoundFile = getEnv("ALERT_SOUND", "")
	cfg.Alert.Desktop = getEnvBool("ALERT_DESKTOP", false)

	// 仪表盘
	cfg.Dashboard.Enabled = getEnvBool("DASHBOARD_ENABLED", true)
	cfg.Dashboard.Refresh = getEnvSeconds("DASHBOARD_REFRESH_SECONDS", 1)

	// 摄取
	cfg.Ingest.Source = getEnv("INGEST_SOURCE", "mqtt")
	cfg.Ingest.Topic = getEnv("MQTT_TOPIC", "inference/results/#")
	cfg.Ingest.Stream = getEnv("INGEST_STREAM", "inference:results:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "habit-monitor-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "habit-monitor-1")
	cfg.Ingest.BatchSize = int64(getEnvInt("BATCH_SIZE", 10))
	cfg.Ingest.SimInterval = getEnvSeconds("SIM_INTERVAL_SECONDS", 0.5)

	// 快照缓存
	cfg.Cache.LiveKeyPrefix = getEnv("CACHE_LIVE_PREFIX", "habit:live:")
	cfg.Cache.LiveTTL = getEnvSeconds("CACHE_LIVE_TTL_SECONDS", 30)

	// 推理服务
	cfg.Inference.APIKey = getEnv("ROBOFLOW_API_KEY", "")
	cfg.Inference.HealthURL = getEnv("INFERENCE_HEALTH_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "console")

	return cfg, nil
}

// Validate 校验配置，非法配置在启动时直接失败
func (c *Config) Validate() error {
	if c.Monitor.ConfidenceThreshold < 0 || c.Monitor.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1], got %v", c.Monitor.ConfidenceThreshold)
	}
	if c.Alert.Cooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative, got %v", c.Alert.Cooldown)
	}
	if c.Monitor.StatsFile == "" {
		return fmt.Errorf("stats file path is required")
	}
	if c.Dashboard.Enabled && c.Dashboard.Refresh <= 0 {
		return fmt.Errorf("dashboard refresh interval must be positive, got %v", c.Dashboard.Refresh)
	}

	switch c.Ingest.Source {
	case "mqtt":
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT_BROKER is required when ingest source is mqtt")
		}
	case "stream":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when ingest source is stream")
		}
	case "sim":
		if c.Ingest.SimInterval <= 0 {
			return fmt.Errorf("sim interval must be positive, got %v", c.Ingest.SimInterval)
		}
	default:
		return fmt.Errorf("unknown ingest source: %s", c.Ingest.Source)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Cache.LiveTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.Cache.LiveTTL)
	}

	return nil
}

// ============ 环境变量读取辅助 ============

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvSeconds 读取以秒为单位的浮点环境变量，转换为 time.Duration
func getEnvSeconds(key string, defaultSeconds float64) time.Duration {
	seconds := getEnvFloat(key, defaultSeconds)
	return time.Duration(seconds * float64(time.Second))
}
