package config

import (
	"fmt"
	"os"
	"time"

	"gng-loaner/internal/common/database"
	"gng-loaner/internal/common/mqtt"
)

// IdentifierMode 设备标识模式
type IdentifierMode string

const (
	IdentifierSerial IdentifierMode = "SERIAL"
	IdentifierAsset  IdentifierMode = "ASSET"
	IdentifierBoth   IdentifierMode = "BOTH"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	ActionStream  string // 动作任务流，如 "gng:queue:process-action"
	StreamStream  string // 审计行落库任务流，如 "gng:queue:stream-rows"
	Group         string // 消费者组名
	Consumer      string // 消费者名（默认 hostname）
	BatchSize     int64  // 单次读取消息数
	MaxAttempts   int64  // 最大投递次数，超过后丢弃
	ClaimMinIdle  time.Duration
	DelaySet      string // 延迟任务有序集合键
	DelayInterval time.Duration
}

// AuditConfig 审计行缓冲配置
type AuditConfig struct {
	SizeThreshold int           // 未落库行数阈值
	TimeThreshold time.Duration // 最老未落库行的年龄阈值
	MaxBatch      int           // 单次落库最大行数
	DatasetTable  string        // 仓库表名前缀
}

// LoanerConfig 设备借用业务配置
type LoanerConfig struct {
	IdentifierMode         IdentifierMode
	LoanDuration           int  // 默认借用期限（天）
	MaximumLoanDuration    int  // 最长借用期限（天）
	AllowGuestMode         bool // 是否允许访客模式
	TimeoutGuestMode       bool // 访客模式是否自动超时
	GuestModeTimeoutHours  int
	ReminderDelayHours     int // next_reminder 延迟（小时）
	ReturnGracePeriodMin   int // 自报归还宽限期（分钟）
	ShelfAuditIntervalHrs  int // 货架盘点周期（小时）
	ShelfAuditEnabled      bool
	DefaultOU              string
	GuestOU                string
	UnenrollOU             string
	AnonymousSurveys       bool
	BootstrapStarted       bool
	BootstrapCompleted     bool
}

// Config 服务配置
type Config struct {
	Database database.Config
	Redis    RedisConfig
	MQTT     mqtt.Config
	Queue    QueueConfig
	Audit    AuditConfig
	Loaner   LoanerConfig

	HTTP struct {
		Addr string
	}

	Heartbeat struct {
		Topic string // MQTT 心跳主题，如 "gng/heartbeat/#"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（从环境变量，带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "gng")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "gng-loaner")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Queue.ActionStream = getEnv("QUEUE_ACTION_STREAM", "gng:queue:process-action")
	cfg.Queue.StreamStream = getEnv("QUEUE_STREAM_STREAM", "gng:queue:stream-rows")
	cfg.Queue.Group = getEnv("QUEUE_GROUP", "gng-workers")
	consumer := getEnv("QUEUE_CONSUMER", "")
	if consumer == "" {
		if hostname, err := os.Hostname(); err == nil {
			consumer = hostname
		} else {
			consumer = "gng-loaner"
		}
	}
	cfg.Queue.Consumer = consumer
	cfg.Queue.BatchSize = int64(getEnvInt("QUEUE_BATCH_SIZE", 10))
	cfg.Queue.MaxAttempts = int64(getEnvInt("QUEUE_MAX_ATTEMPTS", 5))
	cfg.Queue.ClaimMinIdle = time.Duration(getEnvInt("QUEUE_CLAIM_MIN_IDLE_SEC", 60)) * time.Second
	cfg.Queue.DelaySet = getEnv("QUEUE_DELAY_SET", "gng:queue:delayed")
	cfg.Queue.DelayInterval = time.Duration(getEnvInt("QUEUE_DELAY_INTERVAL_SEC", 15)) * time.Second

	cfg.Audit.SizeThreshold = getEnvInt("AUDIT_SIZE_THRESHOLD", 50)
	cfg.Audit.TimeThreshold = time.Duration(getEnvInt("AUDIT_TIME_THRESHOLD_MIN", 15)) * time.Minute
	cfg.Audit.MaxBatch = getEnvInt("AUDIT_MAX_BATCH", 500)
	cfg.Audit.DatasetTable = getEnv("AUDIT_DATASET_TABLE", "loaner_history")

	mode := IdentifierMode(getEnv("DEVICE_IDENTIFIER_MODE", string(IdentifierSerial)))
	switch mode {
	case IdentifierSerial, IdentifierAsset, IdentifierBoth:
	default:
		return nil, fmt.Errorf("invalid DEVICE_IDENTIFIER_MODE: %s", mode)
	}
	cfg.Loaner.IdentifierMode = mode
	cfg.Loaner.LoanDuration = getEnvInt("LOAN_DURATION_DAYS", 3)
	cfg.Loaner.MaximumLoanDuration = getEnvInt("MAXIMUM_LOAN_DURATION_DAYS", 14)
	cfg.Loaner.AllowGuestMode = getEnvBool("ALLOW_GUEST_MODE", true)
	cfg.Loaner.TimeoutGuestMode = getEnvBool("TIMEOUT_GUEST_MODE", true)
	cfg.Loaner.GuestModeTimeoutHours = getEnvInt("GUEST_MODE_TIMEOUT_HOURS", 12)
	cfg.Loaner.ReminderDelayHours = getEnvInt("REMINDER_DELAY_HOURS", 1)
	cfg.Loaner.ReturnGracePeriodMin = getEnvInt("RETURN_GRACE_PERIOD_MIN", 15)
	cfg.Loaner.ShelfAuditIntervalHrs = getEnvInt("SHELF_AUDIT_INTERVAL_HOURS", 24)
	cfg.Loaner.ShelfAuditEnabled = getEnvBool("SHELF_AUDIT_ENABLED", true)
	cfg.Loaner.DefaultOU = getEnv("DEFAULT_OU", "/Grab n Go/Default")
	cfg.Loaner.GuestOU = getEnv("GUEST_OU", "/Grab n Go/Guest")
	cfg.Loaner.UnenrollOU = getEnv("UNENROLL_OU", "/")
	cfg.Loaner.AnonymousSurveys = getEnvBool("ANONYMOUS_SURVEYS", false)
	cfg.Loaner.BootstrapStarted = getEnvBool("BOOTSTRAP_STARTED", false)
	cfg.Loaner.BootstrapCompleted = getEnvBool("BOOTSTRAP_COMPLETED", false)

	if cfg.Loaner.LoanDuration > cfg.Loaner.MaximumLoanDuration {
		return nil, fmt.Errorf("LOAN_DURATION_DAYS (%d) exceeds MAXIMUM_LOAN_DURATION_DAYS (%d)",
			cfg.Loaner.LoanDuration, cfg.Loaner.MaximumLoanDuration)
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.Heartbeat.Topic = getEnv("HEARTBEAT_TOPIC", "gng/heartbeat/#")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}
