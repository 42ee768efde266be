package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"woo_sync_v1_202610/pkg/database"
	"woo_sync_v1_202610/pkg/logger"
)

// Config 应用全部配置
type Config struct {
	App      AppConfig
	Database database.Config
	Log      logger.Config
	Woo      WooConfig
	Sync     SyncConfig
	Scan     ScanConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

// WooConfig 远端客户端参数
type WooConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	MinInterval  time.Duration
	PageSize     int
	MaxPages     int
	UserAgent    string
}

// SyncConfig 同步行为
type SyncConfig struct {
	RemoteDeletePolicy string // soft / hard
	FuzzyThreshold     float64
	Cron               string // 为空时不启动定时同步
	MaxConcurrent      int
	TriggerCooldown    time.Duration
	HistoryLimit       int
}

// ScanConfig 文件夹扫描
type ScanConfig struct {
	Root       string
	MinImages  int
	MaxFolders int
	Extensions []string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// StorageConfig 候选商品图片的上传方式
type StorageConfig struct {
	Driver    string // wordpress / s3 / none
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PublicURL string
}

// Load 读取 config.toml，环境变量 WOOSYNC_* 覆盖
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	v.SetEnvPrefix("WOOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: database.Config{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		Log: logger.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			TimeFormat: v.GetString("log.time_format"),
		},
		Woo: WooConfig{
			Timeout:      v.GetDuration("woo.timeout"),
			MaxRetries:   v.GetInt("woo.max_retries"),
			RetryWait:    v.GetDuration("woo.retry_wait"),
			RetryMaxWait: v.GetDuration("woo.retry_max_wait"),
			MinInterval:  v.GetDuration("woo.min_interval"),
			PageSize:     v.GetInt("woo.page_size"),
			MaxPages:     v.GetInt("woo.max_pages"),
			UserAgent:    v.GetString("woo.user_agent"),
		},
		Sync: SyncConfig{
			RemoteDeletePolicy: v.GetString("sync.remote_delete_policy"),
			FuzzyThreshold:     v.GetFloat64("sync.fuzzy_threshold"),
			Cron:               v.GetString("sync.cron"),
			MaxConcurrent:      v.GetInt("sync.max_concurrent"),
			TriggerCooldown:    v.GetDuration("sync.trigger_cooldown"),
			HistoryLimit:       v.GetInt("sync.history_limit"),
		},
		Scan: ScanConfig{
			Root:       v.GetString("scan.root"),
			MinImages:  v.GetInt("scan.min_images"),
			MaxFolders: v.GetInt("scan.max_folders"),
			Extensions: v.GetStringSlice("scan.extensions"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Storage: StorageConfig{
			Driver:    v.GetString("storage.driver"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			PublicURL: v.GetString("storage.public_url"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "woo-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "woo_sync.db"
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}

	defLog := logger.DefaultConfig()
	if cfg.Log.Level == "" {
		cfg.Log.Level = defLog.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defLog.Format
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = defLog.Output
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = defLog.TimeFormat
	}

	if cfg.Woo.Timeout == 0 {
		cfg.Woo.Timeout = 30 * time.Second
	}
	if cfg.Woo.MaxRetries == 0 {
		cfg.Woo.MaxRetries = 3
	}
	if cfg.Woo.RetryWait == 0 {
		cfg.Woo.RetryWait = 500 * time.Millisecond
	}
	if cfg.Woo.RetryMaxWait == 0 {
		cfg.Woo.RetryMaxWait = 10 * time.Second
	}
	if cfg.Woo.MinInterval == 0 {
		cfg.Woo.MinInterval = 250 * time.Millisecond
	}
	if cfg.Woo.PageSize == 0 {
		cfg.Woo.PageSize = 100
	}
	if cfg.Woo.MaxPages == 0 {
		cfg.Woo.MaxPages = 500
	}
	if cfg.Woo.UserAgent == "" {
		cfg.Woo.UserAgent = "woo-sync/1.0"
	}

	if cfg.Sync.RemoteDeletePolicy == "" {
		cfg.Sync.RemoteDeletePolicy = "soft"
	}
	if cfg.Sync.FuzzyThreshold == 0 {
		cfg.Sync.FuzzyThreshold = 0.88
	}
	if cfg.Sync.MaxConcurrent == 0 {
		cfg.Sync.MaxConcurrent = 4
	}
	if cfg.Sync.TriggerCooldown == 0 {
		cfg.Sync.TriggerCooldown = 30 * time.Second
	}
	if cfg.Sync.HistoryLimit == 0 {
		cfg.Sync.HistoryLimit = 200
	}

	if cfg.Scan.MinImages == 0 {
		cfg.Scan.MinImages = 1
	}
	if cfg.Scan.MaxFolders == 0 {
		cfg.Scan.MaxFolders = 5000
	}
	if len(cfg.Scan.Extensions) == 0 {
		cfg.Scan.Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 2 * time.Minute
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "woo-sync.runs"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "wordpress"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver 只支持 sqlite / postgres: %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}
	switch c.Sync.RemoteDeletePolicy {
	case "soft", "hard":
	default:
		return fmt.Errorf("sync.remote_delete_policy 只支持 soft / hard: %q", c.Sync.RemoteDeletePolicy)
	}
	if c.Sync.FuzzyThreshold <= 0 || c.Sync.FuzzyThreshold > 1 {
		return fmt.Errorf("sync.fuzzy_threshold 必须在 (0, 1] 之间")
	}
	if c.Woo.PageSize < 1 || c.Woo.PageSize > 100 {
		return fmt.Errorf("woo.page_size 必须在 1-100 之间")
	}
	if c.Woo.MaxRetries < 0 {
		return fmt.Errorf("woo.max_retries 不能为负数")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.enabled 需要 kafka.brokers")
	}
	switch c.Storage.Driver {
	case "wordpress", "none":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.driver=s3 需要 storage.bucket")
		}
	default:
		return fmt.Errorf("storage.driver 只支持 wordpress / s3 / none: %q", c.Storage.Driver)
	}
	return nil
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
