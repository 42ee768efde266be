package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config 数据库连接参数
type Config struct {
	Driver          string        `mapstructure:"driver"` // sqlite / postgres
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// NowFunc 统一使用 UTC 微秒精度，保证 sqlite 与 postgres 比较结果一致
func NowFunc() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// InitDB 打开连接并自动迁移 models
func InitDB(cfg Config, log gormlogger.Interface, models ...interface{}) (*gorm.DB, error) {
	dialector, err := open(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = gormlogger.Discard
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  log,
		NowFunc: NowFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 SQL DB 失败: %w", err)
	}
	if isSQLite(cfg.Driver) {
		// sqlite 单写者，内存库每个连接是独立的库
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("自动建表出错: %w", err)
		}
	}
	return db, nil
}

func open(cfg Config) (gorm.Dialector, error) {
	switch {
	case isSQLite(cfg.Driver):
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "woo_sync.db"
		}
		if !strings.Contains(dsn, "_foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_foreign_keys=on"
		}
		return sqlite.Open(dsn), nil
	case cfg.Driver == "postgres" || cfg.Driver == "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres 需要 dsn")
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %q", cfg.Driver)
	}
}

func isSQLite(driver string) bool {
	return driver == "" || driver == "sqlite" || driver == "sqlite3"
}
