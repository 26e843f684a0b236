package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 支持的驱动
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config 数据库配置
type Config struct {
	// 驱动：postgres | mysql | sqlite
	Driver string `yaml:"driver" json:"driver"`

	// 连接串；sqlite 可使用 "file::memory:?cache=shared"
	DSN string `yaml:"dsn" json:"dsn"`

	// 打印 SQL
	Debug bool `yaml:"debug" json:"debug"`

	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 默认使用内存 sqlite
func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		DSN:    "file::memory:?cache=shared",
		Pool:   DefaultPoolConfig(),
	}
}

// Dialector 按驱动名返回 GORM 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite, "":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open 打开数据库并创建连接池管理器
func Open(cfg Config, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	pool := cfg.Pool
	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		// sqlite 单写者，内存库需要保持同一连接
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	logger.Info("database opened", zap.String("driver", cfg.Driver))
	return NewPoolManager(db, pool, logger, opts...)
}
