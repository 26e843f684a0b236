package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

const (
	// pingTimeout 后台探活的单次超时
	pingTimeout = 5 * time.Second

	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = time.Second
)

// =============================================================================
// 🗄️ 文档库连接池
// =============================================================================

// StatsReporter 接收连接池统计（由指标收集器实现）
type StatsReporter interface {
	RecordDBConnections(database string, open, idle int)
}

// PoolConfig 连接池配置；非正值在创建时回落到默认值
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 后台探活间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        50,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// normalize 补齐缺省值，空闲连接数不超过最大连接数
func (c PoolConfig) normalize() PoolConfig {
	def := DefaultPoolConfig()
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	c.MaxIdleConns = min(c.MaxIdleConns, c.MaxOpenConns)
	return c
}

// PoolOption 连接池选项
type PoolOption func(*PoolManager)

// WithStatsReporter 后台探活成功后以 name 上报连接数
func WithStatsReporter(name string, r StatsReporter) PoolOption {
	return func(pm *PoolManager) {
		pm.name = name
		pm.reporter = r
	}
}

// PoolManager 持有文档库的 GORM 连接与其底层 sql.DB
type PoolManager struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	config   PoolConfig
	name     string
	reporter StatsReporter
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
}

// NewPoolManager 应用连接池参数，并按需启动后台探活
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	config = config.normalize()
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		name:   "documents",
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   func() {},
	}
	for _, opt := range opts {
		opt(pm)
	}

	if config.HealthCheckInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		pm.stop = cancel
		go pm.monitor(ctx, config.HealthCheckInterval)
	}

	pm.logger.Info("database pool ready",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))
	return pm, nil
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping 检查连通性；关闭后返回 ErrPoolClosed
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Close 停止后台探活并关闭连接，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	pm.stop()
	pm.logger.Info("database pool closed")
	return pm.sqlDB.Close()
}

// =============================================================================
// 📊 统计与探活
// =============================================================================

// PoolStats /health 中展示的连接池统计
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetStats 读取当前连接池统计
func (pm *PoolManager) GetStats() PoolStats {
	s := pm.sqlDB.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

func (pm *PoolManager) monitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.checkHealth(ctx)
		}
	}
}

// checkHealth 探活一次；成功时上报连接统计
func (pm *PoolManager) checkHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		pm.logger.Error("database ping failed", zap.Error(err))
		return
	}
	stats := pm.GetStats()
	if pm.reporter != nil {
		pm.reporter.RecordDBConnections(pm.name, stats.OpenConnections, stats.Idle)
	}
	pm.logger.Debug("database ping ok",
		zap.Int("open", stats.OpenConnections),
		zap.Int("in_use", stats.InUse))
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TransactionFunc 事务体
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在单个事务中执行 fn
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 最多尝试 attempts 次；仅在锁冲突或连接中断时重试，间隔指数增长
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	attempts = max(attempts, 1)
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := pm.WithTransaction(ctx, fn)
		if err == nil || !isRetryableError(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
		}

		pm.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, retryMaxDelay)
	}
}

// retryableFragments 各驱动表示锁冲突或连接中断的错误片段
var retryableFragments = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"database is locked",
	"lock wait timeout",
	"connection reset",
	"broken pipe",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, f := range retryableFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
