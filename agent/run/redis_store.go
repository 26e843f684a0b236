package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/types"
)

// =============================================================================
// 💾 Redis 运行存储
// =============================================================================

// RedisConfig Redis 存储配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，隔离不同部署
	Namespace string `yaml:"namespace" json:"namespace"`

	// 记录过期时间，0 表示永不过期
	RecordTTL time.Duration `yaml:"record_ttl" json:"record_ttl"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig 返回默认配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Namespace: "contractflow",
		PoolSize:  10,
	}
}

// RedisStore 基于 Redis 的运行存储。
// 每个运行保存为一个 JSON 字符串，另用有序集合按创建时间索引。
type RedisStore struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 存储并检查连通性
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Namespace, cfg.RecordTTL, logger), nil
}

// NewRedisStoreFromClient 使用已有客户端创建存储
func NewRedisStoreFromClient(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = "contractflow"
	}
	return &RedisStore{
		rdb:       client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "run_store"), zap.String("backend", "redis")),
	}
}

// RunKey 单个运行记录的键
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("%s:run:%s", namespace, runID)
}

// RunIndexKey 运行索引（有序集合）的键
func RunIndexKey(namespace string) string {
	return fmt.Sprintf("%s:runs", namespace)
}

// Save 保存记录并更新索引
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Run == nil || rec.Run.ID == "" {
		return types.NewValidationError("record requires a run with an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, RunKey(s.namespace, rec.Run.ID), data, s.ttl)
	pipe.ZAdd(ctx, RunIndexKey(s.namespace), redis.Z{
		Score:  float64(rec.Run.CreatedAt.UnixNano()),
		Member: rec.Run.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return storeError("save run "+rec.Run.ID, err)
	}
	return nil
}

// Get 读取记录
func (s *RedisStore) Get(ctx context.Context, runID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, RunKey(s.namespace, runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("run", runID)
	}
	if err != nil {
		return nil, storeError("get run "+runID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record %s: %w", runID, err)
	}
	return &rec, nil
}

// List 按创建时间返回全部运行；索引中已过期的记录会被清理
func (s *RedisStore) List(ctx context.Context) ([]*Run, error) {
	ids, err := s.rdb.ZRange(ctx, RunIndexKey(s.namespace), 0, -1).Result()
	if err != nil {
		return nil, storeError("list runs", err)
	}
	if len(ids) == 0 {
		return []*Run{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = RunKey(s.namespace, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeError("list runs", err)
	}

	runs := make([]*Run, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			s.logger.Warn("skipping corrupt run record", zap.String("run_id", ids[i]), zap.Error(err))
			continue
		}
		runs = append(runs, rec.Run)
	}
	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, RunIndexKey(s.namespace), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune run index", zap.Error(err))
		}
	}
	SortByCreated(runs)
	return runs, nil
}

// Ping 检查 Redis 连通性
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func storeError(op string, err error) error {
	return types.NewError(types.ErrStoreFailure, op).WithCause(err).WithRetryable(true)
}
