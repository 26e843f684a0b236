package documents

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/internal/database"
	"github.com/BaSui01/contractflow/types"
)

// =============================================================================
// 📄 文档与策略存储
// =============================================================================

// MaxDocumentSize 单个文档上限（10MB）
const MaxDocumentSize = 10 << 20

const seedRetries = 3

// QueryRecorder 接收查询耗时（由指标收集器实现）
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Store 基于 GORM 的文档与策略手册存储
type Store struct {
	pool     *database.PoolManager
	recorder QueryRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option 存储选项
type Option func(*Store)

// WithQueryRecorder 记录查询耗时
func WithQueryRecorder(r QueryRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建存储
func NewStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "documents")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 自动迁移表结构
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&Document{}, &Playbook{}); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

// Seed 在表为空时写入示例文档与策略手册。多个实例同时启动时可能锁冲突，按可重试错误重试。
func (s *Store) Seed(ctx context.Context) error {
	now := s.now().UTC()
	return s.pool.WithTransactionRetry(ctx, seedRetries, func(tx *gorm.DB) error {
		var docs int64
		if err := tx.Model(&Document{}).Count(&docs).Error; err != nil {
			return storeError("seed", err)
		}
		if docs == 0 {
			doc := sampleDocument(now)
			if err := tx.Create(&doc).Error; err != nil {
				return storeError("seed document", err)
			}
		}

		var playbooks int64
		if err := tx.Model(&Playbook{}).Count(&playbooks).Error; err != nil {
			return storeError("seed", err)
		}
		if playbooks == 0 {
			pb := samplePlaybook(now)
			if err := tx.Create(&pb).Error; err != nil {
				return storeError("seed playbook", err)
			}
		}
		s.logger.Info("sample documents and playbooks loaded")
		return nil
	})
}

// =============================================================================
// 📄 文档
// =============================================================================

// CreateDocument 保存文档内容
func (s *Store) CreateDocument(ctx context.Context, name, content string) (*Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewValidationError("document name is required")
	}
	if len(content) > MaxDocumentSize {
		return nil, types.NewValidationError("document exceeds %d bytes", MaxDocumentSize)
	}

	doc := &Document{
		ID:        newID("doc"),
		Name:      name,
		Content:   content,
		Size:      int64(len(content)),
		CreatedAt: s.now().UTC(),
	}
	err := s.observe("insert", func() error {
		return s.pool.DB().WithContext(ctx).Create(doc).Error
	})
	if err != nil {
		return nil, storeError("create document", err)
	}
	s.logger.Info("document stored", zap.String("doc_id", doc.ID), zap.Int64("size", doc.Size))
	return doc, nil
}

// GetDocument 读取文档
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.observe("select", func() error {
		return s.pool.DB().WithContext(ctx).Where("id = ?", id).First(&doc).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("document", id)
	}
	if err != nil {
		return nil, storeError("get document "+id, err)
	}
	return &doc, nil
}

// DocumentText 返回文档正文，供启动运行前查询
func (s *Store) DocumentText(ctx context.Context, id string) (string, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// ListDocuments 按上传时间列出文档
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := s.observe("select", func() error {
		return s.pool.DB().WithContext(ctx).
			Select("id", "name", "size", "created_at").
			Order("created_at ASC, id ASC").
			Find(&docs).Error
	})
	if err != nil {
		return nil, storeError("list documents", err)
	}
	return docs, nil
}

// =============================================================================
// 📘 策略手册
// =============================================================================

// CreatePlaybook 保存策略手册
func (s *Store) CreatePlaybook(ctx context.Context, name string, rules agent.Policy) (*Playbook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewValidationError("playbook name is required")
	}
	now := s.now().UTC()
	pb := &Playbook{
		ID:        newID("playbook"),
		Name:      name,
		Rules:     rules.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.observe("insert", func() error {
		return s.pool.DB().WithContext(ctx).Create(pb).Error
	})
	if err != nil {
		return nil, storeError("create playbook", err)
	}
	s.logger.Info("playbook stored", zap.String("playbook_id", pb.ID), zap.Strings("rules", pb.Rules.Keys()))
	return pb, nil
}

// GetPlaybook 读取策略手册
func (s *Store) GetPlaybook(ctx context.Context, id string) (*Playbook, error) {
	var pb Playbook
	err := s.observe("select", func() error {
		return s.pool.DB().WithContext(ctx).Where("id = ?", id).First(&pb).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("playbook", id)
	}
	if err != nil {
		return nil, storeError("get playbook "+id, err)
	}
	if pb.Rules == nil {
		pb.Rules = agent.Policy{}
	}
	return &pb, nil
}

// ListPlaybooks 按创建时间列出策略手册
func (s *Store) ListPlaybooks(ctx context.Context) ([]Playbook, error) {
	var pbs []Playbook
	err := s.observe("select", func() error {
		return s.pool.DB().WithContext(ctx).Order("created_at ASC, id ASC").Find(&pbs).Error
	})
	if err != nil {
		return nil, storeError("list playbooks", err)
	}
	return pbs, nil
}

// DeletePlaybook 删除策略手册
func (s *Store) DeletePlaybook(ctx context.Context, id string) error {
	var affected int64
	err := s.observe("delete", func() error {
		res := s.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&Playbook{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return storeError("delete playbook "+id, err)
	}
	if affected == 0 {
		return types.NewNotFoundError("playbook", id)
	}
	s.logger.Info("playbook deleted", zap.String("playbook_id", id))
	return nil
}

// PolicyRules 返回策略手册的规则；未指定或不存在时返回空规则
func (s *Store) PolicyRules(ctx context.Context, playbookID string) (agent.Policy, error) {
	if playbookID == "" {
		return agent.Policy{}, nil
	}
	pb, err := s.GetPlaybook(ctx, playbookID)
	if types.IsErrorCode(err, types.ErrNotFound) {
		s.logger.Debug("playbook not found, using empty rules", zap.String("playbook_id", playbookID))
		return agent.Policy{}, nil
	}
	if err != nil {
		return nil, err
	}
	return pb.Rules.Clone(), nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (s *Store) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.recorder != nil {
		s.recorder.RecordDBQuery("documents", op, time.Since(start))
	}
	return err
}

// newID 生成形如 doc_1a2b3c4d 的短 ID
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func storeError(op string, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.NewError(types.ErrStoreFailure, op).WithCause(err)
}
