package hitl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/types"
)

// Kind 关卡类型
type Kind string

const (
	KindRisk  Kind = "risk"
	KindFinal Kind = "final"
)

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	return k == KindRisk || k == KindFinal
}

// Status 关卡状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Gate 一个等待人工决定的审批关卡
type Gate struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Decision    *Decision      `json:"decision,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Decision 人工决定
type Decision struct {
	Approved  bool      `json:"approved"`
	Reviewer  string    `json:"reviewer,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPending 是否仍在等待
func (g *Gate) IsPending() bool {
	return g != nil && g.Status == StatusPending
}

// Age 关卡已等待的时长
func (g *Gate) Age(now time.Time) time.Duration {
	return now.Sub(g.CreatedAt)
}

func (g *Gate) clone() *Gate {
	c := *g
	if g.Decision != nil {
		d := *g.Decision
		c.Decision = &d
	}
	if g.DecidedAt != nil {
		t := *g.DecidedAt
		c.DecidedAt = &t
	}
	if g.Metadata != nil {
		c.Metadata = make(map[string]any, len(g.Metadata))
		for k, v := range g.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// GateStore 关卡存储接口
type GateStore interface {
	Save(ctx context.Context, gate *Gate) error
	Load(ctx context.Context, gateID string) (*Gate, error)
	List(ctx context.Context, runID string, status Status) ([]*Gate, error)
	Update(ctx context.Context, gate *Gate) error
}

// GateHandler 关卡打开时的通知回调
type GateHandler func(ctx context.Context, gate *Gate) error

// GateOptions 打开关卡的参数
type GateOptions struct {
	Title       string
	Description string
	Metadata    map[string]any
}

// GateManager 管理关卡的打开、决定与过期。
// 所有操作立即返回，不持有等待中的 goroutine。
type GateManager struct {
	store    GateStore
	logger   *zap.Logger
	handlers map[Kind][]GateHandler
	now      func() time.Time
	mu       sync.Mutex
}

// NewGateManager 创建关卡管理器
func NewGateManager(store GateStore, logger *zap.Logger) *GateManager {
	if store == nil {
		store = NewInMemoryGateStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateManager{
		store:    store,
		logger:   logger.With(zap.String("component", "gate_manager")),
		handlers: make(map[Kind][]GateHandler),
		now:      time.Now,
	}
}

// RegisterHandler 为关卡类型注册通知回调
func (m *GateManager) RegisterHandler(kind Kind, handler GateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], handler)
}

// Open 为运行打开一个关卡。同一运行同时只能有一个 pending 关卡。
func (m *GateManager) Open(ctx context.Context, runID string, kind Kind, opts GateOptions) (*Gate, error) {
	if !kind.Valid() {
		return nil, types.NewValidationError("unknown gate kind %q", kind)
	}

	m.mu.Lock()
	pending, err := m.store.List(ctx, runID, StatusPending)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	if len(pending) > 0 {
		m.mu.Unlock()
		return nil, types.NewInvalidStateError("run %s already has a pending %s gate", runID, pending[0].Kind)
	}

	gate := &Gate{
		ID:          "gate_" + uuid.NewString(),
		RunID:       runID,
		Kind:        kind,
		Status:      StatusPending,
		Title:       opts.Title,
		Description: opts.Description,
		CreatedAt:   m.now(),
		Metadata:    opts.Metadata,
	}
	if err := m.store.Save(ctx, gate); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to save gate: %w", err)
	}
	handlers := m.handlers[kind]
	m.mu.Unlock()

	m.logger.Info("gate opened",
		zap.String("gate_id", gate.ID),
		zap.String("run_id", runID),
		zap.String("kind", string(kind)),
	)

	for _, h := range handlers {
		go func(h GateHandler, g *Gate) {
			if err := h(ctx, g); err != nil {
				m.logger.Error("gate handler error", zap.String("gate_id", g.ID), zap.Error(err))
			}
		}(h, gate.clone())
	}
	return gate.clone(), nil
}

// Resolve 记录人工决定。已决定或已过期的关卡返回 INVALID_STATE。
func (m *GateManager) Resolve(ctx context.Context, gateID string, decision Decision) (*Gate, error) {
	status := StatusResolved
	if !decision.Approved {
		status = StatusRejected
	}
	return m.close(ctx, gateID, status, &decision)
}

// Expire 将 pending 关卡标记为过期
func (m *GateManager) Expire(ctx context.Context, gateID string) (*Gate, error) {
	return m.close(ctx, gateID, StatusExpired, nil)
}

func (m *GateManager) close(ctx context.Context, gateID string, status Status, decision *Decision) (*Gate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate, err := m.store.Load(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if gate.Status != StatusPending {
		return nil, types.NewInvalidStateError("gate %s is already %s", gateID, gate.Status)
	}

	now := m.now()
	gate.Status = status
	gate.DecidedAt = &now
	if decision != nil {
		decision.Timestamp = now
		gate.Decision = decision
	}
	if err := m.store.Update(ctx, gate); err != nil {
		return nil, fmt.Errorf("failed to update gate: %w", err)
	}

	m.logger.Info("gate closed",
		zap.String("gate_id", gateID),
		zap.String("run_id", gate.RunID),
		zap.String("status", string(status)),
	)
	return gate.clone(), nil
}

// Current 返回运行当前的 pending 关卡，没有时返回 nil
func (m *GateManager) Current(ctx context.Context, runID string) (*Gate, error) {
	gates, err := m.Pending(ctx, runID)
	if err != nil || len(gates) == 0 {
		return nil, err
	}
	return gates[0], nil
}

// Pending 返回 pending 关卡；runID 为空时返回全部运行的
func (m *GateManager) Pending(ctx context.Context, runID string) ([]*Gate, error) {
	return m.List(ctx, runID, StatusPending)
}

// List 按创建时间返回关卡
func (m *GateManager) List(ctx context.Context, runID string, status Status) ([]*Gate, error) {
	gates, err := m.store.List(ctx, runID, status)
	if err != nil {
		return nil, err
	}
	sortGates(gates)
	return gates, nil
}

// Expired 返回等待时间超过 ttl 的 pending 关卡；ttl <= 0 时不过期
func (m *GateManager) Expired(ctx context.Context, now time.Time, ttl time.Duration) ([]*Gate, error) {
	if ttl <= 0 {
		return nil, nil
	}
	pending, err := m.Pending(ctx, "")
	if err != nil {
		return nil, err
	}
	var expired []*Gate
	for _, g := range pending {
		if g.Age(now) >= ttl {
			expired = append(expired, g)
		}
	}
	return expired, nil
}

func sortGates(gates []*Gate) {
	sort.SliceStable(gates, func(i, j int) bool {
		if gates[i].CreatedAt.Equal(gates[j].CreatedAt) {
			return gates[i].ID < gates[j].ID
		}
		return gates[i].CreatedAt.Before(gates[j].CreatedAt)
	})
}

// InMemoryGateStore 内存关卡存储，读写均复制记录
type InMemoryGateStore struct {
	gates map[string]*Gate
	mu    sync.RWMutex
}

// NewInMemoryGateStore 创建内存关卡存储
func NewInMemoryGateStore() *InMemoryGateStore {
	return &InMemoryGateStore{gates: make(map[string]*Gate)}
}

func (s *InMemoryGateStore) Save(ctx context.Context, gate *Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[gate.ID] = gate.clone()
	return nil
}

func (s *InMemoryGateStore) Load(ctx context.Context, gateID string) (*Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gate, ok := s.gates[gateID]
	if !ok {
		return nil, types.NewNotFoundError("gate", gateID)
	}
	return gate.clone(), nil
}

func (s *InMemoryGateStore) List(ctx context.Context, runID string, status Status) ([]*Gate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Gate
	for _, gate := range s.gates {
		if (runID == "" || gate.RunID == runID) && (status == "" || gate.Status == status) {
			results = append(results, gate.clone())
		}
	}
	return results, nil
}

func (s *InMemoryGateStore) Update(ctx context.Context, gate *Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gates[gate.ID]; !ok {
		return types.NewNotFoundError("gate", gate.ID)
	}
	s.gates[gate.ID] = gate.clone()
	return nil
}
