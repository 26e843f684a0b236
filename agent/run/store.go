package run

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/types"
)

// Record 持久化单元：运行状态与其黑板快照
type Record struct {
	Run        *Run                `json:"run"`
	Blackboard blackboard.Snapshot `json:"blackboard"`
}

// Store 运行存储接口。
// 编排逻辑只依赖该接口，持久化后端可以替换。
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, runID string) (*Record, error)
	List(ctx context.Context) ([]*Run, error)
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save 保存记录（覆盖）
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Run == nil || rec.Run.ID == "" {
		return types.NewValidationError("record requires a run with an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Run.ID] = &Record{Run: rec.Run.Clone(), Blackboard: rec.Blackboard}
	return nil
}

// Get 读取记录
func (s *MemoryStore) Get(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[runID]
	if !ok {
		return nil, types.NewNotFoundError("run", runID)
	}
	return &Record{Run: rec.Run.Clone(), Blackboard: rec.Blackboard}, nil
}

// List 按创建时间返回全部运行
func (s *MemoryStore) List(ctx context.Context) ([]*Run, error) {
	s.mu.RLock()
	runs := make([]*Run, 0, len(s.records))
	for _, rec := range s.records {
		runs = append(runs, rec.Run.Clone())
	}
	s.mu.RUnlock()
	SortByCreated(runs)
	return runs, nil
}

// SortByCreated 按创建时间升序排序，时间相同按 ID
func SortByCreated(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
