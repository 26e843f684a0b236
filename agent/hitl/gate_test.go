package hitl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contractflow/types"
)

// --- test doubles (function callback pattern) ---

type testGateStore struct {
	*InMemoryGateStore
	saveFn   func(ctx context.Context, gate *Gate) error
	updateFn func(ctx context.Context, gate *Gate) error
}

func (s *testGateStore) Save(ctx context.Context, gate *Gate) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, gate)
	}
	return s.InMemoryGateStore.Save(ctx, gate)
}

func (s *testGateStore) Update(ctx context.Context, gate *Gate) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, gate)
	}
	return s.InMemoryGateStore.Update(ctx, gate)
}

func newTestManager(t *testing.T) (*GateManager, *time.Time) {
	t.Helper()
	m := NewGateManager(nil, nil)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestNewGateManager_Defaults(t *testing.T) {
	m := NewGateManager(nil, nil)
	require.NotNil(t, m)
	assert.NotNil(t, m.logger)
	assert.NotNil(t, m.store)
}

func TestGateManager_OpenAndResolve(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	g, err := m.Open(ctx, "run_1", KindRisk, GateOptions{Title: "Risk review"})
	require.NoError(t, err)
	assert.True(t, g.IsPending())
	assert.Contains(t, g.ID, "gate_")
	assert.Equal(t, "Risk review", g.Title)

	cur, err := m.Current(ctx, "run_1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, g.ID, cur.ID)

	resolved, err := m.Resolve(ctx, g.ID, Decision{Approved: true, Reviewer: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Decision)
	assert.Equal(t, "alice", resolved.Decision.Reviewer)
	require.NotNil(t, resolved.DecidedAt)

	cur, err = m.Current(ctx, "run_1")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestGateManager_RejectDecision(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g, err := m.Open(ctx, "run_1", KindFinal, GateOptions{})
	require.NoError(t, err)

	closed, err := m.Resolve(ctx, g.ID, Decision{Approved: false, Comment: "no"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, closed.Status)
}

func TestGateManager_SecondDecisionIsInvalidState(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	g, err := m.Open(ctx, "run_1", KindRisk, GateOptions{})
	require.NoError(t, err)

	_, err = m.Resolve(ctx, g.ID, Decision{Approved: true})
	require.NoError(t, err)

	_, err = m.Resolve(ctx, g.ID, Decision{Approved: true})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))

	_, err = m.Expire(ctx, g.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestGateManager_UnknownGate(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Resolve(context.Background(), "gate_missing", Decision{Approved: true})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGateManager_OnePendingGatePerRun(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Open(ctx, "run_1", KindRisk, GateOptions{})
	require.NoError(t, err)

	_, err = m.Open(ctx, "run_1", KindFinal, GateOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))

	_, err = m.Open(ctx, "run_2", KindRisk, GateOptions{})
	assert.NoError(t, err)

	_, err = m.Open(ctx, "run_3", Kind("bogus"), GateOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestGateManager_ConcurrentResolveOnlyOneWins(t *testing.T) {
	m := NewGateManager(nil, nil)
	ctx := context.Background()
	g, err := m.Open(ctx, "run_1", KindRisk, GateOptions{})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Resolve(ctx, g.ID, Decision{Approved: true}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestGateManager_Expired(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	old, err := m.Open(ctx, "run_old", KindRisk, GateOptions{})
	require.NoError(t, err)
	*now = now.Add(30 * time.Minute)
	_, err = m.Open(ctx, "run_new", KindFinal, GateOptions{})
	require.NoError(t, err)

	expired, err := m.Expired(ctx, now.Add(31*time.Minute), time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	none, err := m.Expired(ctx, now.Add(100*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	g, err := m.Expire(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, g.Status)
	assert.Nil(t, g.Decision)

	pending, err := m.Pending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "run_new", pending[0].RunID)
}

func TestGateManager_HandlersNotified(t *testing.T) {
	m := NewGateManager(nil, nil)
	got := make(chan *Gate, 1)
	m.RegisterHandler(KindFinal, func(ctx context.Context, g *Gate) error {
		got <- g
		return errors.New("handler errors are only logged")
	})

	g, err := m.Open(context.Background(), "run_1", KindFinal, GateOptions{})
	require.NoError(t, err)

	select {
	case notified := <-got:
		assert.Equal(t, g.ID, notified.ID)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestGateManager_StoreErrors(t *testing.T) {
	ctx := context.Background()
	store := &testGateStore{
		InMemoryGateStore: NewInMemoryGateStore(),
		saveFn: func(ctx context.Context, gate *Gate) error {
			return errors.New("disk full")
		},
	}
	m := NewGateManager(store, nil)
	_, err := m.Open(ctx, "run_1", KindRisk, GateOptions{})
	assert.ErrorContains(t, err, "failed to save gate")

	store.saveFn = nil
	store.updateFn = func(ctx context.Context, gate *Gate) error { return errors.New("disk full") }
	g, err := m.Open(ctx, "run_1", KindRisk, GateOptions{})
	require.NoError(t, err)
	_, err = m.Resolve(ctx, g.ID, Decision{Approved: true})
	assert.ErrorContains(t, err, "failed to update gate")

	// 更新失败时关卡保持 pending
	cur, err := m.Current(ctx, "run_1")
	require.NoError(t, err)
	assert.True(t, cur.IsPending())
}

func TestInMemoryGateStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryGateStore()
	ctx := context.Background()
	g := &Gate{ID: "g1", RunID: "r1", Status: StatusPending, Metadata: map[string]any{"k": "v"}}
	require.NoError(t, s.Save(ctx, g))

	g.Status = StatusExpired
	g.Metadata["k"] = "changed"

	loaded, err := s.Load(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, "v", loaded.Metadata["k"])

	assert.Error(t, s.Update(ctx, &Gate{ID: "missing"}))

	list, err := s.List(ctx, "r1", StatusPending)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.List(ctx, "r2", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
