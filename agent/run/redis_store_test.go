package run

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/types"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test", 0, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func sampleRecord(t *testing.T, id string, created time.Time) *Record {
	t.Helper()
	r := New(id, "doc_001", "manager_worker_team", "playbook_001",
		agent.Policy{"liability_cap": "12 months of fees"}, created)
	require.NoError(t, r.Transition(StateRunning, created))

	bb := blackboard.New(blackboard.Metadata{RunID: id, DocID: "doc_001"}, "## Term\nAny and all damages.")
	_, err := bb.Commit(&blackboard.Delta{
		Clauses: []blackboard.Clause{{ID: "clause_1", Heading: "Term", Text: "Any and all damages.", Index: 0}},
	}, blackboard.HistoryEntry{Actor: "parser", Kind: blackboard.EventAgentSucceeded, Summary: "clauses=1"})
	require.NoError(t, err)
	return &Record{Run: r, Blackboard: bb.Read()}
}

func TestRedisStore_SaveGet(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, sampleRecord(t, "run_1", created)))
	assert.True(t, mr.Exists(RunKey("test", "run_1")))

	rec, err := store.Get(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rec.Run.State)
	liabilityCap, ok := rec.Run.PolicyRules.String("liability_cap")
	assert.True(t, ok)
	assert.Equal(t, "12 months of fees", liabilityCap)
	assert.True(t, created.Equal(rec.Run.CreatedAt))
	require.Len(t, rec.Blackboard.Clauses, 1)
	assert.Equal(t, "clause_1", rec.Blackboard.Clauses[0].ID)
	require.Len(t, rec.Blackboard.History, 1)
	assert.Equal(t, int64(1), rec.Blackboard.History[0].Seq)
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestRedisStore_ListOrderedAndPrunesStale(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, sampleRecord(t, "run_z", base)))
	require.NoError(t, store.Save(ctx, sampleRecord(t, "run_a", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, sampleRecord(t, "run_m", base.Add(2*time.Minute))))

	runs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run_z", runs[0].ID)
	assert.Equal(t, "run_a", runs[1].ID)
	assert.Equal(t, "run_m", runs[2].ID)

	mr.Del(RunKey("test", "run_a"))
	runs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	members, err := mr.ZMembers(RunIndexKey("test"))
	require.NoError(t, err)
	assert.NotContains(t, members, "run_a")
}

func TestRedisStore_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	rec := sampleRecord(t, "run_1", time.Now())
	require.NoError(t, store.Save(ctx, rec))

	require.NoError(t, rec.Run.Transition(StateAwaitingRiskApproval, time.Now()))
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingRiskApproval, got.Run.State)

	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRedisStore_RecordTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "", time.Hour, nil)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleRecord(t, "run_1", time.Now())))
	assert.Equal(t, time.Hour, mr.TTL(RunKey("contractflow", "run_1")))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "run_1")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	store, mr := setupTestStore(t)
	mr.Close()

	err := store.Save(context.Background(), sampleRecord(t, "run_1", time.Now()))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStoreFailure))
	assert.True(t, types.IsRetryable(err))
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := NewRedisStore(cfg, nil)
	assert.Error(t, err)
}
