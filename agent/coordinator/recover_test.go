package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
)

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s_%d", prefix, n.Add(1)) }
}

// storedRun 直接写入存储，模拟上一个进程留下的运行
func storedRun(t *testing.T, store run.Store, id, teamName string, states ...run.State) {
	t.Helper()
	now := time.Now()
	r := run.New(id, "doc_001", teamName, "", nil, now)
	for _, s := range states {
		require.NoError(t, r.Transition(s, now))
	}
	bb := blackboard.New(blackboard.Metadata{RunID: id, DocID: "doc_001", Team: teamName, CreatedAt: now}, oneClauseDoc)
	_, err := bb.Commit(blackboard.StatusDelta(string(r.State)), blackboard.HistoryEntry{
		Actor:  coordinatorActor,
		Kind:   blackboard.EventStatusChanged,
		Status: string(r.State),
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &run.Record{Run: r, Blackboard: bb.Read()}))
}

func TestRecover_RestoresRunsFromStore(t *testing.T) {
	ctx := context.Background()
	store := run.NewMemoryStore()
	gateStore := hitl.NewInMemoryGateStore()

	first := newTestCoordinator(t, WithRunStore(store), WithGateStore(gateStore), WithIDGenerator(sequentialIDs("run")))
	waiting := startRun(t, first, SequentialTeam, oneClauseDoc)
	assert.Equal(t, "run_1", waiting)
	await(t, first, waiting)
	rejected := startRun(t, first, SequentialTeam, oneClauseDoc)
	await(t, first, rejected)
	require.NoError(t, first.RejectRun(ctx, rejected, "withdrawn", "gc"))
	require.NoError(t, first.Close())

	storedRun(t, store, "run_interrupted", SequentialTeam, run.StateRunning)
	storedRun(t, store, "run_orphan", "ghost_team",
		run.StateRunning, run.StateAwaitingRiskApproval, run.StateRunningRedline, run.StateAwaitingFinalApproval)

	second := newTestCoordinator(t, WithRunStore(store), WithGateStore(gateStore))
	res, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoverResult{Restored: 3, Reopened: 0, Interrupted: 1, Skipped: 1}, res)
	assert.Len(t, second.ListRuns(), 3)

	r, err := second.GetRun(ctx, "run_interrupted")
	require.NoError(t, err)
	assert.Equal(t, run.StateFailed, r.State)
	assert.Equal(t, reasonInterrupted, r.Error)

	r, err = second.GetRun(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, run.StateRejected, r.State)

	// 共享关卡存储时沿用原关卡
	gates, err := second.PendingGates(ctx, waiting)
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, hitl.KindRisk, gates[0].Kind)

	require.True(t, second.ApproveRisk(ctx, waiting, []string{"clause_1"}, nil, nil))
	assert.Equal(t, run.StateAwaitingFinalApproval, await(t, second, waiting).State)

	again, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Restored)
}

func TestRecover_ReopensMissingGate(t *testing.T) {
	ctx := context.Background()
	store := run.NewMemoryStore()
	storedRun(t, store, "run_final", SequentialTeam,
		run.StateRunning, run.StateAwaitingRiskApproval, run.StateRunningRedline, run.StateAwaitingFinalApproval)

	opened := make(chan *hitl.Gate, 1)
	c := newTestCoordinator(t, WithRunStore(store), WithGateHandler(func(ctx context.Context, g *hitl.Gate) error {
		opened <- g
		return nil
	}))
	res, err := c.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoverResult{Restored: 1, Reopened: 1}, res)

	select {
	case g := <-opened:
		assert.Equal(t, hitl.KindFinal, g.Kind)
		assert.Equal(t, "run_final", g.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("gate handler not called")
	}

	h, err := c.History(ctx, "run_final")
	require.NoError(t, err)
	last := h[len(h)-1]
	assert.Equal(t, blackboard.EventGateOpened, last.Kind)
	assert.True(t, strings.HasSuffix(last.Summary, "reopened after restart"))

	rec, err := store.Get(ctx, "run_final")
	require.NoError(t, err)
	assert.Len(t, rec.Blackboard.History, len(h), "reopened gate is written through")

	require.True(t, c.ApproveFinal(ctx, "run_final", nil, nil, "ok"))
	r, err := c.GetRun(ctx, "run_final")
	require.NoError(t, err)
	assert.Equal(t, run.StateCompleted, r.State)
}

func TestWithGateHandler_FiltersByKind(t *testing.T) {
	opened := make(chan hitl.Kind, 4)
	c := newTestCoordinator(t, WithGateHandler(func(ctx context.Context, g *hitl.Gate) error {
		opened <- g.Kind
		return nil
	}, hitl.KindFinal))

	id := startRun(t, c, SequentialTeam, oneClauseDoc)
	await(t, c, id)
	require.True(t, c.ApproveRisk(context.Background(), id, []string{"clause_1"}, nil, nil))
	await(t, c, id)

	select {
	case k := <-opened:
		assert.Equal(t, hitl.KindFinal, k)
	case <-time.After(5 * time.Second):
		t.Fatal("final gate handler not called")
	}
	assert.Empty(t, opened, "risk gate must not reach a final-only handler")
}
