package coordinator

import (
	"context"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/run"
)

// Stats 协调器统计信息
type Stats struct {
	Teams        int               `json:"teams"`
	Runs         int               `json:"runs"`
	ByState      map[run.State]int `json:"by_state"`
	PendingGates int               `json:"pending_gates"`
}

// GetRun 返回运行副本。内存中不存在时回读运行存储（例如进程重启后的历史运行）。
func (c *Coordinator) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	if e, err := c.entry(runID); err == nil {
		return e.snapshot(), nil
	}
	rec, err := c.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return rec.Run, nil
}

// GetBlackboard 返回运行黑板的完整快照
func (c *Coordinator) GetBlackboard(ctx context.Context, runID string) (blackboard.Snapshot, error) {
	if e, err := c.entry(runID); err == nil {
		return e.bb.Read(), nil
	}
	rec, err := c.store.Get(ctx, runID)
	if err != nil {
		return blackboard.Snapshot{}, err
	}
	return rec.Blackboard, nil
}

// History 返回运行历史（重放接口）
func (c *Coordinator) History(ctx context.Context, runID string) ([]blackboard.HistoryEntry, error) {
	snap, err := c.GetBlackboard(ctx, runID)
	if err != nil {
		return nil, err
	}
	return snap.History, nil
}

// ListRuns 按创建时间返回本进程内的全部运行
func (c *Coordinator) ListRuns() []*run.Run {
	c.mu.RLock()
	entries := make([]*runEntry, 0, len(c.runs))
	for _, e := range c.runs {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	runs := make([]*run.Run, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, e.snapshot())
	}
	run.SortByCreated(runs)
	return runs
}

// Stats 返回统计信息
func (c *Coordinator) Stats(ctx context.Context) Stats {
	runs := c.ListRuns()
	s := Stats{
		Runs:    len(runs),
		ByState: make(map[run.State]int),
	}
	for _, r := range runs {
		s.ByState[r.State]++
	}
	c.mu.RLock()
	s.Teams = len(c.teams)
	c.mu.RUnlock()
	if pending, err := c.gates.Pending(ctx, ""); err == nil {
		s.PendingGates = len(pending)
	}
	return s
}

// Await 阻塞直到运行停在关卡或进入终态，返回此时的运行副本
func (c *Coordinator) Await(ctx context.Context, runID string) (*run.Run, error) {
	e, err := c.entry(runID)
	if err != nil {
		return nil, err
	}
	for {
		v := e.view.Load()
		if v.run.State.IsSettled() {
			return v.run.Clone(), nil
		}
		select {
		case <-v.changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
