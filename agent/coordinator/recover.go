package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
)

// reasonInterrupted 重启时仍在执行阶段的运行无法续跑
const reasonInterrupted = "interrupted by restart"

// RecoverResult 恢复统计
type RecoverResult struct {
	Restored    int `json:"restored"`
	Reopened    int `json:"reopened"`
	Interrupted int `json:"interrupted"`
	Skipped     int `json:"skipped"`
}

// Recover 把运行存储中尚未加载的运行装回内存。
// 终态运行原样恢复；等待中的运行沿用存储中的 pending 关卡，没有则重新打开；
// 执行中的运行标记为 FAILED。团队未注册的非终态运行跳过，仍可通过存储回读。
func (c *Coordinator) Recover(ctx context.Context) (RecoverResult, error) {
	var res RecoverResult
	runs, err := c.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list runs: %w", err)
	}

	for _, r := range runs {
		if _, err := c.entry(r.ID); err == nil {
			continue
		}
		rec, err := c.store.Get(ctx, r.ID)
		if err != nil {
			c.logger.Warn("failed to load run", zap.String("run_id", r.ID), zap.Error(err))
			res.Skipped++
			continue
		}

		t, terr := c.Team(rec.Run.TeamName)
		if terr != nil && !rec.Run.State.IsTerminal() {
			c.logger.Warn("skipping run of unregistered team",
				zap.String("run_id", r.ID),
				zap.String("team", rec.Run.TeamName))
			res.Skipped++
			continue
		}

		e := &runEntry{run: rec.Run, bb: blackboard.Restore(rec.Blackboard), team: t}
		e.publish()
		c.mu.Lock()
		if _, exists := c.runs[r.ID]; exists {
			c.mu.Unlock()
			continue
		}
		c.runs[r.ID] = e
		c.mu.Unlock()
		res.Restored++

		e.mu.Lock()
		switch {
		case e.run.State.IsAwaiting():
			if c.reattach(ctx, e) {
				res.Reopened++
			}
		case !e.run.State.IsTerminal():
			e.run.Error = reasonInterrupted
			if err := c.transition(ctx, e, run.StateFailed, reasonInterrupted); err != nil {
				c.logger.Error("failed to fail interrupted run", zap.String("run_id", e.run.ID), zap.Error(err))
			} else {
				res.Interrupted++
			}
		}
		e.mu.Unlock()
	}

	c.logger.Info("runs recovered",
		zap.Int("restored", res.Restored),
		zap.Int("reopened", res.Reopened),
		zap.Int("interrupted", res.Interrupted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// reattach 为等待中的运行找回或重新打开关卡，返回是否新开；调用方持有 e.mu
func (c *Coordinator) reattach(ctx context.Context, e *runEntry) bool {
	kind := hitl.KindRisk
	if e.run.State == run.StateAwaitingFinalApproval {
		kind = hitl.KindFinal
	}

	current, err := c.gates.Current(ctx, e.run.ID)
	if err != nil {
		c.logger.Warn("failed to look up gate", zap.String("run_id", e.run.ID), zap.Error(err))
	}
	if current != nil && current.Kind == kind {
		e.gate = current
		return false
	}
	if current != nil {
		// 存储中的关卡与运行状态不符
		if _, err := c.gates.Expire(ctx, current.ID); err != nil {
			c.logger.Warn("failed to drop stale gate", zap.String("gate_id", current.ID), zap.Error(err))
		}
	}

	gate, err := c.gates.Open(ctx, e.run.ID, kind, hitl.GateOptions{
		Title:       fmt.Sprintf("%s review (reopened)", kind),
		Description: "Gate reopened after restart",
	})
	if err != nil {
		c.logger.Error("failed to reopen gate", zap.String("run_id", e.run.ID), zap.Error(err))
		return false
	}
	e.gate = gate
	e.bb.AppendHistory(blackboard.HistoryEntry{
		Actor:   coordinatorActor,
		Kind:    blackboard.EventGateOpened,
		Summary: fmt.Sprintf("%s gate %s reopened after restart", kind, gate.ID),
	})
	c.observer.ObserveGate(kind, hitl.StatusPending, 0)
	c.persist(ctx, e)
	return true
}
