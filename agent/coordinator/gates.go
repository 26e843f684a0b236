package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/types"
)

// 过期关卡的拒绝原因
const reasonGateExpired = "gate expired"

// RiskDecision 风险关卡提交内容
type RiskDecision struct {
	Approved []string
	Rejected []string
	Comments map[string]string
	Reviewer string
}

// FinalDecision 最终关卡提交内容
type FinalDecision struct {
	ApprovedProposals []string
	RejectedProposals []string
	Notes             string
	Reviewer          string
}

// SubmitRiskReview 提交风险关卡决定并在后台恢复运行（修订阶段）。
// 运行不存在返回 NOT_FOUND，不在 AWAITING_RISK_APPROVAL 返回 INVALID_STATE，
// 载荷引用未知条款或同一条款既批准又拒绝返回 VALIDATION。
func (c *Coordinator) SubmitRiskReview(ctx context.Context, runID string, d RiskDecision) error {
	e, err := c.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.State != run.StateAwaitingRiskApproval {
		return types.NewInvalidStateError("run %s is %s, not awaiting risk approval", runID, e.run.State)
	}

	review := &blackboard.RiskReview{
		Approved:  nonNil(d.Approved),
		Rejected:  nonNil(d.Rejected),
		Comments:  d.Comments,
		Reviewer:  d.Reviewer,
		DecidedAt: c.now(),
	}
	delta := &blackboard.Delta{RiskReview: review}
	if err := e.bb.Validate(delta); err != nil {
		return err
	}
	if err := c.decide(ctx, e, hitl.Decision{
		Approved: true,
		Reviewer: d.Reviewer,
		Comment:  fmt.Sprintf("approved=%d rejected=%d", len(review.Approved), len(review.Rejected)),
	}, delta); err != nil {
		return err
	}

	if err := c.transition(ctx, e, run.StateRunningRedline, "redline stage started"); err != nil {
		return err
	}
	c.launch(e, agent.StageRedline)
	return nil
}

// SubmitFinalReview 提交最终关卡决定并完成运行
func (c *Coordinator) SubmitFinalReview(ctx context.Context, runID string, d FinalDecision) error {
	e, err := c.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.State != run.StateAwaitingFinalApproval {
		return types.NewInvalidStateError("run %s is %s, not awaiting final approval", runID, e.run.State)
	}

	delta := &blackboard.Delta{FinalReview: &blackboard.FinalReview{
		ApprovedProposals: nonNil(d.ApprovedProposals),
		RejectedProposals: nonNil(d.RejectedProposals),
		Notes:             d.Notes,
		Reviewer:          d.Reviewer,
		DecidedAt:         c.now(),
	}}
	if err := e.bb.Validate(delta); err != nil {
		return err
	}
	if err := c.decide(ctx, e, hitl.Decision{
		Approved: true,
		Reviewer: d.Reviewer,
		Comment:  d.Notes,
	}, delta); err != nil {
		return err
	}

	e.run.Notes = d.Notes
	return c.transition(ctx, e, run.StateCompleted, "final review recorded")
}

// ApproveRisk SubmitRiskReview 的布尔形式：运行未知或不在风险关卡时返回 false
func (c *Coordinator) ApproveRisk(ctx context.Context, runID string, approved, rejected []string, comments map[string]string) bool {
	err := c.SubmitRiskReview(ctx, runID, RiskDecision{Approved: approved, Rejected: rejected, Comments: comments})
	if err != nil {
		c.logger.Debug("risk approval refused", zap.String("run_id", runID), zap.Error(err))
	}
	return err == nil
}

// ApproveFinal SubmitFinalReview 的布尔形式
func (c *Coordinator) ApproveFinal(ctx context.Context, runID string, approved, rejected []string, notes string) bool {
	err := c.SubmitFinalReview(ctx, runID, FinalDecision{ApprovedProposals: approved, RejectedProposals: rejected, Notes: notes})
	if err != nil {
		c.logger.Debug("final approval refused", zap.String("run_id", runID), zap.Error(err))
	}
	return err == nil
}

// RejectRun 在任一审批关卡拒绝运行，运行进入 REJECTED
func (c *Coordinator) RejectRun(ctx context.Context, runID, reason, reviewer string) error {
	e, err := c.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.run.State.IsAwaiting() {
		return types.NewInvalidStateError("run %s is %s, not awaiting approval", runID, e.run.State)
	}
	if reason == "" {
		reason = "rejected by reviewer"
	}
	if err := c.decide(ctx, e, hitl.Decision{Approved: false, Reviewer: reviewer, Comment: reason}, nil); err != nil {
		return err
	}
	e.run.RejectReason = reason
	return c.transition(ctx, e, run.StateRejected, reason)
}

// decide 关闭当前关卡并记录决定；调用方持有 e.mu
func (c *Coordinator) decide(ctx context.Context, e *runEntry, d hitl.Decision, delta *blackboard.Delta) error {
	if e.gate == nil {
		return types.NewInvalidStateError("run %s has no open gate", e.run.ID)
	}
	gate, err := c.gates.Resolve(ctx, e.gate.ID, d)
	if err != nil {
		return err
	}

	actor := d.Reviewer
	if actor == "" {
		actor = "reviewer"
	}
	outcome := "approved"
	if !d.Approved {
		outcome = "rejected"
	}
	entry := blackboard.HistoryEntry{
		Actor:   actor,
		Kind:    blackboard.EventGateDecided,
		Summary: fmt.Sprintf("%s gate %s: %s", gate.Kind, outcome, d.Comment),
	}
	if delta != nil {
		if _, err := e.bb.Commit(delta, entry); err != nil {
			return err
		}
	} else {
		e.bb.AppendHistory(entry)
	}

	c.observer.ObserveGate(gate.Kind, gate.Status, gate.DecidedAt.Sub(gate.CreatedAt))
	e.gate = nil
	return nil
}

// PendingGates 返回运行的 pending 关卡；runID 为空时返回全部
func (c *Coordinator) PendingGates(ctx context.Context, runID string) ([]*hitl.Gate, error) {
	if runID != "" {
		if _, err := c.entry(runID); err != nil {
			return nil, err
		}
	}
	return c.gates.Pending(ctx, runID)
}

// ExpireGates 拒绝所有等待超过 GateTTL 的运行，返回处理数量
func (c *Coordinator) ExpireGates(ctx context.Context, now time.Time) int {
	expired, err := c.gates.Expired(ctx, now, c.config.GateTTL)
	if err != nil {
		c.logger.Warn("failed to scan gates", zap.Error(err))
		return 0
	}

	count := 0
	for _, g := range expired {
		e, err := c.entry(g.RunID)
		if err != nil {
			continue
		}
		if c.expire(ctx, e, g.ID) {
			count++
		}
	}
	return count
}

func (c *Coordinator) expire(ctx context.Context, e *runEntry, gateID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 扫描与人工提交竞争时以先拿到锁者为准
	if e.gate == nil || e.gate.ID != gateID || !e.run.State.IsAwaiting() {
		return false
	}
	gate, err := c.gates.Expire(ctx, gateID)
	if err != nil {
		c.logger.Warn("failed to expire gate", zap.String("gate_id", gateID), zap.Error(err))
		return false
	}
	e.gate = nil
	e.bb.AppendHistory(blackboard.HistoryEntry{
		Actor:   coordinatorActor,
		Kind:    blackboard.EventGateDecided,
		Summary: fmt.Sprintf("%s gate %s", gate.Kind, reasonGateExpired),
	})
	c.observer.ObserveGate(gate.Kind, gate.Status, gate.DecidedAt.Sub(gate.CreatedAt))

	e.run.RejectReason = reasonGateExpired
	if err := c.transition(ctx, e, run.StateRejected, reasonGateExpired); err != nil {
		c.logger.Error("failed to reject expired run", zap.String("run_id", e.run.ID), zap.Error(err))
		return false
	}
	return true
}

func (c *Coordinator) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.ExpireGates(c.ctx, c.now()); n > 0 {
				c.logger.Info("expired gates", zap.Int("count", n))
			}
		}
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
