package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/agent/team"
	"github.com/BaSui01/contractflow/types"
)

// StartRunRequest 启动运行的参数
type StartRunRequest struct {
	DocID        string
	DocumentText string
	TeamName     string
	PlaybookID   string
	PolicyRules  agent.Policy
}

// StartRun 创建运行并在独立 goroutine 中执行风险阶段，立即返回运行 ID。
// 团队未注册时返回 NOT_FOUND。
func (c *Coordinator) StartRun(ctx context.Context, req StartRunRequest) (string, error) {
	if req.DocID == "" {
		return "", types.NewValidationError("doc_id is required")
	}
	t, err := c.Team(req.TeamName)
	if err != nil {
		return "", err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return "", types.NewInvalidStateError("coordinator is closed")
	}

	now := c.now()
	runID := c.newID()
	r := run.New(runID, req.DocID, t.Name(), req.PlaybookID, req.PolicyRules, now)
	bb := blackboard.New(blackboard.Metadata{
		RunID:      runID,
		DocID:      req.DocID,
		Team:       t.Name(),
		PlaybookID: req.PlaybookID,
		CreatedAt:  now,
	}, req.DocumentText)
	if _, err := bb.Commit(blackboard.StatusDelta(string(run.StateCreated)), blackboard.HistoryEntry{
		Actor:   coordinatorActor,
		Kind:    blackboard.EventRunCreated,
		Summary: fmt.Sprintf("run created for %s with team %s", req.DocID, t.Name()),
		Status:  string(run.StateCreated),
	}); err != nil {
		return "", err
	}

	e := &runEntry{run: r, bb: bb, team: t}
	e.publish()
	c.mu.Lock()
	c.runs[runID] = e
	c.mu.Unlock()

	c.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("doc_id", req.DocID),
		zap.String("team", t.Name()))

	e.mu.Lock()
	err = c.transition(ctx, e, run.StateRunning, "risk stage started")
	e.mu.Unlock()
	if err != nil {
		return "", err
	}

	c.launch(e, agent.StageRisk)
	return runID, nil
}

// launch 在后台执行一个阶段
func (c *Coordinator) launch(e *runEntry, stage agent.Stage) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.executeStage(e, stage)
	}()
}

// executeStage 执行团队阶段，然后打开下一个关卡或使运行失败
func (c *Coordinator) executeStage(e *runEntry, stage agent.Stage) {
	e.mu.Lock()
	r := e.run.Clone()
	var scope []string
	if stage == agent.StageRedline {
		// 非 nil 的空切片表示没有获批条款
		review := e.bb.Read(blackboard.FieldRiskReview).RiskReview
		scope = []string{}
		if review != nil {
			scope = append(scope, review.Approved...)
		}
	}
	e.mu.Unlock()

	ctx, span := c.tracer.Start(c.ctx, "coordinator.stage",
		trace.WithAttributes(
			attribute.String("run.id", r.ID),
			attribute.String("run.stage", string(stage)),
			attribute.String("team.name", e.team.Name()),
		))
	defer span.End()
	ctx = types.WithRunID(ctx, r.ID)

	_, err := e.team.Execute(ctx, e.bb, team.Request{
		RunID:    r.ID,
		Stage:    stage,
		Scope:    scope,
		Policy:   r.PolicyRules,
		Observer: c.observer,
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(ctx, e, fmt.Errorf("%s stage failed: %w", stage, err))
		return
	}

	switch stage {
	case agent.StageRisk:
		score := blackboard.RiskScore(e.bb.Read(blackboard.FieldAssessments).Assessments)
		if _, err := e.bb.Commit(blackboard.ScoreDelta(score), blackboard.HistoryEntry{
			Actor:   coordinatorActor,
			Kind:    blackboard.EventScoreUpdated,
			Summary: fmt.Sprintf("risk score %d", score),
		}); err != nil {
			c.fail(ctx, e, err)
			return
		}
		c.park(ctx, e, hitl.KindRisk, run.StateAwaitingRiskApproval, hitl.GateOptions{
			Title:       "Risk review",
			Description: "Approve the clauses that should receive redline proposals",
			Metadata:    map[string]any{"score": score},
		})
	case agent.StageRedline:
		proposals := len(e.bb.Read(blackboard.FieldProposals).Proposals)
		c.park(ctx, e, hitl.KindFinal, run.StateAwaitingFinalApproval, hitl.GateOptions{
			Title:       "Final review",
			Description: "Accept or reject the proposed redlines",
			Metadata:    map[string]any{"proposals": proposals},
		})
	}
}

// park 打开关卡并将运行停在等待状态；调用方持有 e.mu
func (c *Coordinator) park(ctx context.Context, e *runEntry, kind hitl.Kind, state run.State, opts hitl.GateOptions) {
	gate, err := c.gates.Open(ctx, e.run.ID, kind, opts)
	if err != nil {
		c.fail(ctx, e, fmt.Errorf("open %s gate: %w", kind, err))
		return
	}
	e.gate = gate
	e.bb.AppendHistory(blackboard.HistoryEntry{
		Actor:   coordinatorActor,
		Kind:    blackboard.EventGateOpened,
		Summary: fmt.Sprintf("%s gate %s opened", kind, gate.ID),
	})
	c.observer.ObserveGate(kind, hitl.StatusPending, 0)
	if err := c.transition(ctx, e, state, fmt.Sprintf("waiting for %s approval", kind)); err != nil {
		c.logger.Error("failed to park run", zap.String("run_id", e.run.ID), zap.Error(err))
	}
}

// fail 将运行置为 FAILED 并保留完整错误；调用方持有 e.mu
func (c *Coordinator) fail(ctx context.Context, e *runEntry, cause error) {
	e.run.Error = cause.Error()
	if err := c.transition(ctx, e, run.StateFailed, cause.Error()); err != nil {
		c.logger.Error("failed to mark run failed",
			zap.String("run_id", e.run.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	c.logger.Warn("run failed",
		zap.String("run_id", e.run.ID),
		zap.String("team", e.run.TeamName),
		zap.Error(cause))
}

// transition 执行状态转换，写入黑板 status 与 status_changed 历史，写穿存储后发布视图；调用方持有 e.mu
func (c *Coordinator) transition(ctx context.Context, e *runEntry, to run.State, summary string) error {
	from := e.run.State
	if err := e.run.Transition(to, c.now()); err != nil {
		return err
	}
	if _, err := e.bb.Commit(blackboard.StatusDelta(string(to)), blackboard.HistoryEntry{
		Actor:   coordinatorActor,
		Kind:    blackboard.EventStatusChanged,
		Summary: summary,
		Status:  string(to),
		Error:   errorFor(e.run, to),
	}); err != nil {
		return err
	}

	c.logger.Info("run state changed",
		zap.String("run_id", e.run.ID),
		zap.String("from", string(from)),
		zap.String("state", string(to)))
	c.observer.ObserveTransition(from, to)
	c.persist(ctx, e)
	e.publish()
	return nil
}

func errorFor(r *run.Run, to run.State) string {
	if to == run.StateFailed {
		return r.Error
	}
	return ""
}

// persist 写穿运行记录；存储失败只记录日志
func (c *Coordinator) persist(ctx context.Context, e *runEntry) {
	rec := &run.Record{Run: e.run.Clone(), Blackboard: e.bb.Read()}
	if err := c.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("failed to persist run",
			zap.String("run_id", e.run.ID),
			zap.Error(err))
	}
}
