package team

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/types"
)

// Result 一次阶段执行的结果
type Result struct {
	Team        string        `json:"team"`
	Stage       agent.Stage   `json:"stage"`
	Invocations int           `json:"invocations"`
	WorkItems   int           `json:"work_items,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Execute 在黑板上执行指定阶段的 Agent。
// 任一 Agent 失败即返回错误；失败 Agent 的增量不会生效。
// req.RunID 为空时取 context 中的运行 ID。
func (t *Team) Execute(ctx context.Context, bb *blackboard.Blackboard, req Request) (*Result, error) {
	if req.RunID == "" {
		req.RunID, _ = types.RunID(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "team.execute",
		trace.WithAttributes(
			attribute.String("team.name", t.name),
			attribute.String("team.pattern", string(t.pattern)),
			attribute.String("run.id", req.RunID),
			attribute.String("run.stage", string(req.Stage)),
		))
	defer span.End()

	start := time.Now()
	result := &Result{Team: t.name, Stage: req.Stage}

	stageAgents := make([]agent.Agent, 0, len(t.agents))
	for _, a := range t.agents {
		if agent.ParticipatesIn(a, req.Stage) {
			stageAgents = append(stageAgents, a)
		}
	}

	t.logger.Debug("executing stage",
		zap.String("run_id", req.RunID),
		zap.String("stage", string(req.Stage)),
		zap.Int("agents", len(stageAgents)))

	var err error
	if len(stageAgents) > 0 {
		switch t.pattern {
		case PatternSequential:
			err = t.executeSequential(ctx, bb, req, stageAgents, result)
		case PatternPipeline:
			err = t.executePipeline(ctx, bb, req, stageAgents, result)
		case PatternManagerWorker:
			err = t.executeManagerWorker(ctx, bb, req, stageAgents, result)
		default:
			err = types.NewValidationError("%v %q", ErrUnknownPattern, t.pattern)
		}
	}
	if err == nil && req.Stage == agent.StageRisk {
		err = t.checkCoverage(bb, req)
	}

	result.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("stage failed",
			zap.String("run_id", req.RunID),
			zap.String("stage", string(req.Stage)),
			zap.Error(err))
		return result, err
	}
	return result, nil
}

// SEQUENTIAL: 每个 Agent 看到前一个 Agent 提交后的黑板
func (t *Team) executeSequential(ctx context.Context, bb *blackboard.Blackboard, req Request, agents []agent.Agent, result *Result) error {
	for _, a := range agents {
		in := t.input(bb.Read(), req)
		out, err := t.invoke(ctx, a, in, req)
		result.Invocations++
		if err != nil {
			t.recordFailure(bb, a.Name(), err)
			return err
		}
		if err := t.commit(bb, a, out); err != nil {
			return err
		}
	}
	return nil
}

// PIPELINE: 与 SEQUENTIAL 顺序相同，但 Agent 只能通过数据包获取上游输出
func (t *Team) executePipeline(ctx context.Context, bb *blackboard.Blackboard, req Request, agents []agent.Agent, result *Result) error {
	packet := agent.NewPacket(bb.Read(
		blackboard.FieldDocumentText,
		blackboard.FieldClauses,
		blackboard.FieldAssessments,
		blackboard.FieldProposals,
	))

	for _, a := range agents {
		in := t.input(bb.Read(blackboard.FieldDocumentText), req)
		in.Packet = packet
		out, err := t.invoke(ctx, a, in, req)
		result.Invocations++
		if err != nil {
			t.recordFailure(bb, a.Name(), err)
			return err
		}
		if err := t.commit(bb, a, out); err != nil {
			return err
		}
		packet = packet.Next(out.Delta)
	}
	return nil
}

// MANAGER_WORKER: manager 拆分，worker 在同一快照上并发执行，按 clause_id 升序合并后一次写入
func (t *Team) executeManagerWorker(ctx context.Context, bb *blackboard.Blackboard, req Request, agents []agent.Agent, result *Result) error {
	manager := agents[0]
	if manager.Capability() != agent.CapabilityManage {
		return types.NewValidationError("team %s: %v", t.name, ErrManagerWorkerShape).WithCause(ErrManagerWorkerShape)
	}
	workers := agents[1:]

	// 1. manager 拆分
	in := t.input(bb.Read(), req)
	in.Workers = len(workers)
	out, err := t.invoke(ctx, manager, in, req)
	result.Invocations++
	if err != nil {
		t.recordFailure(bb, manager.Name(), err)
		return err
	}

	clauseIDs := in.Snapshot.ClauseIDs()
	if out.Delta != nil && out.Delta.Clauses != nil {
		clauseIDs = clauseIDs[:0]
		for _, c := range out.Delta.Clauses {
			clauseIDs = append(clauseIDs, c.ID)
		}
	}
	scope := scopeSet(clauseIDs, req.Scope)
	if err := validatePartition(out.WorkItems, scope, len(workers)); err != nil {
		ae := agent.NewAgentError(manager, err)
		t.recordFailure(bb, manager.Name(), ae)
		return ae
	}
	if err := t.commit(bb, manager, out); err != nil {
		return err
	}

	items := out.WorkItems
	result.WorkItems = len(items)
	if len(items) == 0 {
		return nil
	}

	// 2. 并发执行，所有 worker 共享同一个分发前快照，增量先缓冲
	snapshot := bb.Read(
		blackboard.FieldDocumentText,
		blackboard.FieldClauses,
		blackboard.FieldAssessments,
		blackboard.FieldProposals,
		blackboard.FieldRiskReview,
	)
	deltas := make([]*blackboard.Delta, len(items))

	g, gctx := errgroup.WithContext(ctx)
	if t.maxConcurrency > 0 {
		g.SetLimit(t.maxConcurrency)
	}
	for i := range items {
		item := items[i]
		w := workers[i]
		idx := i
		g.Go(func() error {
			win := t.input(snapshot, req)
			win.Item = &item
			wout, err := t.invoke(gctx, w, win, req)
			if err != nil {
				// 被兄弟 worker 的失败取消时不重复记录
				if !(errors.Is(err, context.Canceled) && ctx.Err() == nil) {
					t.recordFailure(bb, w.Name(), err)
				}
				return err
			}
			if err := checkItemWrites(item, wout.Delta); err != nil {
				ae := agent.NewAgentError(w, err)
				t.recordFailure(bb, w.Name(), ae)
				return ae
			}
			bb.AppendHistory(blackboard.HistoryEntry{
				Actor:   w.Name(),
				Kind:    blackboard.EventAgentSucceeded,
				Summary: fmt.Sprintf("%s (buffered for join)", wout.SummaryOrDefault()),
			})
			deltas[idx] = wout.Delta
			return nil
		})
	}
	err = g.Wait()
	result.Invocations += len(items)
	if err != nil {
		return err
	}

	// 3. join：按分片首个 clause_id 升序合并
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return blackboard.CompareClauseIDs(firstID(items[order[a]]), firstID(items[order[b]])) < 0
	})

	merged := &blackboard.Delta{}
	for _, i := range order {
		if err := merged.MergeInto(deltas[i]); err != nil {
			return t.joinFailure(bb, types.NewValidationError("merge work item %s: %v", items[i].ID, err))
		}
	}

	if req.Stage == agent.StageRisk {
		for id := range scope {
			if _, ok := merged.Assessments[id]; !ok {
				return t.joinFailure(bb, types.NewValidationError("%v: %s not assessed", ErrIncompleteCoverage, id).WithCause(ErrIncompleteCoverage))
			}
		}
	}

	if _, err := bb.Commit(merged, blackboard.HistoryEntry{
		Actor:   t.joinActor(),
		Kind:    blackboard.EventAgentSucceeded,
		Summary: fmt.Sprintf("merged %d work items: %s", len(items), merged.Summary()),
	}); err != nil {
		return t.joinFailure(bb, err)
	}
	return nil
}

// checkCoverage 风险阶段结束时，范围内每个条款都必须有评估
func (t *Team) checkCoverage(bb *blackboard.Blackboard, req Request) error {
	s := bb.Read(blackboard.FieldClauses, blackboard.FieldAssessments)
	var missing []string
	for id := range scopeSet(s.ClauseIDs(), req.Scope) {
		if _, ok := s.Assessments[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	blackboard.SortClauseIDs(missing)
	err := types.NewValidationError("%v: %s not assessed", ErrIncompleteCoverage, strings.Join(missing, ", ")).WithCause(ErrIncompleteCoverage)
	t.recordFailure(bb, t.name, err)
	return err
}

func (t *Team) joinActor() string {
	return t.name + ".join"
}

func (t *Team) joinFailure(bb *blackboard.Blackboard, err error) error {
	t.recordFailure(bb, t.joinActor(), err)
	return err
}

func (t *Team) input(s blackboard.Snapshot, req Request) *agent.Input {
	return &agent.Input{
		RunID:    req.RunID,
		Stage:    req.Stage,
		Snapshot: s,
		Scope:    req.Scope,
		Policy:   req.Policy,
	}
}

// invoke 执行单个 Agent 并记录追踪与指标
func (t *Team) invoke(ctx context.Context, a agent.Agent, in *agent.Input, req Request) (*agent.Output, error) {
	ctx, span := t.tracer.Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent.name", a.Name()),
			attribute.String("agent.capability", string(a.Capability())),
			attribute.String("run.stage", string(req.Stage)),
		))
	defer span.End()

	start := time.Now()
	out, err := agent.Invoke(ctx, a, in)
	duration := time.Since(start)

	if req.Observer != nil {
		req.Observer.ObserveAgent(t.name, a.Name(), string(a.Capability()), string(req.Stage), duration, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("agent failed",
			zap.String("run_id", req.RunID),
			zap.String("agent", a.Name()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}
	t.logger.Debug("agent succeeded",
		zap.String("run_id", req.RunID),
		zap.String("agent", a.Name()),
		zap.Duration("duration", duration))
	return out, nil
}

// commit 原子应用 Agent 增量并记录一条成功历史；校验失败则记录失败历史
func (t *Team) commit(bb *blackboard.Blackboard, a agent.Agent, out *agent.Output) error {
	_, err := bb.Commit(out.Delta, blackboard.HistoryEntry{
		Actor:   a.Name(),
		Kind:    blackboard.EventAgentSucceeded,
		Summary: out.SummaryOrDefault(),
	})
	if err != nil {
		ae := agent.NewAgentError(a, err)
		t.recordFailure(bb, a.Name(), ae)
		return ae
	}
	return nil
}

func (t *Team) recordFailure(bb *blackboard.Blackboard, actor string, err error) {
	bb.AppendHistory(blackboard.HistoryEntry{
		Actor:   actor,
		Kind:    blackboard.EventAgentFailed,
		Summary: "agent execution failed",
		Error:   err.Error(),
	})
}

func scopeSet(clauseIDs, scope []string) map[string]struct{} {
	known := make(map[string]struct{}, len(clauseIDs))
	for _, id := range clauseIDs {
		known[id] = struct{}{}
	}
	if scope == nil {
		return known
	}
	out := make(map[string]struct{}, len(scope))
	for _, id := range scope {
		if _, ok := known[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// validatePartition 分片必须互不相交、恰好覆盖范围，且数量不超过 worker 数
func validatePartition(items []agent.WorkItem, scope map[string]struct{}, workers int) error {
	if len(items) > workers {
		return fmt.Errorf("%w: %d work items for %d workers", ErrInvalidPartition, len(items), workers)
	}
	seen := make(map[string]string, len(scope))
	for _, item := range items {
		if len(item.ClauseIDs) == 0 {
			return fmt.Errorf("%w: work item %s is empty", ErrInvalidPartition, item.ID)
		}
		for _, id := range item.ClauseIDs {
			if _, ok := scope[id]; !ok {
				return fmt.Errorf("%w: clause %s is outside the scope", ErrInvalidPartition, id)
			}
			if other, dup := seen[id]; dup {
				return fmt.Errorf("%w: clause %s assigned to %s and %s", ErrInvalidPartition, id, other, item.ID)
			}
			seen[id] = item.ID
		}
	}
	if len(seen) != len(scope) {
		return fmt.Errorf("%w: %d of %d clauses assigned", ErrInvalidPartition, len(seen), len(scope))
	}
	return nil
}

// checkItemWrites worker 只能写自己分片内的条款
func checkItemWrites(item agent.WorkItem, d *blackboard.Delta) error {
	if d == nil {
		return nil
	}
	if d.Clauses != nil {
		return fmt.Errorf("worker may not replace clauses")
	}
	for _, id := range d.ClauseRefs() {
		if !item.Contains(id) {
			return fmt.Errorf("write to clause %s outside work item %s", id, item.ID)
		}
	}
	return nil
}

func firstID(item agent.WorkItem) string {
	if len(item.ClauseIDs) == 0 {
		return ""
	}
	ids := append([]string(nil), item.ClauseIDs...)
	blackboard.SortClauseIDs(ids)
	return ids[0]
}
