package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// WorkerAgent MANAGER_WORKER 模式中的 worker。
// 它包装若干按阶段划分的委托 Agent，只在自己的分片上运行当前阶段的委托。
type WorkerAgent struct {
	name      string
	delegates []Agent
}

// NewWorkerAgent 创建 worker
func NewWorkerAgent(name string, delegates ...Agent) *WorkerAgent {
	if name == "" {
		name = "worker"
	}
	return &WorkerAgent{name: name, delegates: delegates}
}

// NewDefaultWorker 创建包含风险评估与修订生成的 worker
func NewDefaultWorker(name string) *WorkerAgent {
	return NewWorkerAgent(name,
		NewRiskAnalyzerAgent(name+".risk_analyzer"),
		NewRedlineGeneratorAgent(name+".redline_generator"),
	)
}

func (a *WorkerAgent) Name() string { return a.name }
func (a *WorkerAgent) Capability() Capability { return CapabilityWork }

func (a *WorkerAgent) Stages() []Stage {
	var stages []Stage
	for _, d := range a.delegates {
		for _, s := range d.Stages() {
			if !hasStage(stages, s) {
				stages = append(stages, s)
			}
		}
	}
	return stages
}

func (a *WorkerAgent) Reads() []blackboard.Field {
	return a.unionFields(func(d Agent) []blackboard.Field { return d.Reads() })
}

func (a *WorkerAgent) Writes() []blackboard.Field {
	return a.unionFields(func(d Agent) []blackboard.Field { return d.Writes() })
}

// Delegates 返回委托 Agent
func (a *WorkerAgent) Delegates() []Agent {
	return append([]Agent(nil), a.delegates...)
}

// Execute 依次运行当前阶段的委托，合并各自的增量
func (a *WorkerAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	if in.Item == nil {
		return nil, fmt.Errorf("worker %s invoked without a work item", a.name)
	}

	merged := &blackboard.Delta{}
	var summaries []string
	for _, d := range a.delegates {
		if !ParticipatesIn(d, in.Stage) {
			continue
		}
		out, err := Invoke(ctx, d, in)
		if err != nil {
			return nil, err
		}
		if err := merged.MergeInto(out.Delta); err != nil {
			return nil, fmt.Errorf("merge %s output: %w", d.Name(), err)
		}
		summaries = append(summaries, out.SummaryOrDefault())
	}

	return &Output{
		Delta:   merged,
		Summary: fmt.Sprintf("%s [%s]", in.Item.ID, strings.Join(summaries, "; ")),
	}, nil
}

func (a *WorkerAgent) unionFields(get func(Agent) []blackboard.Field) []blackboard.Field {
	seen := make(map[blackboard.Field]bool)
	var out []blackboard.Field
	for _, d := range a.delegates {
		for _, f := range get(d) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
