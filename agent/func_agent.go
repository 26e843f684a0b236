package agent

import (
	"context"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// ExecuteFunc Agent 执行函数
type ExecuteFunc func(ctx context.Context, in *Input) (*Output, error)

// FuncAgent 用函数接入任意外部逻辑（如 LLM 后端）的 Agent
type FuncAgent struct {
	name       string
	capability Capability
	stages     []Stage
	reads      []blackboard.Field
	writes     []blackboard.Field
	fn         ExecuteFunc
}

// FuncAgentOption FuncAgent 选项
type FuncAgentOption func(*FuncAgent)

// WithStages 设置参与的阶段
func WithStages(stages ...Stage) FuncAgentOption {
	return func(a *FuncAgent) { a.stages = stages }
}

// WithReads 设置读取字段
func WithReads(fields ...blackboard.Field) FuncAgentOption {
	return func(a *FuncAgent) { a.reads = fields }
}

// WithWrites 设置写入字段
func WithWrites(fields ...blackboard.Field) FuncAgentOption {
	return func(a *FuncAgent) { a.writes = fields }
}

// NewFuncAgent 创建 FuncAgent。默认阶段与读写集合由能力推导。
func NewFuncAgent(name string, capability Capability, fn ExecuteFunc, opts ...FuncAgentOption) *FuncAgent {
	a := &FuncAgent{name: name, capability: capability, fn: fn}
	switch capability {
	case CapabilityParse:
		a.stages = []Stage{StageRisk}
		a.reads = []blackboard.Field{blackboard.FieldDocumentText}
		a.writes = []blackboard.Field{blackboard.FieldClauses}
	case CapabilityRiskAnalysis:
		a.stages = []Stage{StageRisk}
		a.reads = []blackboard.Field{blackboard.FieldClauses}
		a.writes = []blackboard.Field{blackboard.FieldAssessments}
	case CapabilityRedline:
		a.stages = []Stage{StageRedline}
		a.reads = []blackboard.Field{blackboard.FieldClauses, blackboard.FieldAssessments}
		a.writes = []blackboard.Field{blackboard.FieldProposals}
	default:
		a.stages = []Stage{StageRisk, StageRedline}
		a.reads = []blackboard.Field{blackboard.FieldClauses}
		a.writes = []blackboard.Field{blackboard.FieldAssessments, blackboard.FieldProposals}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FuncAgent) Name() string { return a.name }
func (a *FuncAgent) Capability() Capability { return a.capability }
func (a *FuncAgent) Stages() []Stage { return a.stages }
func (a *FuncAgent) Reads() []blackboard.Field { return a.reads }
func (a *FuncAgent) Writes() []blackboard.Field { return a.writes }

// Execute 调用执行函数
func (a *FuncAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	return a.fn(ctx, in)
}
