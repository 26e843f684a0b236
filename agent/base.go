package agent

import (
	"context"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// Capability 定义 Agent 能力类型
type Capability string

// 预定义的 Agent 能力
const (
	CapabilityParse        Capability = "parse"         // 条款切分
	CapabilityRiskAnalysis Capability = "risk_analysis" // 风险评估
	CapabilityRedline      Capability = "redline"       // 修订建议
	CapabilityManage       Capability = "manage"        // 任务拆分
	CapabilityWork         Capability = "work"          // 分片执行
)

// Stage 执行阶段。risk 在风险审批关卡之前，redline 在其之后。
type Stage string

const (
	StageRisk    Stage = "risk"
	StageRedline Stage = "redline"
)

// Order 返回阶段顺序，用于校验团队内 Agent 的阶段单调性
func (s Stage) Order() int {
	switch s {
	case StageRisk:
		return 1
	case StageRedline:
		return 2
	default:
		return 0
	}
}

// Agent 定义核心行为接口。
// Agent 无状态，只通过 Input 读取黑板、通过 Output 返回增量。
type Agent interface {
	// 身份标识
	Name() string
	Capability() Capability

	// 参与的阶段
	Stages() []Stage

	// 读写声明
	Reads() []blackboard.Field
	Writes() []blackboard.Field

	// 核心执行
	Execute(ctx context.Context, in *Input) (*Output, error)
}

// WorkItem Manager 拆分出的一个工作分片
type WorkItem struct {
	ID        string   `json:"id"`
	ClauseIDs []string `json:"clause_ids"`
}

// Contains 判断条款是否属于该分片
func (w *WorkItem) Contains(clauseID string) bool {
	if w == nil {
		return false
	}
	for _, id := range w.ClauseIDs {
		if id == clauseID {
			return true
		}
	}
	return false
}

// Packet PIPELINE 模式下在相邻 Agent 之间显式传递的数据包
type Packet struct {
	DocumentText string                           `json:"document_text,omitempty"`
	Clauses      []blackboard.Clause              `json:"clauses,omitempty"`
	Assessments  map[string]blackboard.Assessment `json:"assessments,omitempty"`
	Proposals    map[string]blackboard.Proposal   `json:"proposals,omitempty"`

	present map[blackboard.Field]bool
}

// NewPacket 从黑板快照派生数据包
func NewPacket(s blackboard.Snapshot) *Packet {
	p := &Packet{
		DocumentText: s.DocumentText,
		Assessments:  make(map[string]blackboard.Assessment),
		Proposals:    make(map[string]blackboard.Proposal),
		present:      map[blackboard.Field]bool{blackboard.FieldDocumentText: true},
	}
	if s.Clauses != nil {
		p.Clauses = append([]blackboard.Clause{}, s.Clauses...)
		p.present[blackboard.FieldClauses] = true
	}
	if s.Assessments != nil {
		for k, v := range s.Assessments {
			p.Assessments[k] = v
		}
		p.present[blackboard.FieldAssessments] = true
	}
	if s.Proposals != nil {
		for k, v := range s.Proposals {
			p.Proposals[k] = v
		}
		p.present[blackboard.FieldProposals] = true
	}
	return p
}

// Has 判断数据包是否携带某字段
func (p *Packet) Has(f blackboard.Field) bool {
	return p != nil && p.present[f]
}

// Next 将上一个 Agent 的输出叠加到数据包上，返回下一阶段的数据包
func (p *Packet) Next(d *blackboard.Delta) *Packet {
	next := &Packet{
		DocumentText: p.DocumentText,
		Clauses:      p.Clauses,
		Assessments:  make(map[string]blackboard.Assessment, len(p.Assessments)),
		Proposals:    make(map[string]blackboard.Proposal, len(p.Proposals)),
		present:      make(map[blackboard.Field]bool, len(p.present)),
	}
	for k, v := range p.present {
		next.present[k] = v
	}
	for k, v := range p.Assessments {
		next.Assessments[k] = v
	}
	for k, v := range p.Proposals {
		next.Proposals[k] = v
	}
	if d == nil {
		return next
	}
	if d.Clauses != nil {
		next.Clauses = append([]blackboard.Clause{}, d.Clauses...)
		next.present[blackboard.FieldClauses] = true
	}
	for k, v := range d.Assessments {
		v.ClauseID = k
		next.Assessments[k] = v
		next.present[blackboard.FieldAssessments] = true
	}
	for k, v := range d.Proposals {
		v.ClauseID = k
		next.Proposals[k] = v
		next.present[blackboard.FieldProposals] = true
	}
	return next
}

// Input Agent 输入
type Input struct {
	RunID    string              `json:"run_id"`
	Stage    Stage               `json:"stage"`
	Snapshot blackboard.Snapshot `json:"snapshot"`
	Packet   *Packet             `json:"packet,omitempty"`  // 仅 PIPELINE 模式
	Scope    []string            `json:"scope,omitempty"`   // nil 表示全部条款
	Item     *WorkItem           `json:"item,omitempty"`    // 仅 MANAGER_WORKER 的 worker
	Policy   Policy              `json:"policy,omitempty"`  // 生效的策略规则
	Workers  int                 `json:"workers,omitempty"` // 可用 worker 数
}

// DocumentText 返回文档原文，优先取数据包
func (in *Input) DocumentText() string {
	if in.Packet != nil {
		return in.Packet.DocumentText
	}
	return in.Snapshot.DocumentText
}

// Clauses 返回条款列表，优先取数据包
func (in *Input) Clauses() []blackboard.Clause {
	if in.Packet != nil {
		return in.Packet.Clauses
	}
	return in.Snapshot.Clauses
}

// Assessments 返回风险评估，优先取数据包
func (in *Input) Assessments() map[string]blackboard.Assessment {
	if in.Packet != nil {
		return in.Packet.Assessments
	}
	return in.Snapshot.Assessments
}

// Proposals 返回修订建议，优先取数据包
func (in *Input) Proposals() map[string]blackboard.Proposal {
	if in.Packet != nil {
		return in.Packet.Proposals
	}
	return in.Snapshot.Proposals
}

// InScope 判断条款是否在本次执行范围内。
// worker 只处理自己的分片；其他 Agent 受 Scope 约束。
func (in *Input) InScope(clauseID string) bool {
	if in.Item != nil {
		return in.Item.Contains(clauseID)
	}
	if in.Scope == nil {
		return true
	}
	for _, id := range in.Scope {
		if id == clauseID {
			return true
		}
	}
	return false
}

// ScopedClauses 返回范围内的条款（文档顺序）
func (in *Input) ScopedClauses() []blackboard.Clause {
	all := in.Clauses()
	out := make([]blackboard.Clause, 0, len(all))
	for _, c := range all {
		if in.InScope(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// Output Agent 输出
type Output struct {
	Delta     *blackboard.Delta `json:"delta,omitempty"`
	WorkItems []WorkItem        `json:"work_items,omitempty"` // 仅 manager
	Summary   string            `json:"summary,omitempty"`
}

// SummaryOrDefault 返回摘要，缺省时使用增量描述
func (o *Output) SummaryOrDefault() string {
	if o == nil {
		return "no output"
	}
	if o.Summary != "" {
		return o.Summary
	}
	return o.Delta.Summary()
}

func hasStage(stages []Stage, s Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

// ParticipatesIn 判断 Agent 是否参与指定阶段
func ParticipatesIn(a Agent, s Stage) bool {
	return hasStage(a.Stages(), s)
}
