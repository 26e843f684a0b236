package agent

import (
	"context"
	"fmt"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// ManagerAgent MANAGER_WORKER 模式中的 manager。
// 必要时先调用 parser 切分条款，然后把范围内的条款拆成互不相交的分片。
type ManagerAgent struct {
	name   string
	parser Agent
}

// NewManagerAgent 创建 manager；parser 可为 nil
func NewManagerAgent(name string, parser Agent) *ManagerAgent {
	if name == "" {
		name = "manager"
	}
	return &ManagerAgent{name: name, parser: parser}
}

func (a *ManagerAgent) Name() string { return a.name }
func (a *ManagerAgent) Capability() Capability { return CapabilityManage }
func (a *ManagerAgent) Stages() []Stage { return []Stage{StageRisk, StageRedline} }

func (a *ManagerAgent) Reads() []blackboard.Field {
	if a.parser != nil {
		return []blackboard.Field{blackboard.FieldDocumentText}
	}
	return []blackboard.Field{blackboard.FieldClauses}
}

func (a *ManagerAgent) Writes() []blackboard.Field {
	if a.parser != nil {
		return a.parser.Writes()
	}
	return nil
}

// Execute 拆分工作分片
func (a *ManagerAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	out := &Output{}
	clauses := in.Clauses()

	if a.parser != nil && clauses == nil && ParticipatesIn(a.parser, in.Stage) {
		parsed, err := Invoke(ctx, a.parser, in)
		if err != nil {
			return nil, err
		}
		out.Delta = parsed.Delta
		if parsed.Delta != nil && parsed.Delta.Clauses != nil {
			clauses = parsed.Delta.Clauses
		}
	}

	ids := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if in.InScope(c.ID) {
			ids = append(ids, c.ID)
		}
	}
	out.WorkItems = Partition(ids, in.Workers)
	out.Summary = fmt.Sprintf("partitioned %d clauses into %d work items", len(ids), len(out.WorkItems))
	return out, nil
}

// Partition 将条款 ID 按自然序切分为至多 n 个连续、大小相近、互不相交的分片。
// 空输入返回 nil。
func Partition(ids []string, n int) []WorkItem {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]string(nil), ids...)
	blackboard.SortClauseIDs(sorted)

	if n <= 0 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}

	items := make([]WorkItem, 0, n)
	size, rem := len(sorted)/n, len(sorted)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		items = append(items, WorkItem{
			ID:        fmt.Sprintf("item_%d", i+1),
			ClauseIDs: sorted[start:end],
		})
		start = end
	}
	return items
}
