package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// 修订变体
const (
	VariantConservative = "conservative"
	VariantModerate     = "moderate"
)

// RedlineGeneratorAgent 为范围内的高/中风险条款生成修订建议
type RedlineGeneratorAgent struct {
	name string
}

// NewRedlineGeneratorAgent 创建修订建议 Agent
func NewRedlineGeneratorAgent(name string) *RedlineGeneratorAgent {
	if name == "" {
		name = "redline_generator"
	}
	return &RedlineGeneratorAgent{name: name}
}

func (a *RedlineGeneratorAgent) Name() string { return a.name }
func (a *RedlineGeneratorAgent) Capability() Capability { return CapabilityRedline }
func (a *RedlineGeneratorAgent) Stages() []Stage { return []Stage{StageRedline} }

func (a *RedlineGeneratorAgent) Reads() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldClauses, blackboard.FieldAssessments}
}

func (a *RedlineGeneratorAgent) Writes() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldProposals}
}

// Execute 生成修订建议；LOW 风险与范围外的条款不生成
func (a *RedlineGeneratorAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	assessments := in.Assessments()
	proposals := make(map[string]blackboard.Proposal)
	for _, c := range in.ScopedClauses() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		as, ok := assessments[c.ID]
		if !ok || as.RiskLevel == blackboard.RiskLow {
			continue
		}
		proposals[c.ID] = Redline(c, as, in.Policy)
	}
	return &Output{
		Delta:   &blackboard.Delta{Proposals: proposals},
		Summary: fmt.Sprintf("proposed %d redlines", len(proposals)),
	}, nil
}

// Redline 根据评估结果与策略规则生成单个条款的修订
func Redline(c blackboard.Clause, as blackboard.Assessment, policy Policy) blackboard.Proposal {
	lower := strings.ToLower(c.Text)
	p := blackboard.Proposal{
		ClauseID:     c.ID,
		OriginalText: c.Text,
	}

	switch as.RiskLevel {
	case blackboard.RiskHigh:
		p.Variant = VariantConservative
	default:
		p.Variant = VariantModerate
	}

	if limit, ok := policy.String("liability_cap"); ok && strings.Contains(lower, "liab") {
		p.ProposedText = fmt.Sprintf(
			"Each party's aggregate liability arising out of or relating to this agreement shall not exceed %s. "+
				"Neither party shall be liable for any indirect, incidental, consequential, or punitive damages.", limit)
		p.Rationale = fmt.Sprintf("Align liability with playbook cap of %s and exclude indirect damages.", limit)
		return p
	}

	if p.Variant == VariantConservative {
		p.ProposedText = strings.TrimSpace(c.Text) +
			" This obligation is limited to direct damages and excludes indirect, consequential, and punitive losses."
		p.Rationale = "Limit exposure on a high-risk clause."
	} else {
		p.ProposedText = strings.TrimSpace(c.Text) +
			" The foregoing applies only to the extent consistent with applicable law and the parties' written agreement."
		p.Rationale = "Narrow a medium-risk clause."
	}
	if len(as.PolicyRefs) > 0 {
		p.Rationale += " Playbook rules: " + strings.Join(as.PolicyRefs, ", ") + "."
	}
	return p
}
