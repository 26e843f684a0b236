package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// RiskRule 关键词风险规则
type RiskRule struct {
	Keyword   string
	Level     blackboard.RiskLevel
	Rationale string
}

// DefaultRiskRules 默认关键词规则，按严重程度排列
var DefaultRiskRules = []RiskRule{
	{"unlimited liability", blackboard.RiskHigh, "Clause imposes unlimited liability."},
	{"any and all damages", blackboard.RiskHigh, "Clause exposes the party to any and all damages without a cap."},
	{"consequential", blackboard.RiskHigh, "Clause does not exclude consequential damages."},
	{"punitive", blackboard.RiskHigh, "Clause allows punitive damages."},
	{"perpetual", blackboard.RiskHigh, "Clause creates a perpetual obligation."},
	{"irrevocable", blackboard.RiskHigh, "Clause grants irrevocable rights."},
	{"indemnify", blackboard.RiskMedium, "Clause contains an indemnification obligation."},
	{"terminate without cause", blackboard.RiskMedium, "Counterparty may terminate without cause."},
	{"automatically renew", blackboard.RiskMedium, "Clause renews automatically."},
	{"exclusive", blackboard.RiskMedium, "Clause grants exclusivity."},
	{"liable", blackboard.RiskMedium, "Clause allocates liability."},
	{"non-compete", blackboard.RiskMedium, "Clause restricts competition."},
}

// RiskAnalyzerAgent 对范围内的条款做风险评估
type RiskAnalyzerAgent struct {
	name  string
	rules []RiskRule
}

// NewRiskAnalyzerAgent 创建风险评估 Agent；rules 为空时使用默认规则
func NewRiskAnalyzerAgent(name string, rules ...RiskRule) *RiskAnalyzerAgent {
	if name == "" {
		name = "risk_analyzer"
	}
	if len(rules) == 0 {
		rules = DefaultRiskRules
	}
	return &RiskAnalyzerAgent{name: name, rules: rules}
}

func (a *RiskAnalyzerAgent) Name() string { return a.name }
func (a *RiskAnalyzerAgent) Capability() Capability { return CapabilityRiskAnalysis }
func (a *RiskAnalyzerAgent) Stages() []Stage { return []Stage{StageRisk} }

func (a *RiskAnalyzerAgent) Reads() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldClauses}
}

func (a *RiskAnalyzerAgent) Writes() []blackboard.Field {
	return []blackboard.Field{blackboard.FieldAssessments}
}

// Execute 评估范围内每个条款
func (a *RiskAnalyzerAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	clauses := in.ScopedClauses()
	assessments := make(map[string]blackboard.Assessment, len(clauses))
	for _, c := range clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assessments[c.ID] = a.Assess(c, in.Policy)
	}
	counts := blackboard.CountByLevel(assessments)
	return &Output{
		Delta: &blackboard.Delta{Assessments: assessments},
		Summary: fmt.Sprintf("assessed %d clauses (high=%d medium=%d low=%d)",
			len(assessments), counts[blackboard.RiskHigh], counts[blackboard.RiskMedium], counts[blackboard.RiskLow]),
	}, nil
}

// Assess 评估单个条款
func (a *RiskAnalyzerAgent) Assess(c blackboard.Clause, policy Policy) blackboard.Assessment {
	text := strings.ToLower(c.Heading + "\n" + c.Text)

	level := blackboard.RiskLow
	var reasons []string
	for _, r := range a.rules {
		if !strings.Contains(text, r.Keyword) {
			continue
		}
		if r.Level.Weight() > level.Weight() {
			level = r.Level
		}
		reasons = append(reasons, r.Rationale)
	}

	refs := policy.MatchingRules(text)
	if len(refs) > 0 {
		if level == blackboard.RiskLow {
			level = blackboard.RiskMedium
		}
		for _, ref := range refs {
			if reason, ok := policyReason(ref, text, policy); ok {
				reasons = append(reasons, reason)
			}
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "No material risk indicators found.")
	}
	return blackboard.Assessment{
		ClauseID:   c.ID,
		RiskLevel:  level,
		Rationale:  strings.Join(reasons, " "),
		PolicyRefs: refs,
	}
}

// policyReason 描述规则命中原因；indemnity_exclusions 逐项检查免责情形是否写明
func policyReason(ref, text string, policy Policy) (string, bool) {
	values := policy.Strings(ref)
	if ref == "indemnity_exclusions" && len(values) > 0 {
		var missing []string
		for _, v := range values {
			if !strings.Contains(text, strings.ToLower(v)) {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			return fmt.Sprintf("Playbook rule %s: indemnity does not exclude %s.", ref, strings.Join(missing, ", ")), true
		}
		return fmt.Sprintf("Playbook rule %s applies (all exclusions present).", ref), true
	}
	if len(values) > 1 {
		return fmt.Sprintf("Playbook rule %s applies (%s).", ref, strings.Join(values, ", ")), true
	}
	if v, ok := policy.String(ref); ok {
		return fmt.Sprintf("Playbook rule %s applies (%s).", ref, v), true
	}
	return "", false
}
