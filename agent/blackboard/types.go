package blackboard

import (
	"strconv"
	"strings"
	"time"
)

// Field 黑板字段名
type Field string

const (
	FieldDocumentText Field = "document_text"
	FieldClauses      Field = "clauses"
	FieldAssessments  Field = "assessments"
	FieldProposals    Field = "proposals"
	FieldScore        Field = "score"
	FieldStatus       Field = "status"
	FieldRiskReview   Field = "risk_review"
	FieldFinalReview  Field = "final_review"
	FieldHistory      Field = "history"
)

// AllFields 返回全部可读字段
func AllFields() []Field {
	return []Field{
		FieldDocumentText, FieldClauses, FieldAssessments, FieldProposals,
		FieldScore, FieldStatus, FieldRiskReview, FieldFinalReview, FieldHistory,
	}
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Valid 检查风险等级是否合法
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	default:
		return false
	}
}

// Weight 返回风险权重，用于计算总分
func (l RiskLevel) Weight() int {
	switch l {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Clause 合同条款
type Clause struct {
	ID      string `json:"clause_id"`
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
	Index   int    `json:"index"`
}

// Assessment 单个条款的风险评估
type Assessment struct {
	ClauseID   string    `json:"clause_id"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Rationale  string    `json:"rationale"`
	PolicyRefs []string  `json:"policy_refs,omitempty"`
}

// Proposal 单个条款的修订建议
type Proposal struct {
	ClauseID     string `json:"clause_id"`
	OriginalText string `json:"original_text"`
	ProposedText string `json:"proposed_text"`
	Rationale    string `json:"rationale"`
	Variant      string `json:"variant"`
}

// RiskReview 风险审批关卡的人工决定
type RiskReview struct {
	Approved  []string          `json:"approved"`
	Rejected  []string          `json:"rejected"`
	Comments  map[string]string `json:"comments,omitempty"`
	Reviewer  string            `json:"reviewer,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
}

// IsApproved 判断条款是否获批进入修订生成
func (r *RiskReview) IsApproved(clauseID string) bool {
	if r == nil {
		return false
	}
	for _, id := range r.Approved {
		if id == clauseID {
			return true
		}
	}
	return false
}

// FinalReview 最终审批关卡的人工决定
type FinalReview struct {
	ApprovedProposals []string  `json:"approved_proposals"`
	RejectedProposals []string  `json:"rejected_proposals"`
	Notes             string    `json:"notes,omitempty"`
	Reviewer          string    `json:"reviewer,omitempty"`
	DecidedAt         time.Time `json:"decided_at"`
}

// EventKind 历史事件类型
type EventKind string

const (
	EventRunCreated     EventKind = "run_created"
	EventAgentSucceeded EventKind = "agent_succeeded"
	EventAgentFailed    EventKind = "agent_failed"
	EventStatusChanged  EventKind = "status_changed"
	EventGateOpened     EventKind = "gate_opened"
	EventGateDecided    EventKind = "gate_decided"
	EventScoreUpdated   EventKind = "score_updated"
)

// HistoryEntry 只追加的历史记录条目
type HistoryEntry struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Kind      EventKind `json:"kind"`
	Summary   string    `json:"summary"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Metadata 运行创建时固定的元数据
type Metadata struct {
	RunID      string    `json:"run_id"`
	DocID      string    `json:"doc_id"`
	Team       string    `json:"team"`
	PlaybookID string    `json:"playbook_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CompareClauseIDs 按自然顺序比较条款 ID（clause_2 < clause_10）
func CompareClauseIDs(a, b string) int {
	pa, na, okA := splitNumericSuffix(a)
	pb, nb, okB := splitNumericSuffix(b)
	if okA && okB && pa == pb {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func splitNumericSuffix(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}
