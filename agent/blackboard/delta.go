package blackboard

import (
	"fmt"
	"sort"
	"strings"
)

// Delta 描述一次写入。
// 非 nil 的 Clauses / Score / Status / RiskReview / FinalReview 整体替换，
// Assessments 与 Proposals 按 clause_id 合并。
type Delta struct {
	Clauses     []Clause              `json:"clauses,omitempty"`
	Assessments map[string]Assessment `json:"assessments,omitempty"`
	Proposals   map[string]Proposal   `json:"proposals,omitempty"`
	Score       *int                  `json:"score,omitempty"`
	Status      *string               `json:"status,omitempty"`
	RiskReview  *RiskReview           `json:"risk_review,omitempty"`
	FinalReview *FinalReview          `json:"final_review,omitempty"`
}

// Fields 返回本次增量触及的字段
func (d *Delta) Fields() []Field {
	if d == nil {
		return nil
	}
	var fields []Field
	if d.Clauses != nil {
		fields = append(fields, FieldClauses)
	}
	if len(d.Assessments) > 0 {
		fields = append(fields, FieldAssessments)
	}
	if len(d.Proposals) > 0 {
		fields = append(fields, FieldProposals)
	}
	if d.Score != nil {
		fields = append(fields, FieldScore)
	}
	if d.Status != nil {
		fields = append(fields, FieldStatus)
	}
	if d.RiskReview != nil {
		fields = append(fields, FieldRiskReview)
	}
	if d.FinalReview != nil {
		fields = append(fields, FieldFinalReview)
	}
	return fields
}

// IsEmpty 判断增量是否为空
func (d *Delta) IsEmpty() bool {
	return len(d.Fields()) == 0
}

// ClauseRefs 返回增量中通过 assessments / proposals 引用的条款 ID（自然序）
func (d *Delta) ClauseRefs() []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for id := range d.Assessments {
		seen[id] = struct{}{}
	}
	for id := range d.Proposals {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	SortClauseIDs(ids)
	return ids
}

// Summary 返回增量的简短描述，写入历史记录
func (d *Delta) Summary() string {
	if d.IsEmpty() {
		return "no changes"
	}
	parts := make([]string, 0, 4)
	if d.Clauses != nil {
		parts = append(parts, fmt.Sprintf("clauses=%d", len(d.Clauses)))
	}
	if len(d.Assessments) > 0 {
		parts = append(parts, fmt.Sprintf("assessments=%d", len(d.Assessments)))
	}
	if len(d.Proposals) > 0 {
		parts = append(parts, fmt.Sprintf("proposals=%d", len(d.Proposals)))
	}
	if d.Score != nil {
		parts = append(parts, fmt.Sprintf("score=%d", *d.Score))
	}
	if d.Status != nil {
		parts = append(parts, "status="+*d.Status)
	}
	if d.RiskReview != nil {
		parts = append(parts, fmt.Sprintf("risk_review=%d/%d", len(d.RiskReview.Approved), len(d.RiskReview.Rejected)))
	}
	if d.FinalReview != nil {
		parts = append(parts, fmt.Sprintf("final_review=%d/%d", len(d.FinalReview.ApprovedProposals), len(d.FinalReview.RejectedProposals)))
	}
	return strings.Join(parts, " ")
}

// MergeInto 将 other 合并进 d；同一 clause_id 重复写入视为冲突。
func (d *Delta) MergeInto(other *Delta) error {
	if other == nil {
		return nil
	}
	for id, a := range other.Assessments {
		if _, dup := d.Assessments[id]; dup {
			return fmt.Errorf("assessment for %s written twice", id)
		}
		if d.Assessments == nil {
			d.Assessments = make(map[string]Assessment)
		}
		d.Assessments[id] = a
	}
	for id, p := range other.Proposals {
		if _, dup := d.Proposals[id]; dup {
			return fmt.Errorf("proposal for %s written twice", id)
		}
		if d.Proposals == nil {
			d.Proposals = make(map[string]Proposal)
		}
		d.Proposals[id] = p
	}
	if other.Clauses != nil {
		if d.Clauses != nil {
			return fmt.Errorf("clauses written twice")
		}
		d.Clauses = append([]Clause(nil), other.Clauses...)
	}
	if other.Score != nil {
		d.Score = other.Score
	}
	if other.Status != nil {
		d.Status = other.Status
	}
	if other.RiskReview != nil {
		d.RiskReview = other.RiskReview
	}
	if other.FinalReview != nil {
		d.FinalReview = other.FinalReview
	}
	return nil
}

// SortClauseIDs 就地按自然序排序条款 ID
func SortClauseIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return CompareClauseIDs(ids[i], ids[j]) < 0
	})
}

// StatusDelta 构造只修改 status 的增量
func StatusDelta(status string) *Delta {
	return &Delta{Status: &status}
}

// ScoreDelta 构造只修改 score 的增量
func ScoreDelta(score int) *Delta {
	return &Delta{Score: &score}
}
