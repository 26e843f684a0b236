package blackboard

import (
	"sync"
	"time"

	"github.com/BaSui01/contractflow/types"
)

// Snapshot 黑板在某一时刻的只读副本
type Snapshot struct {
	Metadata
	DocumentText string                `json:"document_text"`
	Clauses      []Clause              `json:"clauses"`
	Assessments  map[string]Assessment `json:"assessments"`
	Proposals    map[string]Proposal   `json:"proposals"`
	Score        int                   `json:"score"`
	Status       string                `json:"status"`
	RiskReview   *RiskReview           `json:"risk_review,omitempty"`
	FinalReview  *FinalReview          `json:"final_review,omitempty"`
	History      []HistoryEntry        `json:"history"`
}

// Clause 按 ID 查找条款
func (s Snapshot) Clause(id string) (Clause, bool) {
	for _, c := range s.Clauses {
		if c.ID == id {
			return c, true
		}
	}
	return Clause{}, false
}

// ClauseIDs 返回条款 ID（文档顺序）
func (s Snapshot) ClauseIDs() []string {
	ids := make([]string, 0, len(s.Clauses))
	for _, c := range s.Clauses {
		ids = append(ids, c.ID)
	}
	return ids
}

// AssessmentList 按条款顺序返回评估
func (s Snapshot) AssessmentList() []Assessment {
	out := make([]Assessment, 0, len(s.Assessments))
	for _, c := range s.Clauses {
		if a, ok := s.Assessments[c.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ProposalList 按条款顺序返回修订建议
func (s Snapshot) ProposalList() []Proposal {
	out := make([]Proposal, 0, len(s.Proposals))
	for _, c := range s.Clauses {
		if p, ok := s.Proposals[c.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Blackboard 单次运行共享的工作区。
// 写入对同一运行内的并发读者原子可见；history 只追加。
type Blackboard struct {
	mu sync.RWMutex

	meta         Metadata
	documentText string
	clauses      []Clause
	assessments  map[string]Assessment
	proposals    map[string]Proposal
	score        int
	status       string
	riskReview   *RiskReview
	finalReview  *FinalReview
	history      []HistoryEntry
	seq          int64

	now func() time.Time
}

// New 创建黑板并写入文档原文
func New(meta Metadata, documentText string) *Blackboard {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	return &Blackboard{
		meta:         meta,
		documentText: documentText,
		assessments:  make(map[string]Assessment),
		proposals:    make(map[string]Proposal),
		history:      make([]HistoryEntry, 0, 16),
		now:          time.Now,
	}
}

// Restore 从快照重建黑板（用于持久化存储回读）
func Restore(s Snapshot) *Blackboard {
	b := New(s.Metadata, s.DocumentText)
	b.clauses = cloneClauses(s.Clauses)
	for k, v := range s.Assessments {
		b.assessments[k] = cloneAssessment(v)
	}
	for k, v := range s.Proposals {
		b.proposals[k] = v
	}
	b.score = s.Score
	b.status = s.Status
	b.riskReview = cloneRiskReview(s.RiskReview)
	b.finalReview = cloneFinalReview(s.FinalReview)
	b.history = append(b.history, s.History...)
	if n := len(s.History); n > 0 {
		b.seq = s.History[n-1].Seq
	}
	return b
}

// RunID 返回所属运行 ID
func (b *Blackboard) RunID() string {
	return b.meta.RunID
}

// Read 返回指定字段的快照；未指定字段时返回全部字段。元数据总是包含在内。
func (b *Blackboard) Read(fields ...Field) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked(fields)
}

// Write 校验并原子应用增量，返回写入后的完整快照。
// 任何一处校验失败则整个增量都不生效。
func (b *Blackboard) Write(d *Delta) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.validateLocked(d); err != nil {
		return Snapshot{}, err
	}
	b.applyLocked(d)
	return b.snapshotLocked(nil), nil
}

// Commit 在同一把锁内应用增量并追加历史条目
func (b *Blackboard) Commit(d *Delta, entry HistoryEntry) (HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.validateLocked(d); err != nil {
		return HistoryEntry{}, err
	}
	b.applyLocked(d)
	return b.appendLocked(entry), nil
}

// Validate 仅做校验，不修改黑板
func (b *Blackboard) Validate(d *Delta) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.validateLocked(d)
}

// AppendHistory 追加一条历史记录，由黑板分配序号与时间戳
func (b *Blackboard) AppendHistory(entry HistoryEntry) HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(entry)
}

// History 返回历史记录副本
func (b *Blackboard) History() []HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]HistoryEntry(nil), b.history...)
}

// HistoryLen 返回历史记录长度
func (b *Blackboard) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

func (b *Blackboard) appendLocked(entry HistoryEntry) HistoryEntry {
	b.seq++
	entry.Seq = b.seq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = b.now()
	}
	b.history = append(b.history, entry)
	return entry
}

func (b *Blackboard) validateLocked(d *Delta) error {
	if d == nil {
		return nil
	}

	known := make(map[string]struct{}, len(b.clauses))
	if d.Clauses != nil {
		for i, c := range d.Clauses {
			if c.ID == "" {
				return types.NewValidationError("clause at index %d has empty clause_id", i)
			}
			if _, dup := known[c.ID]; dup {
				return types.NewValidationError("duplicate clause_id %s", c.ID)
			}
			known[c.ID] = struct{}{}
		}
		for id := range b.assessments {
			if _, ok := known[id]; !ok {
				return types.NewValidationError("clause replacement drops assessed clause %s", id)
			}
		}
		for id := range b.proposals {
			if _, ok := known[id]; !ok {
				return types.NewValidationError("clause replacement drops proposed clause %s", id)
			}
		}
	} else {
		for _, c := range b.clauses {
			known[c.ID] = struct{}{}
		}
	}

	for id, a := range d.Assessments {
		if _, ok := known[id]; !ok {
			return types.NewValidationError("assessment references nonexistent clause %s", id)
		}
		if a.ClauseID != "" && a.ClauseID != id {
			return types.NewValidationError("assessment keyed %s carries clause_id %s", id, a.ClauseID)
		}
		if !a.RiskLevel.Valid() {
			return types.NewValidationError("assessment for %s has invalid risk level %q", id, a.RiskLevel)
		}
	}

	for id, p := range d.Proposals {
		if _, ok := known[id]; !ok {
			return types.NewValidationError("proposal references nonexistent clause %s", id)
		}
		if p.ClauseID != "" && p.ClauseID != id {
			return types.NewValidationError("proposal keyed %s carries clause_id %s", id, p.ClauseID)
		}
	}

	if d.Score != nil && (*d.Score < 0 || *d.Score > 100) {
		return types.NewValidationError("score %d out of range [0,100]", *d.Score)
	}

	if r := d.RiskReview; r != nil {
		if err := validateDecisionSets(r.Approved, r.Rejected, func(id string) bool {
			_, ok := known[id]
			return ok
		}, "clause"); err != nil {
			return err
		}
		for id := range r.Comments {
			if _, ok := known[id]; !ok {
				return types.NewValidationError("comment references nonexistent clause %s", id)
			}
		}
	}

	if r := d.FinalReview; r != nil {
		hasProposal := func(id string) bool {
			if _, ok := b.proposals[id]; ok {
				return true
			}
			_, ok := d.Proposals[id]
			return ok
		}
		if err := validateDecisionSets(r.ApprovedProposals, r.RejectedProposals, hasProposal, "proposal"); err != nil {
			return err
		}
	}

	return nil
}

func validateDecisionSets(approved, rejected []string, exists func(string) bool, kind string) error {
	seen := make(map[string]bool, len(approved)+len(rejected))
	for _, id := range approved {
		if !exists(id) {
			return types.NewValidationError("approved %s %s does not exist", kind, id)
		}
		if seen[id] {
			return types.NewValidationError("%s %s listed twice", kind, id)
		}
		seen[id] = true
	}
	for _, id := range rejected {
		if !exists(id) {
			return types.NewValidationError("rejected %s %s does not exist", kind, id)
		}
		if seen[id] {
			return types.NewValidationError("%s %s is both approved and rejected", kind, id)
		}
		seen[id] = true
	}
	return nil
}

func (b *Blackboard) applyLocked(d *Delta) {
	if d == nil {
		return
	}
	if d.Clauses != nil {
		b.clauses = cloneClauses(d.Clauses)
	}
	for id, a := range d.Assessments {
		a.ClauseID = id
		b.assessments[id] = cloneAssessment(a)
	}
	for id, p := range d.Proposals {
		p.ClauseID = id
		b.proposals[id] = p
	}
	if d.Score != nil {
		b.score = *d.Score
	}
	if d.Status != nil {
		b.status = *d.Status
	}
	if d.RiskReview != nil {
		b.riskReview = cloneRiskReview(d.RiskReview)
	}
	if d.FinalReview != nil {
		b.finalReview = cloneFinalReview(d.FinalReview)
	}
}

func (b *Blackboard) snapshotLocked(fields []Field) Snapshot {
	if len(fields) == 0 {
		fields = AllFields()
	}
	set := make(map[Field]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	want := func(f Field) bool {
		_, ok := set[f]
		return ok
	}

	s := Snapshot{Metadata: b.meta}
	if want(FieldDocumentText) {
		s.DocumentText = b.documentText
	}
	if want(FieldClauses) {
		s.Clauses = cloneClauses(b.clauses)
	}
	if want(FieldAssessments) {
		s.Assessments = make(map[string]Assessment, len(b.assessments))
		for k, v := range b.assessments {
			s.Assessments[k] = cloneAssessment(v)
		}
	}
	if want(FieldProposals) {
		s.Proposals = make(map[string]Proposal, len(b.proposals))
		for k, v := range b.proposals {
			s.Proposals[k] = v
		}
	}
	if want(FieldScore) {
		s.Score = b.score
	}
	if want(FieldStatus) {
		s.Status = b.status
	}
	if want(FieldRiskReview) {
		s.RiskReview = cloneRiskReview(b.riskReview)
	}
	if want(FieldFinalReview) {
		s.FinalReview = cloneFinalReview(b.finalReview)
	}
	if want(FieldHistory) {
		s.History = append([]HistoryEntry(nil), b.history...)
	}
	return s
}

func cloneClauses(in []Clause) []Clause {
	if in == nil {
		return nil
	}
	out := make([]Clause, len(in))
	copy(out, in)
	return out
}

func cloneAssessment(a Assessment) Assessment {
	if a.PolicyRefs != nil {
		a.PolicyRefs = append([]string(nil), a.PolicyRefs...)
	}
	return a
}

func cloneRiskReview(r *RiskReview) *RiskReview {
	if r == nil {
		return nil
	}
	c := *r
	c.Approved = append([]string(nil), r.Approved...)
	c.Rejected = append([]string(nil), r.Rejected...)
	if r.Comments != nil {
		c.Comments = make(map[string]string, len(r.Comments))
		for k, v := range r.Comments {
			c.Comments[k] = v
		}
	}
	return &c
}

func cloneFinalReview(r *FinalReview) *FinalReview {
	if r == nil {
		return nil
	}
	c := *r
	c.ApprovedProposals = append([]string(nil), r.ApprovedProposals...)
	c.RejectedProposals = append([]string(nil), r.RejectedProposals...)
	return &c
}
