package run

import (
	"time"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/types"
)

// State 运行的生命周期状态
type State string

const (
	StateCreated               State = "CREATED"
	StateRunning               State = "RUNNING"
	StateAwaitingRiskApproval  State = "AWAITING_RISK_APPROVAL"
	StateRunningRedline        State = "RUNNING_REDLINE"
	StateAwaitingFinalApproval State = "AWAITING_FINAL_APPROVAL"
	StateCompleted             State = "COMPLETED"
	StateFailed                State = "FAILED"
	StateRejected              State = "REJECTED"
)

// 合法状态转换表
var transitions = map[State][]State{
	StateCreated:               {StateRunning, StateFailed},
	StateRunning:               {StateAwaitingRiskApproval, StateFailed},
	StateAwaitingRiskApproval:  {StateRunningRedline, StateRejected},
	StateRunningRedline:        {StateAwaitingFinalApproval, StateFailed},
	StateAwaitingFinalApproval: {StateCompleted, StateRejected},
}

// AllStates 返回全部状态
func AllStates() []State {
	return []State{
		StateCreated, StateRunning, StateAwaitingRiskApproval, StateRunningRedline,
		StateAwaitingFinalApproval, StateCompleted, StateFailed, StateRejected,
	}
}

// IsTerminal 是否终态
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateRejected
}

// IsAwaiting 是否停在审批关卡
func (s State) IsAwaiting() bool {
	return s == StateAwaitingRiskApproval || s == StateAwaitingFinalApproval
}

// IsRunning 是否正在执行 Agent
func (s State) IsRunning() bool {
	return s == StateRunning || s == StateRunningRedline
}

// IsSettled 是否已停止推进（停在关卡或终态）
func (s State) IsSettled() bool {
	return s.IsAwaiting() || s.IsTerminal()
}

// CanTransition 判断状态转换是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run 一次文档处理运行
type Run struct {
	ID           string       `json:"run_id"`
	DocID        string       `json:"doc_id"`
	TeamName     string       `json:"team"`
	PlaybookID   string       `json:"playbook_id,omitempty"`
	PolicyRules  agent.Policy `json:"policy_rules"`
	State        State        `json:"status"`
	Error        string       `json:"error,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	RejectReason string       `json:"reject_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// New 创建处于 CREATED 状态的运行
func New(id, docID, teamName, playbookID string, policy agent.Policy, now time.Time) *Run {
	return &Run{
		ID:          id,
		DocID:       docID,
		TeamName:    teamName,
		PlaybookID:  playbookID,
		PolicyRules: policy.Clone(),
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition 执行状态转换；非法转换返回 INVALID_STATE 错误
func (r *Run) Transition(to State, now time.Time) error {
	if !CanTransition(r.State, to) {
		return types.NewInvalidStateError("run %s cannot move from %s to %s", r.ID, r.State, to)
	}
	r.State = to
	r.UpdatedAt = now
	if to.IsTerminal() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

// Clone 返回深拷贝
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.PolicyRules = r.PolicyRules.Clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
