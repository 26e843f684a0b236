package api

import (
	"time"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/run"
)

// =============================================================================
// 文档与策略手册
// =============================================================================

// UploadDocumentRequest JSON 方式上传文档
// @Description 文档上传请求（multipart 之外的 JSON 形式）
type UploadDocumentRequest struct {
	// 文件名
	Name string `json:"name" example:"nda.md" binding:"required"`
	// 文档全文
	Content string `json:"content" binding:"required"`
}

// DocumentResponse 文档上传结果 / 列表项
type DocumentResponse struct {
	DocID      string    `json:"doc_id" example:"doc_3f2a9c1e"`
	Name       string    `json:"name" example:"nda.md"`
	Size       int64     `json:"size" example:"2048"`
	UploadedAt time.Time `json:"uploaded_at"`
	Message    string    `json:"message,omitempty"`
}

// CreatePlaybookRequest 创建策略手册
type CreatePlaybookRequest struct {
	Name  string         `json:"name" example:"Standard NDA Policy" binding:"required"`
	Rules map[string]any `json:"rules"`
}

// PlaybookResponse 策略手册
type PlaybookResponse struct {
	PlaybookID string         `json:"playbook_id" example:"playbook_001"`
	Name       string         `json:"name"`
	Rules      map[string]any `json:"rules"`
	CreatedAt  time.Time      `json:"created_at"`
}

// =============================================================================
// 运行
// =============================================================================

// StartRunRequest 启动审阅运行
// @Description agent_path 与 team 二选一；都为空时使用 sequential
type StartRunRequest struct {
	DocID string `json:"doc_id" example:"doc_001" binding:"required"`
	// sequential | manager_worker | planner_executor
	AgentPath string `json:"agent_path,omitempty" example:"sequential"`
	// 直接指定已注册的团队名，优先于 agent_path
	Team       string `json:"team,omitempty"`
	PlaybookID string `json:"playbook_id,omitempty" example:"playbook_001"`
}

// StartRunResponse 启动结果
type StartRunResponse struct {
	RunID     string    `json:"run_id"`
	DocID     string    `json:"doc_id"`
	AgentPath string    `json:"agent_path,omitempty"`
	Team      string    `json:"team"`
	Status    run.State `json:"status"`
}

// RunDetail 运行详情，附带黑板上的审阅结果
type RunDetail struct {
	run.Run
	History     []blackboard.HistoryEntry `json:"history"`
	Assessments []blackboard.Assessment   `json:"assessments"`
	Proposals   []blackboard.Proposal     `json:"proposals"`
	Score       int                       `json:"score"`
}

// ReplayResponse 运行历史回放
type ReplayResponse struct {
	RunID string `json:"run_id"`
	// 历史折叠得到的最终状态
	FinalStatus string `json:"final_status"`
	// 按发生顺序排列的状态序列
	Timeline []string                  `json:"timeline"`
	History  []blackboard.HistoryEntry `json:"history"`
}

// =============================================================================
// 人工审批关卡
// =============================================================================

// RiskApprovalItem 单个条款的风险审批结果
type RiskApprovalItem struct {
	ClauseID string `json:"clause_id" example:"clause_3" binding:"required"`
	// 缺省视为批准
	Approved *bool  `json:"approved,omitempty"`
	Comments string `json:"comments,omitempty"`
}

// IsApproved 返回条款是否被批准（缺省为 true）
func (i RiskApprovalItem) IsApproved() bool {
	return i.Approved == nil || *i.Approved
}

// RiskApprovalRequest 风险关卡提交
type RiskApprovalRequest struct {
	RunID    string             `json:"run_id" binding:"required"`
	Items    []RiskApprovalItem `json:"items"`
	Reviewer string             `json:"reviewer,omitempty"`
}

// Split 拆分为批准列表、拒绝列表与评论
func (r RiskApprovalRequest) Split() (approved, rejected []string, comments map[string]string) {
	approved = make([]string, 0, len(r.Items))
	rejected = make([]string, 0)
	comments = make(map[string]string)
	for _, item := range r.Items {
		if item.IsApproved() {
			approved = append(approved, item.ClauseID)
		} else {
			rejected = append(rejected, item.ClauseID)
		}
		if item.Comments != "" {
			comments[item.ClauseID] = item.Comments
		}
	}
	return approved, rejected, comments
}

// FinalApproveRequest 最终关卡提交
type FinalApproveRequest struct {
	RunID             string   `json:"run_id" binding:"required"`
	ApprovedProposals []string `json:"approved_proposals"`
	RejectedProposals []string `json:"rejected_proposals,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	Reviewer          string   `json:"reviewer,omitempty"`
}

// RejectRunRequest 在任一关卡直接拒绝运行
type RejectRunRequest struct {
	RunID    string `json:"run_id" binding:"required"`
	Reason   string `json:"reason,omitempty" example:"counterparty withdrew"`
	Reviewer string `json:"reviewer,omitempty"`
}

// GateDecisionResponse 关卡提交结果
type GateDecisionResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status" example:"approved"`
}
