package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent/coordinator"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/api"
	"github.com/BaSui01/contractflow/types"
)

// =============================================================================
// ✋ 人工审批关卡 Handler
// =============================================================================

// HITLHandler 风险关卡、最终关卡与拒绝
type HITLHandler struct {
	orchestrator Orchestrator
	logger       *zap.Logger
}

// NewHITLHandler 创建关卡处理器
func NewHITLHandler(orchestrator Orchestrator, logger *zap.Logger) *HITLHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HITLHandler{
		orchestrator: orchestrator,
		logger:       logger.With(zap.String("handler", "hitl")),
	}
}

// RegisterRoutes 注册路由
func (h *HITLHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/hitl/risk-approve", h.HandleRiskApprove)
	mux.HandleFunc("POST /api/hitl/final-approve", h.HandleFinalApprove)
	mux.HandleFunc("POST /api/hitl/reject", h.HandleReject)
	mux.HandleFunc("GET /api/hitl/pending", h.HandlePending)
}

// HandleRiskApprove 提交风险关卡决定，运行在后台进入修订阶段
// @Summary 风险关卡审批
// @Tags 审批
// @Accept json
// @Produce json
// @Param request body api.RiskApprovalRequest true "逐条款审批结果"
// @Success 200 {object} api.GateDecisionResponse
// @Failure 404 {object} Response "运行不存在"
// @Failure 409 {object} Response "运行不在风险关卡"
// @Router /api/hitl/risk-approve [post]
func (h *HITLHandler) HandleRiskApprove(w http.ResponseWriter, r *http.Request) {
	var req api.RiskApprovalRequest
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.RunID == "" {
		WriteError(w, types.NewValidationError("run_id is required"), h.logger)
		return
	}

	approved, rejected, comments := req.Split()
	err := h.orchestrator.SubmitRiskReview(r.Context(), req.RunID, coordinator.RiskDecision{
		Approved: approved,
		Rejected: rejected,
		Comments: comments,
		Reviewer: reviewerFrom(r, req.Reviewer),
	})
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.GateDecisionResponse{RunID: req.RunID, Status: "approved"})
}

// HandleFinalApprove 提交最终关卡决定，运行完成
// @Summary 最终关卡审批
// @Tags 审批
// @Accept json
// @Produce json
// @Param request body api.FinalApproveRequest true "修订建议审批结果"
// @Success 200 {object} api.GateDecisionResponse
// @Failure 404 {object} Response "运行不存在"
// @Failure 409 {object} Response "运行不在最终关卡"
// @Router /api/hitl/final-approve [post]
func (h *HITLHandler) HandleFinalApprove(w http.ResponseWriter, r *http.Request) {
	var req api.FinalApproveRequest
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.RunID == "" {
		WriteError(w, types.NewValidationError("run_id is required"), h.logger)
		return
	}

	err := h.orchestrator.SubmitFinalReview(r.Context(), req.RunID, coordinator.FinalDecision{
		ApprovedProposals: req.ApprovedProposals,
		RejectedProposals: req.RejectedProposals,
		Notes:             req.Notes,
		Reviewer:          reviewerFrom(r, req.Reviewer),
	})
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.GateDecisionResponse{RunID: req.RunID, Status: "approved"})
}

// HandleReject 在任一关卡拒绝运行
// @Summary 拒绝运行
// @Tags 审批
// @Accept json
// @Produce json
// @Param request body api.RejectRunRequest true "拒绝原因"
// @Success 200 {object} api.GateDecisionResponse
// @Failure 409 {object} Response "运行不在审批关卡"
// @Router /api/hitl/reject [post]
func (h *HITLHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req api.RejectRunRequest
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.RunID == "" {
		WriteError(w, types.NewValidationError("run_id is required"), h.logger)
		return
	}

	if err := h.orchestrator.RejectRun(r.Context(), req.RunID, req.Reason, reviewerFrom(r, req.Reviewer)); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.GateDecisionResponse{RunID: req.RunID, Status: "rejected"})
}

// HandlePending 列出待决关卡；指定 run_id 时只返回该运行的关卡
// @Summary 待决关卡
// @Tags 审批
// @Produce json
// @Param run_id query string false "运行 ID"
// @Success 200 {array} hitl.Gate
// @Router /api/hitl/pending [get]
func (h *HITLHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	gates, err := h.orchestrator.PendingGates(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if gates == nil {
		gates = []*hitl.Gate{}
	}
	WriteSuccess(w, gates)
}

// reviewerFrom 优先使用请求体中的审批人，其次是 X-Reviewer 头
func reviewerFrom(r *http.Request, reviewer string) string {
	if reviewer != "" {
		return reviewer
	}
	if v := r.Header.Get("X-Reviewer"); v != "" {
		return v
	}
	if v, ok := types.Reviewer(r.Context()); ok {
		return v
	}
	return ""
}
