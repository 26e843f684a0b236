package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/coordinator"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/agent/team"
	"github.com/BaSui01/contractflow/api"
	"github.com/BaSui01/contractflow/types"
)

// defaultAgentPath 请求未指定团队时使用的执行路径
const defaultAgentPath = "sequential"

// Orchestrator 处理器依赖的协调器能力
type Orchestrator interface {
	StartRun(ctx context.Context, req coordinator.StartRunRequest) (string, error)
	GetRun(ctx context.Context, runID string) (*run.Run, error)
	GetBlackboard(ctx context.Context, runID string) (blackboard.Snapshot, error)
	History(ctx context.Context, runID string) ([]blackboard.HistoryEntry, error)
	ListRuns() []*run.Run
	SubmitRiskReview(ctx context.Context, runID string, d coordinator.RiskDecision) error
	SubmitFinalReview(ctx context.Context, runID string, d coordinator.FinalDecision) error
	RejectRun(ctx context.Context, runID, reason, reviewer string) error
	PendingGates(ctx context.Context, runID string) ([]*hitl.Gate, error)
	Team(name string) (*team.Team, error)
	Teams() []team.Info
}

// =============================================================================
// 🏃 运行 Handler
// =============================================================================

// RunHandler 运行的启动与查询、团队描述
type RunHandler struct {
	orchestrator Orchestrator
	docs         DocumentService
	logger       *zap.Logger
}

// NewRunHandler 创建运行处理器
func NewRunHandler(orchestrator Orchestrator, docs DocumentService, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		orchestrator: orchestrator,
		docs:         docs,
		logger:       logger.With(zap.String("handler", "runs")),
	}
}

// RegisterRoutes 注册路由
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/run", h.HandleStartRun)
	mux.HandleFunc("GET /api/run/{id}", h.HandleGetRun)
	mux.HandleFunc("GET /api/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/blackboard/{id}", h.HandleGetBlackboard)
	mux.HandleFunc("GET /api/replay/{id}", h.HandleReplay)
	mux.HandleFunc("GET /api/teams", h.HandleListTeams)
	mux.HandleFunc("GET /api/teams/{name}", h.HandleGetTeam)
}

// HandleStartRun 启动审阅运行，立即返回运行 ID
// @Summary 启动运行
// @Tags 运行
// @Accept json
// @Produce json
// @Param request body api.StartRunRequest true "运行参数"
// @Success 202 {object} api.StartRunResponse
// @Failure 404 {object} Response "文档或团队不存在"
// @Router /api/run [post]
func (h *RunHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.DocID == "" {
		WriteError(w, types.NewValidationError("doc_id is required"), h.logger)
		return
	}

	ctx := r.Context()
	text, err := h.docs.DocumentText(ctx, req.DocID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	rules, err := h.docs.PolicyRules(ctx, req.PlaybookID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	agentPath := req.AgentPath
	teamName := req.Team
	if teamName == "" {
		if agentPath == "" {
			agentPath = defaultAgentPath
		}
		teamName = coordinator.TeamForPath(agentPath)
	}

	runID, err := h.orchestrator.StartRun(ctx, coordinator.StartRunRequest{
		DocID:        req.DocID,
		DocumentText: text,
		TeamName:     teamName,
		PlaybookID:   req.PlaybookID,
		PolicyRules:  rules,
	})
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	status := run.StateRunning
	if current, err := h.orchestrator.GetRun(ctx, runID); err == nil {
		status = current.State
	}

	h.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("doc_id", req.DocID),
		zap.String("team", teamName))

	WriteAccepted(w, api.StartRunResponse{
		RunID:     runID,
		DocID:     req.DocID,
		AgentPath: agentPath,
		Team:      teamName,
		Status:    status,
	})
}

// HandleGetRun 返回运行详情与黑板上的审阅结果
// @Summary 运行详情
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} api.RunDetail
// @Failure 404 {object} Response
// @Router /api/run/{id} [get]
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rn, err := h.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	snap, err := h.orchestrator.GetBlackboard(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.RunDetail{
		Run:         *rn,
		History:     snap.History,
		Assessments: snap.AssessmentList(),
		Proposals:   snap.ProposalList(),
		Score:       snap.Score,
	})
}

// HandleListRuns 列出全部运行
// @Summary 运行列表
// @Tags 运行
// @Produce json
// @Success 200 {array} run.Run
// @Router /api/runs [get]
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.orchestrator.ListRuns()
	if runs == nil {
		runs = []*run.Run{}
	}
	WriteSuccess(w, runs)
}

// HandleGetBlackboard 返回运行的黑板快照
// @Summary 黑板快照
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} blackboard.Snapshot
// @Failure 404 {object} Response
// @Router /api/blackboard/{id} [get]
func (h *RunHandler) HandleGetBlackboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orchestrator.GetBlackboard(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, snap)
}

// HandleReplay 返回运行历史及其重放结果
// @Summary 历史回放
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} api.ReplayResponse
// @Failure 404 {object} Response
// @Router /api/replay/{id} [get]
func (h *RunHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := h.orchestrator.History(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	timeline := blackboard.StatusTimeline(history)
	if timeline == nil {
		timeline = []string{}
	}
	WriteSuccess(w, api.ReplayResponse{
		RunID:       id,
		FinalStatus: blackboard.Replay(history),
		Timeline:    timeline,
		History:     history,
	})
}

// HandleListTeams 列出已注册团队
// @Summary 团队列表
// @Tags 团队
// @Produce json
// @Success 200 {array} team.Info
// @Router /api/teams [get]
func (h *RunHandler) HandleListTeams(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.orchestrator.Teams())
}

// HandleGetTeam 返回团队描述
// @Summary 团队详情
// @Tags 团队
// @Produce json
// @Param name path string true "团队名"
// @Success 200 {object} team.Info
// @Failure 404 {object} Response
// @Router /api/teams/{name} [get]
func (h *RunHandler) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.orchestrator.Team(r.PathValue("name"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, t.Info())
}
