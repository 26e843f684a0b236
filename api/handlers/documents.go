package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/api"
	"github.com/BaSui01/contractflow/internal/documents"
	"github.com/BaSui01/contractflow/types"
)

// uploadOverhead multipart 边界与 JSON 转义的额外预算
const uploadOverhead = 1 << 20

// multipartMemory 超出部分由 multipart 写入临时文件
const multipartMemory = 32 << 20

// DocumentService 文档与策略手册存储
type DocumentService interface {
	CreateDocument(ctx context.Context, name, content string) (*documents.Document, error)
	ListDocuments(ctx context.Context) ([]documents.Document, error)
	DocumentText(ctx context.Context, id string) (string, error)
	CreatePlaybook(ctx context.Context, name string, rules agent.Policy) (*documents.Playbook, error)
	ListPlaybooks(ctx context.Context) ([]documents.Playbook, error)
	DeletePlaybook(ctx context.Context, id string) error
	PolicyRules(ctx context.Context, playbookID string) (agent.Policy, error)
}

// =============================================================================
// 📄 文档 / 策略手册 Handler
// =============================================================================

// DocumentHandler 文档上传与策略手册管理
type DocumentHandler struct {
	store  DocumentService
	logger *zap.Logger
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(store DocumentService, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "documents")),
	}
}

// RegisterRoutes 注册路由
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.HandleUpload)
	mux.HandleFunc("GET /api/documents", h.HandleListDocuments)
	mux.HandleFunc("POST /api/playbooks", h.HandleCreatePlaybook)
	mux.HandleFunc("GET /api/playbooks", h.HandleListPlaybooks)
	mux.HandleFunc("DELETE /api/playbooks/{id}", h.HandleDeletePlaybook)
}

// HandleUpload 上传文档（multipart 字段 file，或 JSON {name, content}），上限 10MB
// @Summary 上传文档
// @Tags 文档
// @Accept multipart/form-data,json
// @Produce json
// @Success 201 {object} api.DocumentResponse
// @Failure 413 {object} Response "文档超过 10MB"
// @Router /api/documents [post]
func (h *DocumentHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxDocumentSize+uploadOverhead)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"Content-Type must be multipart/form-data or application/json", h.logger)
		return
	}

	var name string
	var content []byte
	switch strings.ToLower(mediaType) {
	case "multipart/form-data":
		name, content, err = readMultipartFile(r)
	case "application/json":
		name, content, err = readJSONDocument(r)
	default:
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be multipart/form-data or application/json", h.logger)
		return
	}
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	if len(content) > documents.MaxDocumentSize {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
			"file too large, maximum size is 10MB", h.logger)
		return
	}
	if strings.TrimSpace(name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "no filename provided", h.logger)
		return
	}

	// 非法 UTF-8 字节直接丢弃
	doc, err := h.store.CreateDocument(r.Context(), name, strings.ToValidUTF8(string(content), ""))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteCreated(w, api.DocumentResponse{
		DocID:      doc.ID,
		Name:       doc.Name,
		Size:       int64(len(content)),
		UploadedAt: doc.CreatedAt,
		Message:    "Document uploaded successfully",
	})
}

// HandleListDocuments 列出文档
// @Summary 文档列表
// @Tags 文档
// @Produce json
// @Success 200 {array} api.DocumentResponse
// @Router /api/documents [get]
func (h *DocumentHandler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	out := make([]api.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, api.DocumentResponse{
			DocID:      d.ID,
			Name:       d.Name,
			Size:       d.Size,
			UploadedAt: d.CreatedAt,
		})
	}
	WriteSuccess(w, out)
}

// HandleCreatePlaybook 创建策略手册
// @Summary 创建策略手册
// @Tags 策略手册
// @Accept json
// @Produce json
// @Param request body api.CreatePlaybookRequest true "策略手册"
// @Success 201 {object} api.PlaybookResponse
// @Router /api/playbooks [post]
func (h *DocumentHandler) HandleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePlaybookRequest
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	pb, err := h.store.CreatePlaybook(r.Context(), req.Name, agent.Policy(req.Rules))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteCreated(w, playbookResponse(*pb))
}

// HandleListPlaybooks 列出策略手册
// @Summary 策略手册列表
// @Tags 策略手册
// @Produce json
// @Success 200 {array} api.PlaybookResponse
// @Router /api/playbooks [get]
func (h *DocumentHandler) HandleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	pbs, err := h.store.ListPlaybooks(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	out := make([]api.PlaybookResponse, 0, len(pbs))
	for _, pb := range pbs {
		out = append(out, playbookResponse(pb))
	}
	WriteSuccess(w, out)
}

// HandleDeletePlaybook 删除策略手册
// @Summary 删除策略手册
// @Tags 策略手册
// @Produce json
// @Param id path string true "策略手册 ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} Response
// @Router /api/playbooks/{id} [delete]
func (h *DocumentHandler) HandleDeletePlaybook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeletePlaybook(r.Context(), id); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"playbook_id": id, "status": "deleted"})
}

func (h *DocumentHandler) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
			"file too large, maximum size is 10MB", h.logger)
		return
	}
	if apiErr, ok := types.AsError(err); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid upload").
		WithCause(err).
		WithHTTPStatus(http.StatusBadRequest), h.logger)
}

func readMultipartFile(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, types.NewError(types.ErrInvalidRequest, "multipart field \"file\" is required").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, documents.MaxDocumentSize+1))
	if err != nil {
		return "", nil, err
	}
	return header.Filename, content, nil
}

func readJSONDocument(r *http.Request) (string, []byte, error) {
	var req api.UploadDocumentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return "", nil, err
	}
	return req.Name, []byte(req.Content), nil
}

func playbookResponse(pb documents.Playbook) api.PlaybookResponse {
	rules := map[string]any(pb.Rules.Clone())
	return api.PlaybookResponse{
		PlaybookID: pb.ID,
		Name:       pb.Name,
		Rules:      rules,
		CreatedAt:  pb.CreatedAt,
	}
}
