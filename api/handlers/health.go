package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// readyTimeout 单次就绪检查的总超时
	readyTimeout = 5 * time.Second

	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	checkPass       = "pass"
	checkFail       = "fail"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// StatsFunc 返回附加到 /health 响应中的一组统计
type StatsFunc func(ctx context.Context) any

// HealthCheck 依赖检查（数据库、Redis 运行存储）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /health、/healthz、/ready 的响应体
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Stats     map[string]any         `json:"stats,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个依赖检查的结果
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler 提供存活、就绪与统计端点
type HealthHandler struct {
	logger  *zap.Logger
	service string

	mu     sync.RWMutex
	stats  map[string]StatsFunc
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		service: "contractflow",
		stats:   make(map[string]StatsFunc),
	}
}

// WithStats 以 name 为键把一组统计挂到 /health；同名覆盖
func (h *HealthHandler) WithStats(name string, fn StatsFunc) *HealthHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.stats, name)
	} else {
		h.stats[name] = fn
	}
	return h
}

// RegisterCheck 注册就绪检查，nil 忽略
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	if check == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth GET /health：服务状态加统计
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.stats))
	for name := range h.stats {
		names = append(names, name)
	}
	sources := make(map[string]StatsFunc, len(h.stats))
	for k, v := range h.stats {
		sources[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{Status: statusHealthy, Service: h.service, Timestamp: time.Now()}
	if len(names) > 0 {
		status.Stats = make(map[string]any, len(names))
		for _, name := range names {
			status.Stats[name] = sources[name](r.Context())
		}
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz GET /healthz：存活探针，不访问任何依赖
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: statusHealthy, Timestamp: time.Now()})
}

// HandleReady GET /ready：并发执行全部检查，任一失败返回 503
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := h.runChecks(r.Context(), checks)

	status := HealthStatus{Status: statusHealthy, Timestamp: time.Now(), Checks: results}
	code := http.StatusOK
	for _, res := range results {
		if res.Status == checkFail {
			status.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
			break
		}
	}
	WriteJSON(w, code, status)
}

// runChecks 并发执行检查；单个检查失败不取消其他检查
func (h *HealthHandler) runChecks(ctx context.Context, checks []HealthCheck) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			res := CheckResult{Status: checkPass, Latency: latency.String()}
			if err != nil {
				res.Status = checkFail
				res.Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name()),
					zap.Duration("latency", latency),
					zap.Error(err))
			}

			mu.Lock()
			results[check.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HandleVersion GET /version
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// PingCheck 以 ping 函数实现的依赖检查
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// NewDatabaseHealthCheck 文档库连通性
func NewDatabaseHealthCheck(ping func(ctx context.Context) error) *PingCheck {
	return NewPingCheck("database", ping)
}

// NewRedisHealthCheck Redis 运行存储连通性
func NewRedisHealthCheck(ping func(ctx context.Context) error) *PingCheck {
	return NewPingCheck("redis", ping)
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
