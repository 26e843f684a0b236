package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent/coordinator"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/api/handlers"
	"github.com/BaSui01/contractflow/config"
	"github.com/BaSui01/contractflow/internal/database"
	"github.com/BaSui01/contractflow/internal/documents"
	"github.com/BaSui01/contractflow/internal/metrics"
	"github.com/BaSui01/contractflow/internal/server"
	"github.com/BaSui01/contractflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ContractFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 基础设施
	telemetry  *telemetry.Providers
	collector  *metrics.Collector
	registry   prometheus.Gatherer
	pool       *database.PoolManager
	docs       *documents.Store
	redisStore *run.RedisStore

	// 编排核心
	coordinator *coordinator.Coordinator

	// Handlers
	healthHandler   *handlers.HealthHandler
	documentHandler *handlers.DocumentHandler
	runHandler      *handlers.RunHandler
	hitlHandler     *handlers.HITLHandler

	// 服务器编组
	group *server.Group

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 按配置装配全部组件，不监听端口
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	return newServer(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func newServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: gatherer,
	}

	// 1. OpenTelemetry
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers
	if providers.Enabled() {
		logger.Info("telemetry exporters enabled")
	}

	// 2. 指标收集器
	s.collector = metrics.NewCollectorWithRegistry("contractflow", reg, logger)

	// 3. 文档库
	if err := s.initDocuments(ctx); err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to init document store: %w", err)
	}

	// 4. 协调器
	if err := s.initCoordinator(ctx); err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to init coordinator: %w", err)
	}

	// 5. Handlers
	s.initHandlers()

	return s, nil
}

// =============================================================================
// 🔧 组件初始化
// =============================================================================

func (s *Server) initDocuments(ctx context.Context) error {
	dbCfg := s.cfg.Database
	pool, err := database.Open(database.Config{
		Driver: dbCfg.Driver,
		DSN:    dbCfg.DSN(),
		Debug:  dbCfg.Debug,
		Pool: database.PoolConfig{
			MaxOpenConns:        dbCfg.MaxOpenConns,
			MaxIdleConns:        dbCfg.MaxIdleConns,
			ConnMaxLifetime:     dbCfg.ConnMaxLifetime,
			HealthCheckInterval: dbCfg.HealthCheckInterval,
		},
	}, s.logger, database.WithStatsReporter("documents", s.collector))
	if err != nil {
		return err
	}
	s.pool = pool

	s.docs = documents.NewStore(pool, s.logger, documents.WithQueryRecorder(s.collector))
	if err := s.docs.Migrate(ctx); err != nil {
		return err
	}
	if dbCfg.Seed {
		if err := s.docs.Seed(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) initCoordinator(ctx context.Context) error {
	var store run.Store = run.NewMemoryStore()
	if s.cfg.Store.Backend == "redis" {
		rc := s.cfg.Redis
		redisStore, err := run.NewRedisStore(run.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			Namespace: rc.Namespace,
			RecordTTL: rc.RecordTTL,
			PoolSize:  rc.PoolSize,
		}, s.logger)
		if err != nil {
			return err
		}
		s.redisStore = redisStore
		store = redisStore
	}

	observers := coordinator.MultiObserver{s.collector}
	instruments, err := telemetry.NewInstruments()
	if err != nil {
		s.logger.Warn("failed to create otel instruments", zap.Error(err))
	} else {
		observers = append(observers, instruments)
	}

	oc := s.cfg.Orchestrator
	s.coordinator = coordinator.New(
		coordinator.WithLogger(s.logger),
		coordinator.WithConfig(coordinator.Config{
			GateTTL:        oc.GateTTL,
			SweepInterval:  oc.SweepInterval,
			MaxConcurrency: oc.MaxConcurrency,
			DefaultWorkers: oc.DefaultWorkers,
		}),
		coordinator.WithRunStore(store),
		coordinator.WithObserver(observers),
		coordinator.WithGateHandler(func(ctx context.Context, g *hitl.Gate) error {
			s.logger.Info("review required",
				zap.String("run_id", g.RunID),
				zap.String("gate_id", g.ID),
				zap.String("kind", string(g.Kind)),
				zap.String("title", g.Title))
			return nil
		}),
	)
	if oc.RegisterDefaultTeams {
		if err := s.coordinator.RegisterDefaultTeams(); err != nil {
			return err
		}
	}

	// 团队注册之后才能恢复等待中的运行
	if _, err := s.coordinator.Recover(ctx); err != nil {
		s.logger.Warn("failed to recover runs", zap.Error(err))
	}

	s.logger.Info("coordinator initialized",
		zap.String("store", s.cfg.Store.Backend),
		zap.Int("teams", len(s.coordinator.Teams())))
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger).
		WithStats("coordinator", func(ctx context.Context) any {
			return s.coordinator.Stats(ctx)
		}).
		WithStats("database", func(ctx context.Context) any {
			return s.pool.GetStats()
		})
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck(s.pool.Ping))
	if s.redisStore != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck(s.redisStore.Ping))
	}

	s.documentHandler = handlers.NewDocumentHandler(s.docs, s.logger)
	s.runHandler = handlers.NewRunHandler(s.coordinator, s.docs, s.logger)
	s.hitlHandler = handlers.NewHITLHandler(s.coordinator, s.logger)
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// Handler 构建 API 路由和中间件链
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// API 路由
	s.documentHandler.RegisterRoutes(mux)
	s.runHandler.RegisterRoutes(mux)
	s.hitlHandler.RegisterRoutes(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		ReviewerIdentity(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	middlewares = append(middlewares, MetricsMiddleware(s.collector))

	return Chain(mux, middlewares...)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动 API 与指标服务器
func (s *Server) Start() error {
	limiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	apiManager := server.NewManager("api", s.Handler(limiterCtx), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	var metricsManager *server.Manager
	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
	}

	s.group = server.NewGroup(s.logger, apiManager, metricsManager)
	if err := s.group.Start(); err != nil {
		cancel()
		return err
	}

	s.logger.Info("ContractFlow listening",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))
	return nil
}

// Wait 阻塞直到收到关闭信号或任一服务器异常退出；返回时服务器已关闭
func (s *Server) Wait(ctx context.Context) error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait(ctx)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 释放协调器、存储与遥测资源
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	return s.close(ctx)
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	if s.coordinator != nil {
		if err := s.coordinator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close coordinator: %w", err))
		}
	}
	if s.redisStore != nil {
		if err := s.redisStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis store: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
