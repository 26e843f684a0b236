package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/agent/team"
	"github.com/BaSui01/contractflow/types"
)

// 默认团队名称
const (
	SequentialTeam      = "sequential_team"
	ManagerWorkerTeam   = "manager_worker_team"
	PlannerExecutorTeam = "planner_executor_team"
)

// coordinatorActor 协调器自身写入历史时使用的 actor
const coordinatorActor = "coordinator"

// Observer 接收团队执行、状态转换与关卡事件（用于指标采集）
type Observer interface {
	team.ExecutionObserver
	ObserveTransition(from, to run.State)
	ObserveGate(kind hitl.Kind, status hitl.Status, wait time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveAgent(string, string, string, string, time.Duration, error) {}
func (noopObserver) ObserveTransition(run.State, run.State) {}
func (noopObserver) ObserveGate(hitl.Kind, hitl.Status, time.Duration) {}

// MultiObserver 将事件依次分发给多个观察者
type MultiObserver []Observer

// ObserveAgent 分发 Agent 执行事件
func (m MultiObserver) ObserveAgent(teamName, agentName, capability, stage string, d time.Duration, err error) {
	for _, o := range m {
		o.ObserveAgent(teamName, agentName, capability, stage, d, err)
	}
}

// ObserveTransition 分发状态转换事件
func (m MultiObserver) ObserveTransition(from, to run.State) {
	for _, o := range m {
		o.ObserveTransition(from, to)
	}
}

// ObserveGate 分发关卡事件
func (m MultiObserver) ObserveGate(kind hitl.Kind, status hitl.Status, wait time.Duration) {
	for _, o := range m {
		o.ObserveGate(kind, status, wait)
	}
}

// Config 协调器配置
type Config struct {
	// 关卡超时时间，0 表示无限期等待
	GateTTL time.Duration `yaml:"gate_ttl" json:"gate_ttl"`

	// 过期扫描间隔
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// MANAGER_WORKER 同时运行的 worker 上限，0 表示不限制
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// 默认 manager_worker_team 中的 worker 数量
	DefaultWorkers int `yaml:"default_workers" json:"default_workers"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		GateTTL:        0,
		SweepInterval:  time.Minute,
		MaxConcurrency: 0,
		DefaultWorkers: 2,
	}
}

// Option 协调器选项
type Option func(*Coordinator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfig 设置配置
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.config = cfg }
}

// WithGateTTL 设置关卡超时时间
func WithGateTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.config.GateTTL = ttl }
}

// WithRunStore 设置运行存储（写穿）
func WithRunStore(store run.Store) Option {
	return func(c *Coordinator) {
		if store != nil {
			c.store = store
		}
	}
}

// WithGateStore 设置关卡存储
func WithGateStore(store hitl.GateStore) Option {
	return func(c *Coordinator) { c.gateStore = store }
}

// WithGateHandler 注册关卡打开时的回调（例如通知审阅人）；kinds 为空时对全部关卡生效
func WithGateHandler(handler hitl.GateHandler, kinds ...hitl.Kind) Option {
	return func(c *Coordinator) {
		if handler == nil {
			return
		}
		if len(kinds) == 0 {
			kinds = []hitl.Kind{hitl.KindRisk, hitl.KindFinal}
		}
		for _, k := range kinds {
			c.gateHandlers = append(c.gateHandlers, gateHandler{kind: k, fn: handler})
		}
	}
}

type gateHandler struct {
	kind hitl.Kind
	fn   hitl.GateHandler
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator 替换运行 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// Coordinator 驱动运行经过团队执行与人工审批关卡。
// 所有状态都属于实例本身，没有全局变量。
type Coordinator struct {
	mu    sync.RWMutex
	teams map[string]*team.Team
	runs  map[string]*runEntry

	config       Config
	store        run.Store
	gateStore    hitl.GateStore
	gateHandlers []gateHandler
	gates        *hitl.GateManager
	observer     Observer
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	newID        func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// runEntry 运行的内存状态；mu 串行化该运行的全部状态转换。
// 读路径只加载 view，不等待 mu（持锁期间可能正在写存储）。
type runEntry struct {
	mu   sync.Mutex
	run  *run.Run
	bb   *blackboard.Blackboard
	team *team.Team
	gate *hitl.Gate
	view atomic.Pointer[runView]
}

// runView 已持久化的运行副本；changed 在下一个视图发布时关闭
type runView struct {
	run     *run.Run
	changed chan struct{}
}

// publish 发布当前运行副本并唤醒等待者；调用方持有 e.mu
func (e *runEntry) publish() {
	prev := e.view.Swap(&runView{run: e.run.Clone(), changed: make(chan struct{})})
	if prev != nil {
		close(prev.changed)
	}
}

// snapshot 返回最近发布的运行副本
func (e *runEntry) snapshot() *run.Run {
	return e.view.Load().run.Clone()
}

// New 创建协调器。GateTTL > 0 时启动关卡过期扫描。
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		teams:    make(map[string]*team.Team),
		runs:     make(map[string]*runEntry),
		config:   DefaultConfig(),
		store:    run.NewMemoryStore(),
		observer: noopObserver{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("contractflow/coordinator"),
		now:      time.Now,
		newID:    func() string { return "run_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "coordinator"))
	c.gates = hitl.NewGateManager(c.gateStore, c.logger)
	for _, h := range c.gateHandlers {
		c.gates.RegisterHandler(h.kind, h.fn)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.config.GateTTL > 0 {
		interval := c.config.SweepInterval
		if interval <= 0 || interval > c.config.GateTTL {
			interval = c.config.GateTTL
		}
		c.wg.Add(1)
		go c.sweepLoop(interval)
	}
	return c
}

// Close 停止后台扫描并等待进行中的阶段结束
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// Config 返回当前配置
func (c *Coordinator) Config() Config {
	return c.config
}

// RegisterTeam 注册团队；同名团队以最后一次注册为准。
// 已经开始的运行继续使用启动时解析到的团队。
func (c *Coordinator) RegisterTeam(t *team.Team) error {
	if t == nil {
		return types.NewValidationError("team is nil")
	}
	c.mu.Lock()
	_, replaced := c.teams[t.Name()]
	c.teams[t.Name()] = t
	c.mu.Unlock()

	c.logger.Info("team registered",
		zap.String("team", t.Name()),
		zap.String("pattern", string(t.Pattern())),
		zap.Bool("replaced", replaced))
	return nil
}

// RegisterDefaultTeams 注册三个内置团队
func (c *Coordinator) RegisterDefaultTeams() error {
	workers := c.config.DefaultWorkers
	if workers <= 0 {
		workers = 2
	}
	teamOpts := []team.Option{
		team.WithLogger(c.logger),
		team.WithMaxConcurrency(c.config.MaxConcurrency),
	}

	sequential, err := team.New(SequentialTeam, team.PatternSequential,
		"Parser, risk analyzer and redline generator run one after another on the shared blackboard",
		[]agent.Agent{
			agent.NewParserAgent("parser"),
			agent.NewRiskAnalyzerAgent("risk_analyzer"),
			agent.NewRedlineGeneratorAgent("redline_generator"),
		}, teamOpts...)
	if err != nil {
		return err
	}

	mwAgents := []agent.Agent{agent.NewManagerAgent("manager", agent.NewParserAgent("parser"))}
	for i := 1; i <= workers; i++ {
		mwAgents = append(mwAgents, agent.NewDefaultWorker(fmt.Sprintf("worker_%d", i)))
	}
	managerWorker, err := team.New(ManagerWorkerTeam, team.PatternManagerWorker,
		"Manager partitions clauses, workers analyze and redline their partitions concurrently",
		mwAgents, teamOpts...)
	if err != nil {
		return err
	}

	pipeline, err := team.New(PlannerExecutorTeam, team.PatternPipeline,
		"Planner parses, executors hand results downstream through the pipeline packet",
		[]agent.Agent{
			agent.NewParserAgent("planner"),
			agent.NewRiskAnalyzerAgent("risk_executor"),
			agent.NewRedlineGeneratorAgent("redline_executor"),
		}, teamOpts...)
	if err != nil {
		return err
	}

	for _, t := range []*team.Team{sequential, managerWorker, pipeline} {
		if err := c.RegisterTeam(t); err != nil {
			return err
		}
	}
	return nil
}

// TeamForPath 将 agent_path（sequential / manager_worker / planner_executor）映射为团队名
func TeamForPath(path string) string {
	switch path {
	case "sequential":
		return SequentialTeam
	case "manager_worker":
		return ManagerWorkerTeam
	case "planner_executor":
		return PlannerExecutorTeam
	default:
		return path
	}
}

// Team 按名称查找团队
func (c *Coordinator) Team(name string) (*team.Team, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.teams[name]
	if !ok {
		return nil, types.NewNotFoundError("team", name)
	}
	return t, nil
}

// Teams 按名称返回全部团队描述
func (c *Coordinator) Teams() []team.Info {
	c.mu.RLock()
	infos := make([]team.Info, 0, len(c.teams))
	for _, t := range c.teams {
		infos = append(infos, t.Info())
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (c *Coordinator) entry(runID string) (*runEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.runs[runID]
	if !ok {
		return nil, types.NewNotFoundError("run", runID)
	}
	return e, nil
}
