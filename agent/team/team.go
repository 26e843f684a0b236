package team

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/agent/blackboard"
	"github.com/BaSui01/contractflow/types"
)

// Pattern 定义团队的执行模式
type Pattern string

const (
	PatternSequential    Pattern = "SEQUENTIAL"
	PatternManagerWorker Pattern = "MANAGER_WORKER"
	PatternPipeline      Pattern = "PIPELINE"
)

// Valid 检查执行模式是否合法
func (p Pattern) Valid() bool {
	switch p {
	case PatternSequential, PatternManagerWorker, PatternPipeline:
		return true
	default:
		return false
	}
}

var (
	// ErrEmptyTeam 团队没有任何 Agent
	ErrEmptyTeam = errors.New("team requires at least one agent")

	// ErrUnknownPattern 未知执行模式
	ErrUnknownPattern = errors.New("unknown execution pattern")

	// ErrStageOrder Agent 阶段顺序不单调
	ErrStageOrder = errors.New("agents are not ordered by stage")

	// ErrManagerWorkerShape MANAGER_WORKER 团队结构不合法
	ErrManagerWorkerShape = errors.New("manager_worker team needs a manager followed by at least one worker")

	// ErrInvalidPartition manager 返回的分片不合法
	ErrInvalidPartition = errors.New("invalid work partition")

	// ErrIncompleteCoverage 风险阶段结束时仍有条款未评估
	ErrIncompleteCoverage = errors.New("risk stage left clauses unassessed")
)

// ExecutionObserver 观察每次 Agent 调用（用于指标采集）
type ExecutionObserver interface {
	ObserveAgent(team, agentName, capability, stage string, duration time.Duration, err error)
}

// Request 一次阶段执行请求
type Request struct {
	RunID    string
	Stage    agent.Stage
	Scope    []string // nil 表示全部条款
	Policy   agent.Policy
	Observer ExecutionObserver
}

// Team 一组按执行模式组织的 Agent。
// Agent 以引用方式共享，团队不独占 Agent 实例。
type Team struct {
	name        string
	description string
	pattern     Pattern
	agents      []agent.Agent

	maxConcurrency int
	logger         *zap.Logger
	tracer         trace.Tracer
}

// Option 团队选项
type Option func(*Team)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(t *Team) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMaxConcurrency 限制 MANAGER_WORKER 模式下同时运行的 worker 数
func WithMaxConcurrency(n int) Option {
	return func(t *Team) { t.maxConcurrency = n }
}

// NewTeam 创建团队并校验其结构
func NewTeam(name string, pattern Pattern, description string, agents ...agent.Agent) (*Team, error) {
	return New(name, pattern, description, agents)
}

// New 与 NewTeam 相同，额外接受选项
func New(name string, pattern Pattern, description string, agents []agent.Agent, opts ...Option) (*Team, error) {
	if name == "" {
		return nil, types.NewValidationError("team name is required")
	}
	if len(agents) == 0 {
		return nil, types.NewValidationError("team %s: %v", name, ErrEmptyTeam).WithCause(ErrEmptyTeam)
	}
	if !pattern.Valid() {
		return nil, types.NewValidationError("team %s: %v %q", name, ErrUnknownPattern, pattern).WithCause(ErrUnknownPattern)
	}
	for i, a := range agents {
		if a == nil {
			return nil, types.NewValidationError("team %s: agent at index %d is nil", name, i)
		}
	}
	if err := checkStageOrder(agents); err != nil {
		return nil, types.NewValidationError("team %s: %v", name, err).WithCause(err)
	}
	if pattern == PatternManagerWorker {
		if err := checkManagerWorker(agents); err != nil {
			return nil, types.NewValidationError("team %s: %v", name, err).WithCause(err)
		}
	}

	t := &Team{
		name:        name,
		description: description,
		pattern:     pattern,
		agents:      append([]agent.Agent(nil), agents...),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("contractflow/team"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "team"), zap.String("team", name))
	return t, nil
}

func checkStageOrder(agents []agent.Agent) error {
	highestMin := 0
	for _, a := range agents {
		stages := a.Stages()
		if len(stages) == 0 {
			return fmt.Errorf("%w: agent %s declares no stage", ErrStageOrder, a.Name())
		}
		lo, hi := stages[0].Order(), stages[0].Order()
		for _, s := range stages {
			if s.Order() == 0 {
				return fmt.Errorf("%w: agent %s declares unknown stage %q", ErrStageOrder, a.Name(), s)
			}
			if s.Order() < lo {
				lo = s.Order()
			}
			if s.Order() > hi {
				hi = s.Order()
			}
		}
		if hi < highestMin {
			return fmt.Errorf("%w: %s runs before an earlier agent's stage", ErrStageOrder, a.Name())
		}
		if lo > highestMin {
			highestMin = lo
		}
	}
	return nil
}

func checkManagerWorker(agents []agent.Agent) error {
	if len(agents) < 2 || agents[0].Capability() != agent.CapabilityManage {
		return ErrManagerWorkerShape
	}
	for _, a := range agents[1:] {
		if a.Capability() != agent.CapabilityWork {
			return fmt.Errorf("%w: %s is not a worker", ErrManagerWorkerShape, a.Name())
		}
	}
	return nil
}

// Name 返回团队名称
func (t *Team) Name() string { return t.name }

// Pattern 返回执行模式
func (t *Team) Pattern() Pattern { return t.pattern }

// Description 返回描述
func (t *Team) Description() string { return t.description }

// Agents 返回 Agent 列表副本
func (t *Team) Agents() []agent.Agent {
	return append([]agent.Agent(nil), t.agents...)
}

// HasStage 判断团队是否有 Agent 参与指定阶段
func (t *Team) HasStage(s agent.Stage) bool {
	for _, a := range t.agents {
		if agent.ParticipatesIn(a, s) {
			return true
		}
	}
	return false
}

// AgentInfo Agent 描述
type AgentInfo struct {
	Name       string             `json:"name"`
	Capability agent.Capability   `json:"capability"`
	Stages     []agent.Stage      `json:"stages"`
	Reads      []blackboard.Field `json:"reads"`
	Writes     []blackboard.Field `json:"writes"`
	Delegates  []string           `json:"delegates,omitempty"`
}

// Info 团队描述
type Info struct {
	Name        string      `json:"name"`
	Pattern     Pattern     `json:"pattern"`
	Description string      `json:"description,omitempty"`
	Agents      []AgentInfo `json:"agents"`
}

// Info 返回团队描述
func (t *Team) Info() Info {
	info := Info{
		Name:        t.name,
		Pattern:     t.pattern,
		Description: t.description,
		Agents:      make([]AgentInfo, 0, len(t.agents)),
	}
	for _, a := range t.agents {
		ai := AgentInfo{
			Name:       a.Name(),
			Capability: a.Capability(),
			Stages:     a.Stages(),
			Reads:      a.Reads(),
			Writes:     a.Writes(),
		}
		if w, ok := a.(*agent.WorkerAgent); ok {
			for _, d := range w.Delegates() {
				ai.Delegates = append(ai.Delegates, d.Name())
			}
		}
		info.Agents = append(info.Agents, ai)
	}
	return info
}
