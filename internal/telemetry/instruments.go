package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
)

// Instruments 通过 OTel Meter 记录编排事件，与 Prometheus 指标并行导出。
// 实现协调器的 Observer 接口。
type Instruments struct {
	agentCalls    metric.Int64Counter
	agentDuration metric.Float64Histogram
	transitions   metric.Int64Counter
	gateEvents    metric.Int64Counter
	gateWait      metric.Float64Histogram
}

// NewInstruments 基于全局 MeterProvider 创建仪表。
// 遥测关闭时全局 provider 为 noop，记录操作无开销。
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsWithMeter(otel.Meter("contractflow/coordinator"))
}

// NewInstrumentsWithMeter 使用指定 Meter 创建仪表
func NewInstrumentsWithMeter(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.agentCalls, err = meter.Int64Counter("contractflow.agent.calls",
		metric.WithDescription("Agent invocations")); err != nil {
		return nil, err
	}
	if in.agentDuration, err = meter.Float64Histogram("contractflow.agent.duration",
		metric.WithDescription("Agent invocation duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.transitions, err = meter.Int64Counter("contractflow.run.transitions",
		metric.WithDescription("Run state transitions")); err != nil {
		return nil, err
	}
	if in.gateEvents, err = meter.Int64Counter("contractflow.gate.events",
		metric.WithDescription("HITL gate lifecycle events")); err != nil {
		return nil, err
	}
	if in.gateWait, err = meter.Float64Histogram("contractflow.gate.wait",
		metric.WithDescription("Time a gate stayed open"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &in, nil
}

// ObserveAgent 记录一次 Agent 调用
func (in *Instruments) ObserveAgent(teamName, agentName, capability, stage string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("team", teamName),
		attribute.String("agent", agentName),
		attribute.String("capability", capability),
		attribute.String("stage", stage),
		attribute.Bool("error", err != nil),
	)
	ctx := context.Background()
	in.agentCalls.Add(ctx, 1, attrs)
	in.agentDuration.Record(ctx, d.Seconds(), attrs)
}

// ObserveTransition 记录运行状态转换
func (in *Instruments) ObserveTransition(from, to run.State) {
	in.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// ObserveGate 记录关卡事件
func (in *Instruments) ObserveGate(kind hitl.Kind, status hitl.Status, wait time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	)
	in.gateEvents.Add(ctx, 1, attrs)
	if status != hitl.StatusPending {
		in.gateWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}
