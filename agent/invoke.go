package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/contractflow/agent/blackboard"
)

// Invoke 执行单个 Agent 并校验其输出契约。
// panic 会被恢复为 AgentError；越权写入同样视为失败。
func Invoke(ctx context.Context, a Agent, in *Input) (out *Output, err error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAgentError(a, err)
	}
	if in.Packet != nil {
		if err := checkPacketReads(a, in.Packet); err != nil {
			return nil, NewAgentError(a, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = NewAgentError(a, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	out, err = a.Execute(ctx, in)
	if err != nil {
		if ae, ok := AsAgentError(err); ok {
			return nil, ae
		}
		return nil, NewAgentError(a, err)
	}
	if out == nil {
		return nil, NewAgentError(a, ErrNilOutput)
	}
	if err := CheckWrites(a, out); err != nil {
		return nil, NewAgentError(a, err)
	}
	return out, nil
}

// CheckWrites 校验输出只触及 Agent 声明的写集合
func CheckWrites(a Agent, out *Output) error {
	allowed := make(map[blackboard.Field]bool)
	for _, f := range a.Writes() {
		allowed[f] = true
	}
	for _, f := range out.Delta.Fields() {
		if !allowed[f] {
			return fmt.Errorf("%w: %s", ErrUndeclaredWrite, f)
		}
	}
	if len(out.WorkItems) > 0 && a.Capability() != CapabilityManage {
		return ErrUnexpectedWorkItems
	}
	return nil
}

// PIPELINE 模式下 Agent 声明读取的字段必须由上游数据包提供
func checkPacketReads(a Agent, p *Packet) error {
	for _, f := range a.Reads() {
		switch f {
		case blackboard.FieldClauses, blackboard.FieldAssessments, blackboard.FieldProposals:
			if !p.Has(f) {
				return fmt.Errorf("%w: %s", ErrMissingInput, f)
			}
		}
	}
	return nil
}
