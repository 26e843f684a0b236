package agent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/contractflow/types"
)

var (
	// ErrUndeclaredWrite Agent 写入了未声明的字段
	ErrUndeclaredWrite = errors.New("agent wrote undeclared field")

	// ErrUnexpectedWorkItems 非 manager Agent 返回了工作分片
	ErrUnexpectedWorkItems = errors.New("only manager agents may emit work items")

	// ErrNilOutput Agent 返回了空输出
	ErrNilOutput = errors.New("agent returned nil output")

	// ErrMissingInput 上游数据包缺少声明读取的字段
	ErrMissingInput = errors.New("required input missing from packet")
)

// AgentError 包装单个 Agent 执行失败，携带 Agent 名称
type AgentError struct {
	Agent      string
	Capability Capability
	Cause      error
}

// NewAgentError 创建 AgentError
func NewAgentError(a Agent, cause error) *AgentError {
	return &AgentError{Agent: a.Name(), Capability: a.Capability(), Cause: cause}
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s (%s) failed: %v", e.Agent, e.Capability, e.Cause)
}

// Unwrap 展开为 AGENT_FAILED 结构化错误，原因继续挂在其后
func (e *AgentError) Unwrap() error {
	return types.NewError(types.ErrAgentFailed, fmt.Sprintf("agent %s failed", e.Agent)).
		WithHTTPStatus(http.StatusInternalServerError).
		WithCause(e.Cause)
}

// AsAgentError 从错误链中取出 AgentError
func AsAgentError(err error) (*AgentError, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
