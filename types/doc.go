// Copyright (c) ContractFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ContractFlow 编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、blackboard、team、
run、coordinator 与 api 等上层模块提供统一的错误契约与上下文键。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - NOT_FOUND         — 未注册的团队、未知的运行、文档或策略手册
  - VALIDATION        — 非法的黑板增量或审批载荷
  - INVALID_STATE     — 审批提交顺序错误或运行已处于终态
  - AGENT_FAILED      — 单个 Agent 执行失败（由 agent.AgentError 包装）

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithRunID / WithReviewer
  - 错误工具链：AsError / IsErrorCode / GetErrorCode / IsRetryable
  - 常用错误构造：NewNotFoundError / NewValidationError / NewInvalidStateError
*/
package types
