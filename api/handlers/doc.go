// Copyright (c) ContractFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ContractFlow HTTP API 的请求处理器实现。

# 概述

handlers 包把 HTTP 请求翻译为协调器与文档存储上的调用，
并把 types.Error 映射为统一的 JSON 错误响应。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的
"METHOD /path/{param}" 模式，由各 Handler 的 RegisterRoutes 注册。

# 核心类型

  - DocumentHandler  — 文档上传/列表、策略手册增删查
  - RunHandler       — 启动运行、运行详情、黑板、回放、团队描述
  - HITLHandler      — 风险关卡、最终关卡、拒绝、待决关卡
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Orchestrator     — 处理器依赖的协调器能力
  - DocumentService  — 处理器依赖的文档/策略手册存储能力
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与响应大小

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteAccepted / WriteError / WriteErr
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（404/409/400/429/500）
  - 可扩展健康检查：RegisterCheck 注册数据库、Redis 等 PingCheck
*/
package handlers
