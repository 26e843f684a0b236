// Copyright (c) ContractFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ContractFlow 服务端程序入口。

# 概述

cmd/contractflow 装配协调器、文档库、运行存储与 HTTP API，提供
serve、health、version 子命令。配置来自 YAML 文件与 CONTRACTFLOW_
前缀的环境变量，日志使用 zap，指标通过独立端口的 /metrics 暴露。

# 核心类型

  - Server     — 组件装配、API 与 Metrics 双端口、优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、ReviewerIdentity、SecurityHeaders、
    RequestLogger、CORS、RateLimiter（基于 IP）、OTelTracing、MetricsMiddleware
  - 运行存储：memory 或 redis，由 store.backend 选择
  - 文档库：postgres / mysql / sqlite（GORM），可选写入示例数据
  - 优雅关闭：信号 → 关闭 HTTP 服务器 → 关闭协调器与存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
