// Copyright (c) ContractFlow Authors.
// Licensed under the MIT License.

// Package api 定义 ContractFlow HTTP API 的请求与响应结构。
//
// # API 概览
//
// ContractFlow 以 JSON over HTTP 暴露合同审阅编排能力：
//   - 文档上传（multipart 或 JSON，上限 10MB）与策略手册管理
//   - 启动审阅运行、查询运行详情、黑板快照与历史回放
//   - 人工审批关卡：风险审批、最终审批、直接拒绝、待决关卡列表
//   - 团队描述、健康检查与版本信息
//
// # 响应格式
//
// 所有端点返回统一包装：
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}}
//
// 错误码到状态码：NOT_FOUND→404，INVALID_STATE→409，
// VALIDATION/INVALID_REQUEST→400，其余→500。
//
// # 基础地址
//
//	http://localhost:8080
//
// Prometheus 指标在独立端口（默认 9091）的 /metrics 上提供。
package api
