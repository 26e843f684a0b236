// Copyright 2024 ContractFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

// Package hitl 提供 Human-in-the-Loop 审批关卡记录。
//
// 关卡是持久化的状态记录而不是阻塞调用：运行到达审批点时打开一个
// pending 关卡并立即返回，人工决定通过独立调用提交，由协调器据此恢复运行。
// 超时关卡可以通过 Expired/Expire 扫描并标记为 expired。
package hitl
