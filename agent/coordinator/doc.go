// Copyright 2024 ContractFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package coordinator 编排合同审阅运行。

Coordinator 持有团队注册表与运行注册表，每个运行拥有独立的黑板。
StartRun 在后台执行风险阶段，完成后打开风险关卡并停在
AWAITING_RISK_APPROVAL；SubmitRiskReview 记录决定并只对获批条款
执行修订阶段；SubmitFinalReview 完成运行。关卡是持久化记录，
等待期间不占用 goroutine。

每次状态转换都会写入黑板 status 并追加 status_changed 历史，
同时把运行与黑板快照写穿到 run.Store。配置 GateTTL 后，
超时未决的关卡会被后台扫描拒绝。
*/
package coordinator
