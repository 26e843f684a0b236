// Copyright 2024 ContractFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package run 定义运行的生命周期状态机与持久化存储。

# 状态机

	CREATED → RUNNING → AWAITING_RISK_APPROVAL → RUNNING_REDLINE
	        → AWAITING_FINAL_APPROVAL → COMPLETED

RUNNING 与 RUNNING_REDLINE 可进入 FAILED，两个审批关卡可进入 REJECTED。
其余转换一律返回 INVALID_STATE 错误。

# 存储

Store 保存运行与黑板快照。MemoryStore 用于单进程部署和测试，
RedisStore 以 JSON 字符串保存记录，并用有序集合维护创建时间索引。
*/
package run
