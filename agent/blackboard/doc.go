// Package blackboard 提供单次运行的共享工作区（黑板）。
//
// 黑板保存文档原文、条款、风险评估、修订建议、风险分、状态、两道人工审批
// 的决定以及只追加的历史记录。history 是审计与重放的唯一事实来源，其余字段
// 都是可覆盖的派生快照。写入以 Delta 为单位整体校验、整体生效，读者不会
// 观察到写了一半的增量。
package blackboard
