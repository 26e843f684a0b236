// Package team 提供团队（Team）及其三种执行模式。
//
// SEQUENTIAL 按列表顺序逐个执行并立即提交；PIPELINE 顺序相同，但每个 Agent
// 只能通过上一个 Agent 输出派生的数据包获取输入；MANAGER_WORKER 由 manager
// 拆分工作分片，worker 在同一快照上并发执行，join 阶段按 clause_id 升序合并
// 后一次性写入黑板，任一 worker 失败则整轮失败、不接受部分结果。
//
// 每次 Agent 调用都会在黑板 history 中留下恰好一条记录，无论成功与否。
package team
