// 版权所有 2024 ContractFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、Agent、运行状态、审批关卡与数据库五个维度。

# 核心类型

  - Collector：指标收集器，按业务域分组持有 Counter、Histogram、Gauge。
    它实现协调器的观察者接口（ObserveAgent/ObserveTransition/ObserveGate）
    与连接池的统计上报接口（RecordDBConnections）。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - Agent 指标：按 team/agent/stage 统计执行次数与耗时。
  - 运行指标：状态转换计数、活跃运行数、按终态统计的完成数。
  - 关卡指标：待决关卡数、决定结果计数、关卡等待时长。
  - 数据库指标：活跃/空闲连接数与查询耗时。
*/
package metrics
