// 版权所有 2024 ContractFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，支持健康检查、
统计上报与事务重试。

# 核心类型

  - Config：驱动（postgres/mysql/sqlite）、DSN 与连接池配置。
  - PoolManager：连接池管理器，持有 GORM DB 与底层 sql.DB，
    提供 DB()、Ping()、GetStats()、Close() 等方法；
    连接池参数非正时回落到 DefaultPoolConfig。
  - StatsReporter：健康检查时接收连接数，由指标收集器实现。

# 主要能力

  - Open 按驱动选择方言，sqlite 使用纯 Go 实现，无需 cgo。
  - 后台探活：定时 PingContext 并上报连接数，Close 时取消。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry
    对死锁、序列化失败、sqlite 锁与 driver.ErrBadConn 做指数退避重试。
*/
package database
