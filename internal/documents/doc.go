// 版权所有 2024 ContractFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 documents 提供合同文档与策略手册（playbook）的持久化存储，
是运行编排核心的外部协作者。

# 核心类型

  - Document：上传的合同文本，按 doc_id 查询正文。
  - Playbook：命名的策略规则集合，规则以 JSON 序列化存储。
  - Store：基于 GORM 的存储实现，通过 database.PoolManager 访问数据库，
    可选地把查询耗时上报给指标收集器。

# 约定

  - 不存在的文档返回 NOT_FOUND；不存在的策略手册在 PolicyRules 中
    视为空规则，而不是错误。
  - Seed 在空库中写入示例文档 doc_001 与策略手册 playbook_001。
*/
package documents
