// Package config 提供 ContractFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → CONTRACTFLOW_* 环境变量 的顺序叠加，
// 覆盖服务器、运行编排、运行存储、Redis、数据库、日志与遥测各部分。
package config
