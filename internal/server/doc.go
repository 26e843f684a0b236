// 版权所有 2024 ContractFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 核心类型

  - Manager：单个 HTTP 服务器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/Errors/Addr 等生命周期方法。
  - Group：API 服务器与指标服务器的编组，统一启动、并行关闭，
    并在收到 SIGINT/SIGTERM 或任一成员异常退出时整体停机。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。
*/
package server
