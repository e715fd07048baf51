/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、优雅关闭与系统信号监听。

  - Manager：封装 net/http.Server，Start 在后台提供服务，Shutdown 在
    ShutdownTimeout 内排空请求，Wait 阻塞到 SIGINT/SIGTERM、ctx 结束或服务异常。
  - Config：监听地址、读写/空闲超时、请求头上限与关闭超时。
    写超时默认 5 分钟，覆盖较慢的图片生成请求。

中继 API 与 Prometheus 指标端口各自使用一个 Manager。
*/
package server
