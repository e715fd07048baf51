/*
Package handlers 提供 ImagiText 中继 HTTP API 的请求处理器。

# 核心类型

  - ImageHandler：图片分析（上传 / URL）、文生图、模型配置与会话端点
  - HealthHandler：/health、/healthz、/ready、/version
  - HealthCheck：可插拔就绪检查，PingCheck 包装任意 ping 函数
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 错误响应：WriteError 把分类错误写成 {"error","code"}，状态码由 types.StatusFor 决定
  - 请求解析：DecodeJSONBody（1 MB 上限、拒绝未知字段）；multipart 上传按
    JPEG/PNG/WEBP/GIF 白名单与大小上限校验，临时文件在返回前清理
  - 并发控制：上游任务经 golang.org/x/sync/semaphore 限流，排不上时返回 RATE_LIMITED
  - 会话：成功的分析与生成写入 cache.Session，新的生成开始前清掉上一张图
*/
package handlers
