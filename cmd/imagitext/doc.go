/*
Package main 提供 ImagiText 的中继服务与命令行入口。

# 概述

cmd/imagitext 既是浏览器前端使用的 HTTP 中继，也是可以直接在终端里
分析图片、生成图片的命令行工具。两种模式共用同一套配置加载
（默认值 → YAML → .env → 环境变量）和 Provider 装配逻辑。

# 核心类型

  - Server：中继服务器，管理 HTTP 与 Metrics 双端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、analyze、analyze-url、generate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、CORS、RateLimiter、APIKeyAuth
  - 会话存储：memory 或 redis，/ready 对其做连通性检查
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
