// Package api 定义 ImagiText 中继 HTTP API 的请求与响应类型。
//
// # API Overview
//
// 中继用服务端持有的 API Key 转发与客户端相同的 Provider 调用：
//   - POST /api/analyze-image      multipart 字段 image（JPEG/PNG/WEBP/GIF，≤10 MiB）
//   - POST /api/analyze-image-url  JSON {imageUrl}
//   - POST /api/generate-image     JSON {prompt, aspectRatio, style, model} 或 multipart
//   - GET  /api/config             生成模型列表与默认模型
//   - GET / DELETE /api/session    最近一次分析与生成结果
//   - GET  /health /healthz /ready /version
//
// 错误统一返回 {"error": "...", "code": "<CATEGORY>"}，HTTP 状态由类别决定。
//
// # Authentication
//
// 配置了 server.api_keys 时，/api/* 需要携带：
//
//	X-API-Key: your-api-key
//
// # Base URL
//
//	http://localhost:3001
//
// Prometheus 指标在单独的端口（默认 9091）的 /metrics。
package api
