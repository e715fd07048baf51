/*
包 cache 提供会话键值存储，记录最近一次分析结果与最近一次生成的图片。

# 核心类型

  - Store：GetJSON/SetJSON/Delete/Ping/Close 接口。
  - Manager：基于 go-redis 的实现，支持默认 TTL、可选 TLS 与后台健康检查。
  - MemoryStore：进程内实现，未配置 Redis 时使用。
  - Session：在 Store 之上读写固定键 imagitext:last_analysis 与
    imagitext:last_image，写入失败只记日志。

# 错误语义

键不存在或过期返回 ErrCacheMiss（IsCacheMiss 判断），关闭后返回 ErrClosed。
*/
package cache
