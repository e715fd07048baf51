/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP 中继、
Provider 端点尝试、远程图片抓取与会话存储。

# 核心类型

  - Collector：通过 promauto 注册到默认 Registry，按 namespace 隔离。
    它同时实现 fallback.Observer、fetch.Observer 与 cache.Observer，
    组装时直接注入各组件。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - Provider 指标：每次端点尝试按 family/operation/outcome/code 计数，
    以及单次尝试耗时。
  - 操作指标：分析与生成的整体结果、耗时，以及占用并发槽位的任务数。
  - 抓取与存储指标：抓取结果与图片大小，存储命中/未命中/错误计数。
*/
package metrics
