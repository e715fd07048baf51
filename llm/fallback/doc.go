// Copyright (c) ImagiText Authors.
// Licensed under the MIT License.

/*
Package fallback 提供端点候选列表的串行回退执行器。

Execute 按 endpoint.Plan 给出的顺序逐个调用，首个成功即返回；全部失败时
返回最后一次的分类错误。每次尝试都会生成一个 OpenTelemetry span，失败会以
Warn 级别记录到 zap，并通过 Observer 上报 Prometheus 指标。

执行器不做并发竞速，也不缓存上次成功的端点。
*/
package fallback
