// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 ImagiText 中继与 CLI 提供全局 TracerProvider 和 MeterProvider。
// 禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
