// Package factory 提供图像 Provider 的集中式工厂，
// 通过协议族名称创建 Provider 实例，打破 llm/image 包与各 provider 子包之间的循环依赖。
package factory
