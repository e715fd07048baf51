// Package config 提供 ImagiText 的配置加载功能。
//
// 配置按 默认值 → YAML 文件 → .env → IMAGITEXT_* 环境变量 → 扁平 Provider
// 变量（PROVIDER、API_KEY、IMG_GEN_* 等）的顺序合并，启动时加载一次。
package config
