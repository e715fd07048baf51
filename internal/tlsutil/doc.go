// Package tlsutil 提供集中式 TLS 配置，
// 为 Provider 客户端、远程图片抓取和 Redis 连接提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 并支持在拨号时对解析后的地址做校验。
package tlsutil
