// Package safeurl 提供 SSRF 防护：只允许 https，拒绝 localhost、回环、
// 私有、链路本地、组播与保留地址。
package safeurl
