// Package fetch 提供受限的远程图片下载。
//
// 请求前用 safeurl.Check 校验地址，重定向最多 3 次且每一跳都重新校验，
// 连接时由 safeurl.DialGuard 拦截解析到私有网段的域名。
// 超时返回 FETCH_TIMEOUT，其余失败返回 BAD_REQUEST 或 UNSAFE_URL。
package fetch
