package endpoint

import "strings"

// ResolvedBaseURL 是解析后的 Base URL。
//
// 约定：
//   - 以 "#" 结尾：ForceExact，原样使用该 URL，不追加任何路径
//   - 以 "/" 结尾：IgnoreVersion，构造候选时省略版本段（如 /v1）
//
// CleanURL 永远不带尾部斜杠，两个标志互斥。
type ResolvedBaseURL struct {
	ForceExact    bool   `json:"force_exact"`
	IgnoreVersion bool   `json:"ignore_version"`
	CleanURL      string `json:"clean_url"`
}

// Resolve 解析原始 Base URL 字符串。纯字符串变换，无错误分支。
func Resolve(raw string) ResolvedBaseURL {
	if raw == "" {
		return ResolvedBaseURL{}
	}

	switch {
	case strings.HasSuffix(raw, "#"):
		return ResolvedBaseURL{
			ForceExact: true,
			CleanURL:   strings.TrimRight(strings.TrimSuffix(raw, "#"), "/"),
		}
	case strings.HasSuffix(raw, "/"):
		return ResolvedBaseURL{
			IgnoreVersion: true,
			CleanURL:      strings.TrimRight(raw, "/"),
		}
	default:
		return ResolvedBaseURL{CleanURL: raw}
	}
}
