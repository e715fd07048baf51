package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/imagitext/types"
	"github.com/tidwall/gjson"
)

// maxResponseBytes 单次上游响应体读取上限（base64 图片可能较大）
var maxResponseBytes int64 = 64 << 20

// MapHTTPError 将 HTTP 状态码映射为分类错误。
// 这是所有协议族使用的通用错误映射函数，只做标注，不做重试。
func MapHTTPError(status int, msg string, provider string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &types.Error{
		Message:    msg,
		HTTPStatus: status,
		Provider:   provider,
	}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = types.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = types.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
	case status >= 500:
		e.Code = types.ErrServerError
	default:
		// 400 以及其余 4xx（404/405/413 等，常见于网关路径不匹配）
		e.Code = types.ErrBadRequest
	}
	return e
}

// NetworkError 包装传输层失败（未收到任何响应）。
func NetworkError(err error, provider string) *types.Error {
	return &types.Error{
		Code:     types.ErrNetwork,
		Message:  err.Error(),
		Provider: provider,
		Cause:    err,
	}
}

// EmptyResponseError 成功响应中没有可用载荷。
func EmptyResponseError(msg, provider string) *types.Error {
	return &types.Error{Code: types.ErrEmptyResponse, Message: msg, Provider: provider}
}

// statusInMessage 只认带上下文的状态码（"status 401"、"HTTP/1.1 502"、"(429)"），
// 地址端口等裸数字不算。
var statusInMessage = regexp.MustCompile(
	`(?i)(?:\b(?:status(?:[ _]?code)?|http(?:/[\d.]+)?|code|returned|error)\s*[:=]?\s*\(?([45]\d\d)\b|\(([45]\d\d)\))`)

// ClassifyMessage 从错误消息文本中尽力推断分类。
// 仅在拿不到结构化状态码时使用（例如嵌套调用重新抛出的错误）。
func ClassifyMessage(msg string) types.ErrorCode {
	if m := statusInMessage.FindStringSubmatch(msg); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		status, _ := strconv.Atoi(digits)
		return MapHTTPError(status, msg, "").Code
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"):
		return types.ErrUnauthorized
	case strings.Contains(lower, "forbidden"), strings.Contains(lower, "permission denied"):
		return types.ErrForbidden
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"), strings.Contains(lower, "quota"):
		return types.ErrRateLimited
	case strings.Contains(lower, "safety"), strings.Contains(lower, "content policy"), strings.Contains(lower, "blocked"):
		return types.ErrUnsupported
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"), strings.Contains(lower, "network"), strings.Contains(lower, "eof"):
		return types.ErrNetwork
	default:
		return ""
	}
}

// Classify 将任意错误归入分类体系。已分类的错误原样返回。
func Classify(err error, provider string) *types.Error {
	if err == nil {
		return nil
	}
	if e, ok := types.AsError(err); ok {
		return e
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return NetworkError(err, provider)
	}

	code := ClassifyMessage(err.Error())
	if code == "" {
		code = types.ErrNetwork
	}
	return &types.Error{Code: code, Message: err.Error(), Provider: provider, Cause: err}
}

// ReadErrorMessage 读取响应体中的错误消息。
// 依次尝试常见错误信封，失败则回退到原始文本。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return "failed to read error response"
	}
	return ErrorMessageFromBytes(data)
}

// ErrorMessageFromBytes 从已读取的错误响应体中提取 provider 消息。
func ErrorMessageFromBytes(data []byte) string {
	if gjson.ValidBytes(data) {
		for _, path := range []string{"error.message", "errors.message", "errors.0.message", "message", "error"} {
			if v := gjson.GetBytes(data, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return strings.TrimSpace(string(data))
}

// BearerTokenHeaders 是标准的 Bearer token 认证 header 构建函数。
func BearerTokenHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Authorization", "Bearer "+apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// GoogleAPIKeyHeaders 是 generateContent 协议的认证 header 构建函数。
func GoogleAPIKeyHeaders(r *http.Request, apiKey string) {
	r.Header.Set("x-goog-api-key", apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// ChooseModel 按 请求覆盖 > 配置 > 兜底 的顺序选择模型
func ChooseModel(override, configured, fallback string) string {
	if override != "" {
		return override
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// PostJSON 向单个端点发送一次 JSON 请求，返回 2xx 响应体。
// 非 2xx 解析 provider 错误消息并分类；传输失败归为 NETWORK。不在内部重试。
func PostJSON(ctx context.Context, client *http.Client, url, apiKey, provider string,
	buildHeaders func(*http.Request, string), payload any) ([]byte, error) {

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to marshal request").WithCause(err).WithProvider(provider)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("invalid endpoint %q", url)).WithCause(err).WithProvider(provider)
	}
	buildHeaders(httpReq, apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, NetworkError(err, provider)
	}
	defer SafeCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), provider)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, NetworkError(err, provider)
	}
	if int64(len(data)) > maxResponseBytes {
		return nil, types.NewError(types.ErrServerError,
			fmt.Sprintf("upstream response too large (limit %d bytes)", maxResponseBytes)).
			WithProvider(provider)
	}
	return data, nil
}
