package api

// =============================================================================
// 中继请求 / 响应类型
// =============================================================================

// AnalyzeURLRequest 是 POST /api/analyze-image-url 的请求体。
// @Description 按 URL 分析图片
type AnalyzeURLRequest struct {
	// 仅接受 HTTPS 公网地址
	ImageURL string `json:"imageUrl" example:"https://images.example.com/fox.png"`
}

// GenerateRequest 是 POST /api/generate-image 的 JSON 请求体。
// multipart 形式使用同名字段，参考图放在文件字段 referenceImage。
// @Description 文生图请求
type GenerateRequest struct {
	Prompt string `json:"prompt" example:"a red fox in the snow"`
	// 1:1、16:9、9:16、4:3、3:4，空为 1:1
	AspectRatio string `json:"aspectRatio,omitempty" example:"16:9"`
	// 风格后缀，"none" 或空表示不追加
	Style string `json:"style,omitempty" example:"watercolor"`
	// 覆盖配置的生成模型
	Model string `json:"model,omitempty" example:"dall-e-3"`
	// 可选参考图，data:image/...;base64 形式
	ReferenceImage string `json:"referenceImage,omitempty"`
}

// GenerateResponse 生成结果，URL 为 data URL 或托管图片地址。
type GenerateResponse struct {
	URL      string `json:"url"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ConfigResponse 是 GET /api/config 的响应。
type ConfigResponse struct {
	Models       []string `json:"models"`
	DefaultModel string   `json:"defaultModel"`
	Provider     string   `json:"provider"`
}

// ErrorResponse 是所有中继错误的响应体，Code 为错误类别。
type ErrorResponse struct {
	Error string `json:"error" example:"Prompt is required"`
	Code  string `json:"code" example:"BAD_REQUEST"`
}
