// 包 image 定义图像理解与图像生成的统一接口及编排服务.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// ImageBlob 是一张待发送给上游的图片。
type ImageBlob struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// Base64 返回标准 base64 编码。
func (b ImageBlob) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// DataURL 返回 data:<mime>;base64,<data> 形式。
func (b ImageBlob) DataURL() string {
	return DataURL(b.MimeType, b.Base64())
}

// DataURL 拼接 data URL。mime 为空时按 image/png 处理。
func DataURL(mimeType, b64 string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + b64
}

// ErrInvalidDataURL 不是 base64 形式的 data:image/... URL
var ErrInvalidDataURL = errors.New("invalid image data URL")

// ParseDataURL 解析 data:image/<type>;base64,<data>
func ParseDataURL(s string) (ImageBlob, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return ImageBlob{}, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return ImageBlob{}, ErrInvalidDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || !strings.HasPrefix(mimeType, "image/") {
		return ImageBlob{}, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return ImageBlob{}, ErrInvalidDataURL
	}
	return ImageBlob{Data: data, MimeType: mimeType}, nil
}

// AnalysisResult 是一次成功的图像分析结果：同一提示词的中英文版本。
type AnalysisResult struct {
	English string `json:"english"`
	Chinese string `json:"chinese"`
}

// AspectRatio 目标宽高比。
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
	AspectLandscape AspectRatio = "4:3"
	AspectPortrait  AspectRatio = "3:4"
)

// ParseAspectRatio 解析宽高比，空字符串视为 1:1。
func ParseAspectRatio(s string) (AspectRatio, bool) {
	switch AspectRatio(s) {
	case "":
		return AspectSquare, true
	case AspectSquare, AspectWide, AspectTall, AspectLandscape, AspectPortrait:
		return AspectRatio(s), true
	default:
		return "", false
	}
}

// PixelSize 映射到 images/generations 支持的离散尺寸。
// 4:3 / 3:4 没有精确档位，按方向取最近的档位。
func (a AspectRatio) PixelSize() string {
	switch a {
	case AspectWide, AspectLandscape:
		return "1792x1024"
	case AspectTall, AspectPortrait:
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

// GenerationOptions 是调用方提供的生成参数，只读。
type GenerationOptions struct {
	AspectRatio    AspectRatio `json:"aspect_ratio"`
	Style          string      `json:"style,omitempty"` // "none" 或空表示不追加风格
	ReferenceImage *ImageBlob  `json:"-"`
	Model          string      `json:"model,omitempty"`
}

// GenerateRequest 是下发到 Provider 的生成请求（提示词已组合风格后缀）。
type GenerateRequest struct {
	Prompt         string
	AspectRatio    AspectRatio
	ReferenceImage *ImageBlob
	Model          string
}

// GenerationResult 图像生成结果。Image 是 data URL 或托管图片 URL。
type GenerationResult struct {
	Image     string    `json:"image"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Endpoint  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider 定义一个协议族的图像理解与生成能力。
// 两个实现（vision-llm / image-api）由配置选择。
type Provider interface {
	// Name 返回协议族标签
	Name() string

	// Configured 报告是否配置了 API Key
	Configured() bool

	// Analyze 将图片转换为中英文提示词
	Analyze(ctx context.Context, blob ImageBlob) (*AnalysisResult, error)

	// Generate 根据提示词生成图片
	Generate(ctx context.Context, req *GenerateRequest) (*GenerationResult, error)
}
