package image

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/imagitext/types"
	"go.uber.org/zap"
)

// URLFetcher 下载用户提供的图片 URL（须已做 SSRF 校验与大小/超时限制）。
type URLFetcher interface {
	FetchImage(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// Service 是图像分析与图像生成的编排入口。
// 两个 Provider 在构造时由配置选定，之后只读，可并发调用。
type Service struct {
	analysis   Provider
	generation Provider
	fetcher    URLFetcher
	logger     *zap.Logger
}

// NewService 创建编排服务。fetcher 为 nil 时 AnalyzeURL 不可用。
func NewService(analysis, generation Provider, fetcher URLFetcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		analysis:   analysis,
		generation: generation,
		fetcher:    fetcher,
		logger:     logger.With(zap.String("component", "image_service")),
	}
}

// AnalysisProvider 返回分析使用的 Provider
func (s *Service) AnalysisProvider() Provider { return s.analysis }

// GenerationProvider 返回生成使用的 Provider
func (s *Service) GenerationProvider() Provider { return s.generation }

// Analyze 将图片转换为中英文提示词。
func (s *Service) Analyze(ctx context.Context, blob ImageBlob) (*AnalysisResult, error) {
	if s.analysis == nil || !s.analysis.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "analysis API key is not configured (set API_KEY)")
	}
	if len(blob.Data) == 0 {
		return nil, types.NewError(types.ErrBadRequest, "image data is empty")
	}
	if blob.MimeType == "" {
		blob.MimeType = "image/png"
	}

	start := time.Now()
	result, err := s.analysis.Analyze(ctx, blob)
	if err != nil {
		s.logger.Warn("image analysis failed",
			zap.String("provider", s.analysis.Name()),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("image analyzed",
		zap.String("provider", s.analysis.Name()),
		zap.Int("image_bytes", len(blob.Data)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// AnalyzeURL 下载图片后分析。
func (s *Service) AnalyzeURL(ctx context.Context, rawURL string) (*AnalysisResult, error) {
	if s.analysis == nil || !s.analysis.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "analysis API key is not configured (set API_KEY)")
	}
	if s.fetcher == nil {
		return nil, types.NewError(types.ErrConfiguration, "image URL fetching is not enabled")
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, types.NewError(types.ErrBadRequest, "image URL is required")
	}

	data, contentType, err := s.fetcher.FetchImage(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.Analyze(ctx, ImageBlob{Data: data, MimeType: contentType})
}

// Generate 根据提示词与选项生成图片，返回 data URL 或托管 URL。
func (s *Service) Generate(ctx context.Context, prompt string, opts GenerationOptions) (*GenerationResult, error) {
	if s.generation == nil || !s.generation.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "image generation API key is not configured (set IMG_GEN_API_KEY or API_KEY)")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, types.NewError(types.ErrBadRequest, "prompt is required")
	}
	ratio, ok := ParseAspectRatio(string(opts.AspectRatio))
	if !ok {
		return nil, types.NewError(types.ErrBadRequest, "unsupported aspect ratio: "+string(opts.AspectRatio))
	}
	if opts.ReferenceImage != nil && len(opts.ReferenceImage.Data) == 0 {
		opts.ReferenceImage = nil
	}

	req := &GenerateRequest{
		Prompt:         ComposePrompt(prompt, opts.Style),
		AspectRatio:    ratio,
		ReferenceImage: opts.ReferenceImage,
		Model:          opts.Model,
	}

	start := time.Now()
	result, err := s.generation.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("image generation failed",
			zap.String("provider", s.generation.Name()),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("image generated",
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.String("endpoint", result.Endpoint),
		zap.String("aspect_ratio", string(ratio)),
		zap.Bool("reference", req.ReferenceImage != nil),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
