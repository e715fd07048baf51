package gemini

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/imagitext/internal/tlsutil"
	"github.com/BaSui01/imagitext/llm/endpoint"
	"github.com/BaSui01/imagitext/llm/fallback"
	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/llm/providers"
	"github.com/BaSui01/imagitext/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL 官方 generateContent 服务地址
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	DefaultAnalysisModel   = "gemini-2.5-flash"
	DefaultGenerationModel = "gemini-2.5-flash-image"
)

// Config vision-llm 协议族配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
}

// Provider 实现 vision-llm 协议族：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 分析与生成都走 /models/{model}:generateContent
// 3. 分析使用 responseSchema 约束输出两键 JSON
// 4. 生成结果以 inlineData 图片分片返回
type Provider struct {
	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	observer fallback.Observer
}

// New 创建 vision-llm Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.EffectiveTimeout()),
		logger: logger.With(zap.String("provider", string(endpoint.FamilyVisionLLM))),
	}
}

// SetObserver 设置端点尝试的指标观察者
func (p *Provider) SetObserver(obs fallback.Observer) { p.observer = obs }

func (p *Provider) Name() string { return string(endpoint.FamilyVisionLLM) }

func (p *Provider) Configured() bool { return p.cfg.APIKey != "" }

// GenerationModel 返回生成实际使用的模型（含通用名称归一化）
func GenerationModel(override, configured string) string {
	model := providers.ChooseModel(override, configured, DefaultGenerationModel)
	// 通用文本模型名无法出图，归一化到图像模型
	if model == "gemini" || model == "gemini-2.5-flash" {
		model = DefaultGenerationModel
	}
	return model
}

func (p *Provider) plan(op endpoint.Operation, model string) endpoint.Candidates {
	return endpoint.Plan(endpoint.Resolve(p.cfg.BaseURL), DefaultBaseURL, endpoint.FamilyVisionLLM, op,
		endpoint.PlanOptions{Model: model})
}

// ===== 🎯 图像分析 =====

// Analyze 实现 image.Provider
func (p *Provider) Analyze(ctx context.Context, blob image.ImageBlob) (*image.AnalysisResult, error) {
	if !p.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "vision-llm API key is not configured").WithProvider(p.Name())
	}

	model := providers.ChooseModel("", p.cfg.Model, DefaultAnalysisModel)
	body := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: blob.MimeType, Data: blob.Base64()}},
				{Text: image.SystemPrompt},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   analysisSchema(),
		},
	}

	return fallback.Execute(ctx, p.plan(endpoint.OpAnalyze, model),
		func(ctx context.Context, cand endpoint.Candidate) (*image.AnalysisResult, error) {
			data, err := providers.PostJSON(ctx, p.client, cand.URL, p.cfg.APIKey, p.Name(), providers.GoogleAPIKeyHeaders, body)
			if err != nil {
				return nil, err
			}
			return p.parseAnalysis(data)
		},
		p.fallbackOptions(endpoint.OpAnalyze))
}

func (p *Provider) parseAnalysis(data []byte) (*image.AnalysisResult, error) {
	text, blocked := collectText(data)
	if text == "" {
		if blocked != "" {
			return nil, types.NewError(types.ErrUnsupported, "request blocked: "+blocked).WithProvider(p.Name())
		}
		return nil, providers.EmptyResponseError("vision-llm returned no text", p.Name())
	}

	result, err := image.ParseAnalysis(text)
	if err != nil {
		return nil, types.NewError(types.ErrParse, "failed to parse analysis result").WithCause(err).WithProvider(p.Name())
	}
	return result, nil
}

// ===== 🎯 图像生成 =====

// Generate 实现 image.Provider
func (p *Provider) Generate(ctx context.Context, req *image.GenerateRequest) (*image.GenerationResult, error) {
	if !p.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "vision-llm API key is not configured").WithProvider(p.Name())
	}

	model := GenerationModel(req.Model, p.cfg.Model)

	parts := make([]part, 0, 2)
	if ref := req.ReferenceImage; ref != nil {
		parts = append(parts,
			part{InlineData: &inlineData{MimeType: ref.MimeType, Data: ref.Base64()}},
			part{Text: image.ReferencePrefix + req.Prompt},
		)
	} else {
		parts = append(parts, part{Text: req.Prompt})
	}

	body := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: string(req.AspectRatio)},
		},
	}

	return fallback.Execute(ctx, p.plan(endpoint.OpGenerate, model),
		func(ctx context.Context, cand endpoint.Candidate) (*image.GenerationResult, error) {
			data, err := providers.PostJSON(ctx, p.client, cand.URL, p.cfg.APIKey, p.Name(), providers.GoogleAPIKeyHeaders, body)
			if err != nil {
				return nil, err
			}
			img, err := p.extractImage(data)
			if err != nil {
				return nil, err
			}
			return &image.GenerationResult{
				Image:     img,
				Provider:  p.Name(),
				Model:     model,
				Endpoint:  cand.URL,
				CreatedAt: time.Now(),
			}, nil
		},
		p.fallbackOptions(endpoint.OpGenerate))
}

// extractImage 扫描返回分片：首个内联图片即结果；只有文本视为拒绝生成。
func (p *Provider) extractImage(data []byte) (string, error) {
	var refusal strings.Builder
	for _, pt := range gjson.GetBytes(data, "candidates.0.content.parts").Array() {
		inline := pt.Get("inlineData")
		if !inline.Exists() {
			inline = pt.Get("inline_data")
		}
		if b64 := inline.Get("data").String(); b64 != "" {
			mime := inline.Get("mimeType").String()
			if mime == "" {
				mime = inline.Get("mime_type").String()
			}
			return image.DataURL(mime, b64), nil
		}
		if pt.Get("thought").Bool() {
			continue
		}
		refusal.WriteString(pt.Get("text").String())
	}

	if text := strings.TrimSpace(refusal.String()); text != "" {
		return "", types.NewError(types.ErrUnsupported, "model declined to generate an image: "+text).WithProvider(p.Name())
	}
	if reason := gjson.GetBytes(data, "promptFeedback.blockReason").String(); reason != "" {
		return "", types.NewError(types.ErrUnsupported, "request blocked: "+reason).WithProvider(p.Name())
	}
	return "", providers.EmptyResponseError("vision-llm returned neither image nor text", p.Name())
}

func (p *Provider) fallbackOptions(op endpoint.Operation) fallback.Options {
	return fallback.Options{
		Family:    p.Name(),
		Operation: string(op),
		Logger:    p.logger,
		Observer:  p.observer,
	}
}

// collectText 拼接首个候选的文本分片（跳过思考分片），并返回可能的拦截原因。
func collectText(data []byte) (string, string) {
	var sb strings.Builder
	for _, pt := range gjson.GetBytes(data, "candidates.0.content.parts").Array() {
		if pt.Get("thought").Bool() {
			continue
		}
		sb.WriteString(pt.Get("text").String())
	}
	return strings.TrimSpace(sb.String()), gjson.GetBytes(data, "promptFeedback.blockReason").String()
}
