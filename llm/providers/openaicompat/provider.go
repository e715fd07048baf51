// =============================================================================
// ImagiText image-api Provider
// =============================================================================
// OpenAI-shaped family: chat/completions for analysis, images/generations
// (with chat/completions as a gateway fallback) for generation. Works against
// the official API as well as proxies and self-hosted gateways.
// =============================================================================

package openaicompat

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
	// DefaultBaseURL is the official API host; paths are appended by the planner.
	DefaultBaseURL = "https://api.openai.com"

	DefaultAnalysisModel   = "gpt-4o"
	DefaultGenerationModel = "dall-e-3"
)

// Config holds the configuration for the image-api family.
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string) `json:"-" yaml:"-"`
}

// Provider implements image.Provider for the image-api family.
type Provider struct {
	Cfg      Config
	Client   *http.Client
	Logger   *zap.Logger
	observer fallback.Observer
}

// New creates a new image-api provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BuildHeaders == nil {
		cfg.BuildHeaders = providers.BearerTokenHeaders
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.EffectiveTimeout()),
		Logger: logger.With(zap.String("provider", string(endpoint.FamilyImageAPI))),
	}
}

// SetObserver sets the metrics observer for endpoint attempts.
func (p *Provider) SetObserver(obs fallback.Observer) { p.observer = obs }

// Name returns the family label.
func (p *Provider) Name() string { return string(endpoint.FamilyImageAPI) }

// Configured reports whether an API key is present.
func (p *Provider) Configured() bool { return p.Cfg.APIKey != "" }

func (p *Provider) plan(op endpoint.Operation, hasReference bool) endpoint.Candidates {
	return endpoint.Plan(endpoint.Resolve(p.Cfg.BaseURL), DefaultBaseURL, endpoint.FamilyImageAPI, op,
		endpoint.PlanOptions{HasReference: hasReference})
}

func (p *Provider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	return providers.PostJSON(ctx, p.Client, url, p.Cfg.APIKey, p.Name(), p.Cfg.BuildHeaders, payload)
}

func (p *Provider) fallbackOptions(op endpoint.Operation) fallback.Options {
	return fallback.Options{
		Family:    p.Name(),
		Operation: string(op),
		Logger:    p.Logger,
		Observer:  p.observer,
	}
}

// ===== 🎯 Analysis =====

// Analyze implements image.Provider.
func (p *Provider) Analyze(ctx context.Context, blob image.ImageBlob) (*image.AnalysisResult, error) {
	if !p.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "image-api API key is not configured").WithProvider(p.Name())
	}

	body := chatRequest{
		Model: providers.ChooseModel("", p.Cfg.Model, DefaultAnalysisModel),
		Messages: []chatMessage{
			{Role: "system", Content: image.JSONSystemMessage},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: image.SystemPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: blob.DataURL()}},
			}},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	return fallback.Execute(ctx, p.plan(endpoint.OpAnalyze, false),
		func(ctx context.Context, cand endpoint.Candidate) (*image.AnalysisResult, error) {
			data, err := p.post(ctx, cand.URL, body)
			if err != nil {
				return nil, err
			}
			text := chatContent(data)
			if text == "" {
				return nil, providers.EmptyResponseError("image-api returned no message content", p.Name())
			}
			result, err := image.ParseAnalysis(text)
			if err != nil {
				return nil, types.NewError(types.ErrParse, "failed to parse analysis result").WithCause(err).WithProvider(p.Name())
			}
			return result, nil
		},
		p.fallbackOptions(endpoint.OpAnalyze))
}

// ===== 🎯 Generation =====

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req *image.GenerateRequest) (*image.GenerationResult, error) {
	if !p.Configured() {
		return nil, types.NewError(types.ErrConfiguration, "image-api API key is not configured").WithProvider(p.Name())
	}

	model := providers.ChooseModel(req.Model, p.Cfg.Model, DefaultGenerationModel)
	imagesBody := imagesRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           req.AspectRatio.PixelSize(),
		ResponseFormat: "b64_json",
	}
	chatBody := generationChatRequest(model, req)

	return fallback.Execute(ctx, p.plan(endpoint.OpGenerate, req.ReferenceImage != nil),
		func(ctx context.Context, cand endpoint.Candidate) (*image.GenerationResult, error) {
			var payload any = imagesBody
			if cand.Shape == endpoint.ShapeChatCompletions {
				payload = chatBody
			}
			data, err := p.post(ctx, cand.URL, payload)
			if err != nil {
				return nil, err
			}
			img, ok := ExtractImage(data)
			if !ok {
				return nil, providers.EmptyResponseError("no image data in response", p.Name())
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

// generationChatRequest builds the chat-shaped generation payload used by
// gateways that multiplex image models through chat/completions.
// Only this shape can carry a reference image.
func generationChatRequest(model string, req *image.GenerateRequest) chatRequest {
	prompt := req.Prompt
	parts := make([]contentPart, 0, 2)
	if ref := req.ReferenceImage; ref != nil {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: ref.DataURL()}})
		prompt = image.ReferencePrefix + prompt
	}
	parts = append(parts, contentPart{Type: "text", Text: prompt})

	return chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	}
}

// ExtractImage picks the image out of a response body:
// b64_json first, then a hosted url, then chat content that is itself a data URL.
func ExtractImage(data []byte) (string, bool) {
	if b64 := gjson.GetBytes(data, "data.0.b64_json").String(); b64 != "" {
		return image.DataURL("image/png", b64), true
	}
	if u := gjson.GetBytes(data, "data.0.url").String(); u != "" {
		return u, true
	}
	if content := gjson.GetBytes(data, "choices.0.message.content"); content.Type == gjson.String {
		if s := strings.TrimSpace(content.String()); strings.HasPrefix(s, "data:image") {
			return s, true
		}
	}
	return "", false
}

// chatContent returns choices[0].message.content, joining text parts when the
// gateway answers with an array of content parts.
func chatContent(data []byte) string {
	content := gjson.GetBytes(data, "choices.0.message.content")
	if content.IsArray() {
		var sb strings.Builder
		for _, part := range content.Array() {
			sb.WriteString(part.Get("text").String())
		}
		return strings.TrimSpace(sb.String())
	}
	return strings.TrimSpace(content.String())
}
