package factory

import (
	"fmt"
	"time"

	"github.com/BaSui01/imagitext/llm/endpoint"
	"github.com/BaSui01/imagitext/llm/fallback"
	"github.com/BaSui01/imagitext/llm/image"
	"github.com/BaSui01/imagitext/llm/providers"
	"github.com/BaSui01/imagitext/llm/providers/gemini"
	"github.com/BaSui01/imagitext/llm/providers/openaicompat"
	"github.com/BaSui01/imagitext/types"
	"go.uber.org/zap"
)

// ProviderConfig is the generic configuration accepted by the factory function.
type ProviderConfig struct {
	Family  string        `json:"family" yaml:"family"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// NewImageProvider creates a Provider for the configured family.
//
// Supported names: vision-llm (alias gemini), image-api (alias openai).
// An unknown family is a CONFIGURATION error, raised before any network call.
func NewImageProvider(cfg ProviderConfig, observer fallback.Observer, logger *zap.Logger) (image.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	family, ok := endpoint.ParseFamily(cfg.Family)
	if !ok {
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unsupported provider family %q (supported: vision-llm, image-api)", cfg.Family))
	}

	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}

	switch family {
	case endpoint.FamilyImageAPI:
		p := openaicompat.New(openaicompat.Config{BaseProviderConfig: base}, logger)
		if observer != nil {
			p.SetObserver(observer)
		}
		return p, nil
	default:
		p := gemini.New(gemini.Config{BaseProviderConfig: base}, logger)
		if observer != nil {
			p.SetObserver(observer)
		}
		return p, nil
	}
}

// DefaultModels returns the default analysis and generation models of a family.
func DefaultModels(family string) (analysis, generation string) {
	if f, _ := endpoint.ParseFamily(family); f == endpoint.FamilyImageAPI {
		return openaicompat.DefaultAnalysisModel, openaicompat.DefaultGenerationModel
	}
	return gemini.DefaultAnalysisModel, gemini.DefaultGenerationModel
}

// GenerationModel returns the model a family actually draws with when
// configured with name. vision-llm normalizes text-only gemini names.
func GenerationModel(family, name string) string {
	if f, _ := endpoint.ParseFamily(family); f == endpoint.FamilyImageAPI {
		return providers.ChooseModel("", name, openaicompat.DefaultGenerationModel)
	}
	return gemini.GenerationModel("", name)
}
