package main

import (
	"fmt"

	"github.com/BaSui01/imagitext/config"
	"github.com/BaSui01/imagitext/internal/cache"
	"github.com/BaSui01/imagitext/internal/fetch"
	"github.com/BaSui01/imagitext/llm/factory"
	"github.com/BaSui01/imagitext/llm/fallback"
	"github.com/BaSui01/imagitext/llm/image"
	"go.uber.org/zap"
)

// =============================================================================
// 🔧 组件装配（serve 与 CLI 子命令共用）
// =============================================================================

// observers 可选的指标钩子，CLI 模式下全部为空
type observers struct {
	attempts fallback.Observer
	fetch    fetch.Observer
	store    cache.Observer
}

func providerConfig(c config.ProviderConfig) factory.ProviderConfig {
	return factory.ProviderConfig{
		Family:  c.Family,
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Timeout: c.Timeout,
	}
}

// newImageService 按配置创建分析 / 生成 Provider 与远程抓取器
func newImageService(cfg *config.Config, obs observers, logger *zap.Logger) (*image.Service, error) {
	analysis, err := factory.NewImageProvider(providerConfig(cfg.Analysis), obs.attempts, logger)
	if err != nil {
		return nil, fmt.Errorf("analysis provider: %w", err)
	}
	generation, err := factory.NewImageProvider(providerConfig(cfg.Generation), obs.attempts, logger)
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UserAgent:    cfg.Fetch.UserAgent,
	}, logger)
	if obs.fetch != nil {
		fetcher.SetObserver(obs.fetch)
	}

	if !analysis.Configured() {
		logger.Warn("analysis provider has no API key, upstream calls will fail",
			zap.String("provider", analysis.Name()))
	}

	return image.NewService(analysis, generation, fetcher, logger), nil
}

// newSessionStore 按 store.backend 创建会话存储
func newSessionStore(cfg config.StoreConfig, obs cache.Observer, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		rc := cache.DefaultConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.DefaultTTL = cfg.TTL
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = cfg.Redis.MinIdleConns
		}
		m, err := cache.NewManager(rc, logger)
		if err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		if obs != nil {
			m.SetObserver(obs)
		}
		return m, nil
	case config.StoreMemory, "":
		s := cache.NewMemoryStore(cfg.TTL)
		if obs != nil {
			s.SetObserver(obs)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
