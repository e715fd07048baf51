// =============================================================================
// 📦 ImagiText 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// 会话存储后端
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Analysis:   DefaultProviderConfig(),
		Generation: ProviderConfig{},
		Fetch:      DefaultFetchConfig(),
		Store:      DefaultStoreConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           3001,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Minute,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		MaxConcurrentJobs:  8,
		MaxUploadBytes:     10 << 20,
	}
}

// DefaultProviderConfig 返回默认分析 Provider 配置。
// 生成配置默认全部为空，加载完成后逐字段回落到分析配置。
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Family:  "vision-llm",
		Timeout: 2 * time.Minute,
	}
}

// DefaultFetchConfig 返回默认远程抓取配置
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:      10 * time.Second,
		MaxBytes:     10 << 20,
		MaxRedirects: 3,
		UserAgent:    "ImagiText/1.0",
	}
}

// DefaultStoreConfig 返回默认会话存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: StoreMemory,
		TTL:     24 * time.Hour,
		Redis:   DefaultRedisConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "imagitext",
		SampleRate:   0.1,
	}
}
