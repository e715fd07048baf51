// =============================================================================
// 📦 ImagiText 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvFiles(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 带前缀环境变量 → 扁平 Provider 环境变量
// 配置只在启动时加载一次，之后不再修改。
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/imagitext/llm/endpoint"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ImagiText 的完整配置结构
type Config struct {
	// Server 中继服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Analysis 图像分析 Provider
	Analysis ProviderConfig `yaml:"analysis" env:"ANALYSIS"`

	// Generation 图像生成 Provider，未设置的字段回落到 Analysis
	Generation ProviderConfig `yaml:"generation" env:"GENERATION"`

	// Fetch 远程图片抓取限制
	Fetch FetchConfig `yaml:"fetch" env:"FETCH"`

	// Store 会话存储
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（需大于 Provider 超时，图像生成很慢）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 中继访问密钥，为空时不做认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许 ?api_key= 传递密钥
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// 同时进行的上游任务上限
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" env:"MAX_CONCURRENT_JOBS"`
	// 上传图片大小上限（字节）
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// ProviderConfig 单个 Provider 的配置
type ProviderConfig struct {
	// 协议族: vision-llm (gemini), image-api (openai)
	Family string `yaml:"family" env:"FAMILY"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL，支持 "#" 结尾（原样使用）和 "/" 结尾（忽略版本段）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 可选模型列表（/api/config 发布）
	Models []string `yaml:"models" env:"MODELS"`
	// 单次 HTTP 调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// FetchConfig 远程图片抓取配置
type FetchConfig struct {
	// 总超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大字节数
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES"`
	// 最大重定向次数
	MaxRedirects int `yaml:"max_redirects" env:"MAX_REDIRECTS"`
	// User-Agent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
}

// StoreConfig 会话存储配置
type StoreConfig struct {
	// 后端: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 条目过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 连接配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	envFiles   []string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "IMAGITEXT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvFiles 设置 .env 文件，文件不存在时忽略。
// 已存在的进程环境变量不会被 .env 覆盖。
func (l *Loader) WithEnvFiles(paths ...string) *Loader {
	l.envFiles = append(l.envFiles, paths...)
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. .env 文件注入进程环境
	if err := l.loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// 4. 从带前缀的环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 5. 扁平 Provider 环境变量（PROVIDER、API_KEY、IMG_GEN_* ...）
	applyProviderEnv(cfg, os.LookupEnv)
	cfg.resolveGeneration()

	// 6. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadEnvFiles 通过 godotenv 加载 .env 文件
func (l *Loader) loadEnvFiles() error {
	for _, path := range l.envFiles {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}
	}

	return nil
}

// splitList 按逗号切分并去掉空项
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🌍 扁平 Provider 环境变量
// =============================================================================

// lookupFunc 与 os.LookupEnv 同签名，便于测试注入
type lookupFunc func(key string) (string, bool)

// firstEnv 按顺序查找 key 及其 VITE_ 前缀形式，返回第一个非空值
func firstEnv(lookup lookupFunc, keys ...string) (string, bool) {
	for _, key := range keys {
		for _, k := range []string{key, "VITE_" + key} {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

// applyProviderEnv 应用部署时常用的扁平变量名，优先级高于 IMAGITEXT_* 形式
func applyProviderEnv(cfg *Config, lookup lookupFunc) {
	if v, ok := firstEnv(lookup, "PROVIDER", "AI_PROVIDER"); ok {
		cfg.Analysis.Family = v
	}
	if v, ok := firstEnv(lookup, "API_KEY"); ok {
		cfg.Analysis.APIKey = v
	}
	if v, ok := firstEnv(lookup, "BASE_URL", "AI_BASE_URL"); ok {
		cfg.Analysis.BaseURL = v
	}
	if v, ok := firstEnv(lookup, "MODEL", "AI_MODEL"); ok {
		cfg.Analysis.Model = v
	}

	if v, ok := firstEnv(lookup, "IMG_GEN_PROVIDER"); ok {
		cfg.Generation.Family = v
	}
	if v, ok := firstEnv(lookup, "IMG_GEN_API_KEY"); ok {
		cfg.Generation.APIKey = v
	}
	if v, ok := firstEnv(lookup, "IMG_GEN_BASE_URL"); ok {
		cfg.Generation.BaseURL = v
	}
	if v, ok := firstEnv(lookup, "IMG_GEN_MODEL"); ok {
		if models := splitList(v); len(models) > 0 {
			cfg.Generation.Models = models
			cfg.Generation.Model = models[0]
		}
	}

	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v, ok := lookup("CORS_ORIGIN"); ok && strings.TrimSpace(v) != "" {
		cfg.Server.CORSAllowedOrigins = splitList(v)
	}
}

// resolveGeneration 生成配置逐字段回落到分析配置（含 Model）。
// gemini 通用模型名在 Provider 内归一化为图像模型。
func (c *Config) resolveGeneration() {
	if c.Generation.Family == "" {
		c.Generation.Family = c.Analysis.Family
	}
	if c.Generation.APIKey == "" {
		c.Generation.APIKey = c.Analysis.APIKey
	}
	if c.Generation.BaseURL == "" {
		c.Generation.BaseURL = c.Analysis.BaseURL
	}
	if c.Generation.Timeout <= 0 {
		c.Generation.Timeout = c.Analysis.Timeout
	}
	if c.Generation.Model == "" && len(c.Generation.Models) > 0 {
		c.Generation.Model = c.Generation.Models[0]
	}
	if c.Generation.Model == "" {
		c.Generation.Model = c.Analysis.Model
	}
	if len(c.Generation.Models) == 0 && c.Generation.Model != "" {
		c.Generation.Models = []string{c.Generation.Model}
	}
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, "max_upload_bytes must be positive")
	}

	if _, ok := endpoint.ParseFamily(c.Analysis.Family); !ok {
		errs = append(errs, fmt.Sprintf("unsupported analysis provider %q", c.Analysis.Family))
	}
	if _, ok := endpoint.ParseFamily(c.Generation.Family); !ok {
		errs = append(errs, fmt.Sprintf("unsupported generation provider %q", c.Generation.Family))
	}

	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, "fetch.max_bytes must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "fetch.timeout must be positive")
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Sprintf("unsupported store backend %q", c.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
