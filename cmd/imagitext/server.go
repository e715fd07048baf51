package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BaSui01/imagitext/api/handlers"
	"github.com/BaSui01/imagitext/config"
	"github.com/BaSui01/imagitext/internal/cache"
	"github.com/BaSui01/imagitext/internal/metrics"
	"github.com/BaSui01/imagitext/internal/server"
	"github.com/BaSui01/imagitext/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ImagiText 中继服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	imageHandler  *handlers.ImageHandler
	handler       http.Handler

	// 指标收集器
	metricsCollector *metrics.Collector

	store     cache.Store
	telemetry *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 装配全部组件但不监听端口。
// collector 为空时不记录指标；telemetry 可为空。
func NewServer(cfg *config.Config, collector *metrics.Collector, tp *telemetry.Providers, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:              cfg,
		logger:           logger,
		metricsCollector: collector,
		telemetry:        tp,
	}
	if err := s.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}
	s.handler = s.buildHandler()
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() error {
	var obs observers
	if s.metricsCollector != nil {
		obs = observers{
			attempts: s.metricsCollector,
			fetch:    s.metricsCollector,
			store:    s.metricsCollector,
		}
	}

	store, err := newSessionStore(s.cfg.Store, obs.store, s.logger)
	if err != nil {
		return err
	}
	s.store = store

	service, err := newImageService(s.cfg, obs, s.logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	session := cache.NewSession(store, s.logger)

	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", session.Ping))

	s.imageHandler = handlers.NewImageHandler(service, session, handlers.ImageHandlerConfig{
		MaxUploadBytes:    s.cfg.Server.MaxUploadBytes,
		MaxConcurrentJobs: int64(s.cfg.Server.MaxConcurrentJobs),
		Models:            handlers.ModelOptions(s.cfg.Generation.Models, s.cfg.Analysis.Model, s.cfg.Generation.Family),
		Provider:          s.cfg.Generation.Family,
	}, s.logger)
	if s.metricsCollector != nil {
		s.imageHandler.SetObserver(s.metricsCollector)
	}

	s.logger.Info("handlers initialized",
		zap.String("analysis_provider", s.cfg.Analysis.Family),
		zap.String("generation_provider", s.cfg.Generation.Family),
		zap.String("store", s.cfg.Store.Backend),
	)
	return nil
}

// buildHandler 注册路由并套上中间件链
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	// 图像 API
	mux.HandleFunc("POST /api/analyze-image", s.imageHandler.HandleAnalyzeImage)
	mux.HandleFunc("POST /api/analyze-image-url", s.imageHandler.HandleAnalyzeImageURL)
	mux.HandleFunc("POST /api/generate-image", s.imageHandler.HandleGenerateImage)
	mux.HandleFunc("GET /api/config", s.imageHandler.HandleConfig)
	mux.HandleFunc("GET /api/session", s.imageHandler.HandleSession)
	mux.HandleFunc("DELETE /api/session", s.imageHandler.HandleSession)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
	}
	if s.metricsCollector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	middlewares = append(middlewares,
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	return Chain(mux, middlewares...)
}

// Handler 返回带中间件的根 handler
func (s *Server) Handler() http.Handler { return s.handler }

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动中继与 Metrics 两个端口
func (s *Server) Start() error {
	s.httpManager = server.NewManager(s.handler, server.Config{
		Name:            "relay",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞到收到信号、ctx 结束或中继异常退出
func (s *Server) Wait(ctx context.Context) error {
	if s.httpManager == nil {
		<-ctx.Done()
		return nil
	}
	return s.httpManager.Wait(ctx)
}

// Shutdown 依次关闭 HTTP、Metrics、会话存储与遥测
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("session store close error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
