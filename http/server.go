// Package http 提供评分服务的HTTP接口
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"churnrisk/ml"
	"churnrisk/monitoring"
	"churnrisk/pipeline"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
	PreviewRows    int
	RateLimit      RateLimitConfig
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: 32 << 20,
		PreviewRows:    20,
		RateLimit:      RateLimitConfig{RequestsPerSecond: 10, Burst: 20, MaxClients: 4096},
	}
}

// RunLister 读取最近的运行记录
type RunLister func(limit int) ([]pipeline.RunSummary, error)

// Deps 处理器依赖；Predictor之外均可为空
type Deps struct {
	Predictor *pipeline.Predictor
	Model     ml.Info
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
	Hub       *monitoring.Hub
	Runs      RunLister
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, deps),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			WriteTimeout:      config.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// NewHandler 注册路由并套上中间件链
func NewHandler(config ServerConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.PreviewRows <= 0 {
		config.PreviewRows = DefaultServerConfig().PreviewRows
	}

	mux := http.NewServeMux()
	api := &API{deps: deps, previewRows: config.PreviewRows}
	api.Register(mux)

	middlewares := []Middleware{
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger, deps.Metrics, routeOf(mux)),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
	}
	if config.RateLimit.RequestsPerSecond > 0 {
		limiter := NewRateLimiter(config.RateLimit, deps.Metrics)
		middlewares = append(middlewares, limiter.Middleware)
	}
	if config.MaxUploadBytes > 0 {
		middlewares = append(middlewares, RequestSizeMiddleware(config.MaxUploadBytes))
	}
	return Chain(middlewares...)(mux)
}

// routeOf 返回请求匹配的路由模式，用作指标标签
func routeOf(mux *http.ServeMux) func(*http.Request) string {
	return func(r *http.Request) string {
		if _, pattern := mux.Handler(r); pattern != "" {
			return pattern
		}
		return "unmatched"
	}
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown 优雅停止服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
