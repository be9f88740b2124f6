package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"AIWeb3-Agents/internal/auth"
	"AIWeb3-Agents/internal/observability/metrics"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/pkg/logger"
)

// Config 控制 HTTP 服务的监听、超时与限流。
type Config struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Server 对外提供 HTTP 接口。
type Server struct {
	cfg      Config
	registry *tools.Registry
	limiter  *rate.Limiter
	auth     *auth.Service
	records  records.Store
	mcpPath  string
	mcp      http.Handler
	engine   *gin.Engine
	log      *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithMCP 在 path 上挂载 MCP streamable HTTP 处理器。
func WithMCP(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" && h != nil {
			s.mcpPath = path
			s.mcp = h
		}
	}
}

// WithAuth 启用 API Key 认证。svc 未配置任何 Key 时不生效。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		if svc.Enabled() {
			s.auth = svc
		}
	}
}

// WithRecords 通过 GET /records 暴露最近的工具调用记录。
func WithRecords(store records.Store) Option {
	return func(s *Server) {
		s.records = store
	}
}

// NewServer 创建 HTTP 服务并注册路由。
func NewServer(cfg Config, registry *tools.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.observe())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/tools", s.authorize(auth.PermissionRead), s.handleListTools)
	if s.records != nil {
		r.GET("/records", s.authorize(auth.PermissionRead), s.handleListRecords)
	}

	limited := r.Group("/", s.authorize(auth.PermissionInvoke), s.rateLimit(), bodyLimit(1<<20))
	limited.POST("/transfer/balance", s.handleBalance)
	limited.POST("/transfer/simulate", s.handleSimulate)
	limited.POST("/transfer/send", s.handleSend)
	limited.POST("/tools/:name", s.handleTool)

	if s.mcp != nil {
		r.Any(s.mcpPath, s.authorize(auth.PermissionRead, auth.PermissionInvoke), gin.WrapH(s.mcp))
	}
	return r
}

// Handler 返回底层 HTTP 处理器，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动 HTTP 服务，直到 ctx 取消后优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.engine),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务启动", slog.String("address", s.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
