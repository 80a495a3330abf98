package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Connector는 sheet updater를 HTTP로 노출하는 gin 서버입니다.
type Connector struct {
	logger     *zap.Logger
	controller *controller.Controller
	config     common.ServerConfig
	opMetrics  *operator.Metrics
	engine     *gin.Engine
	httpServer *http.Server
}

// ServerOption은 Connector 옵션입니다.
type ServerOption func(*Connector)

// WithOperatorMetrics는 /metrics 에 노출할 operator 메트릭을 지정합니다.
// 지정하지 않으면 /metrics 는 controller 메트릭만 반환합니다.
func WithOperatorMetrics(m *operator.Metrics) ServerOption {
	return func(s *Connector) {
		if m != nil {
			s.opMetrics = m
		}
	}
}

// NewServer는 새로운 connector 서버를 생성하고 라우트를 등록합니다.
func NewServer(logger *zap.Logger, ctrl *controller.Controller, cfg common.ServerConfig, opts ...ServerOption) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Connector{
		logger:     logger.Named("connector"),
		controller: ctrl,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Addr == "" {
		s.config.Addr = ":8080"
	}
	if s.config.ShutdownTimeout <= 0 {
		s.config.ShutdownTimeout = 10 * time.Second
	}
	s.engine = s.newRouter()
	return s
}

// Handler는 라우트가 등록된 http.Handler를 반환합니다.
func (s *Connector) Handler() http.Handler {
	return s.engine
}

func (s *Connector) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET(routeHealth, s.handleHealth)
	r.GET(routeMetrics, s.handleMetrics)

	r.POST(routeProcessEvents, s.handleProcessEvents)

	user := r.Group("/", s.requireUser())
	user.POST(routeUpdateSheet, s.handleUpdateSheet)
	user.POST(routeUpdateCell, s.handleUpdateCell)
	user.GET(routeGetEvents, s.handleGetEvents)
	user.POST(routeClearCells, s.handleClearCells)
	user.POST(routeReprocessColumn, s.handleReprocessColumn)
	user.POST(routeRetryEvent, s.handleRetryEvent)

	api := r.Group("/", s.requireAPIKey())
	api.POST(routeCreateRows, s.handleCreateRows)

	return r
}

// Start는 HTTP 서버를 시작하고 ctx가 취소될 때까지 블록합니다.
func (s *Connector) Start(ctx context.Context) error {
	s.logger.Info("Starting connector server (HTTP)", zap.String("addr", s.config.Addr))

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("error starting http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Connector server shutting down")
		// 컨텍스트가 이미 완료되었으므로 새 컨텍스트로 Stop 호출
		stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	}
}

// Stop은 HTTP 서버를 정상적으로 종료합니다.
func (s *Connector) Stop(ctx context.Context) error {
	s.logger.Info("Stopping connector server")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down http server", zap.Error(err))
			return err
		}
	}
	s.logger.Info("Connector server stopped")
	return nil
}

// requestLogger는 요청마다 한 줄의 구조화 로그를 남깁니다.
func (s *Connector) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// requireUser는 X-User-ID 헤더를 요구합니다. 인증은 앞단의 세션 계층이 담당합니다.
func (s *Connector) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			abortWithError(c, http.StatusUnauthorized, fmt.Errorf("%s header is required", headerUserID))
			return
		}
		c.Set(ctxKeyUserID, userID)
		c.Next()
	}
}

// requireAPIKey는 X-API-Key 헤더를 설정된 사용자로 매핑합니다.
func (s *Connector) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := s.config.UserForAPIKey(c.GetHeader(headerAPIKey))
		if !ok {
			abortWithError(c, http.StatusUnauthorized, fmt.Errorf("invalid or missing API key"))
			return
		}
		c.Set(ctxKeyUserID, userID)
		c.Next()
	}
}
