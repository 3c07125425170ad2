// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/application/workflow"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports overall health and per-component details
type HealthFunc func(ctx context.Context) (healthy bool, details interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// WebhookSecret, when set, requires signed inbound SMS webhooks
	WebhookSecret  string
	WebhookMaxSkew time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8000,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps are the application components the handlers call
type Deps struct {
	Intake    service.IntakeService
	Approvals service.ApprovalService
	Timeouts  service.TimeoutMonitor
	Plans     service.PaymentPlanService
	Engine    workflow.WorkflowEngine
	Breakers  *reliability.Manager
	Health    HealthFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Deps, logger Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(deps, logger),
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware logs each request and records its metrics under the route template
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(method, route, status, latency)

		if route == "/metrics" {
			return
		}
		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/circuit-breakers", h.CircuitBreakers)

		orchestrate := api.Group("/orchestrate")
		{
			inbound := []gin.HandlerFunc{h.SMSReceived}
			if s.config.WebhookSecret != "" {
				verifier := NewVerifier(s.config.WebhookSecret, s.config.WebhookMaxSkew)
				inbound = append([]gin.HandlerFunc{verifier.Middleware(s.logger)}, inbound...)
			}
			orchestrate.POST("/sms-received", inbound...)
			orchestrate.POST("/approve-response", h.ApproveResponse)
			orchestrate.GET("/pending-approvals", h.PendingApprovals)
			orchestrate.GET("/approval-audit-logs", h.AuditLogs)
			orchestrate.GET("/approval-audit-logs/export", h.ExportAuditLogs)
			orchestrate.POST("/check-approval-timeouts", h.CheckApprovalTimeouts)
			orchestrate.GET("/workflow/:id/status", h.WorkflowStatus)
			orchestrate.POST("/workflow/:id/recover", h.RecoverWorkflow)
			orchestrate.GET("/workflow/:id/payment-plans", h.ConversationPaymentPlans)
			orchestrate.POST("/payment-plan-detected", h.PaymentPlanDetected)
			orchestrate.GET("/payment-plans/:id", h.GetPaymentPlan)
		}

		escalations := api.Group("/escalations/timeouts")
		{
			escalations.GET("/statistics", h.TimeoutStatistics)
			escalations.POST("/check", h.CheckTimeouts)
		}
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
