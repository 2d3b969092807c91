// Package httpapi is the admin HTTP server: login, the guarded data API,
// bot control, realtime streaming and the bot webhook.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/ingest"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/model"
	"github.com/matheus3301/wppadmin/internal/realtime"
)

// Store is the data the API serves.
type Store interface {
	Ping(ctx context.Context) error
	ListContacts(ctx context.Context) ([]model.Contact, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	UpdateContactName(ctx context.Context, id, name string) error
	SetAIEnabled(ctx context.Context, id string, enabled bool) error
	MarkChatAsRead(ctx context.Context, id string) error
	DeleteContact(ctx context.Context, id string) error
	BulkUpdateReadStatus(ctx context.Context, ids []string, status model.ReadStatus) (int, error)
	BulkDeleteContacts(ctx context.Context, ids []string) (int, error)
	ListMessages(ctx context.Context, contactID string) ([]model.Message, error)
	ListContactsForBackup(ctx context.Context, platform model.Platform) ([]model.BackupContact, error)
}

// Bot is the external bot as seen through botapi.
type Bot interface {
	Configured() bool
	BaseURL() string
	Start(ctx context.Context) (string, error)
	Health(ctx context.Context) (*botapi.HealthResponse, error)
}

type Ingester interface {
	Ingest(ctx context.Context, in ingest.InboundMessage) (*ingest.Result, error)
	IngestBatch(ctx context.Context, batch []ingest.InboundMessage) ([]ingest.Result, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, m *model.Message) error
}

// Dependencies are the collaborators handlers call into.
type Dependencies struct {
	Store    Store
	Bot      Bot
	Auth     *auth.Authenticator
	Ingest   Ingester
	Outbox   Outbox
	Realtime realtime.Source
	Metrics  *metrics.Metrics
}

type Options struct {
	Addr string
	// Production marks the session cookie Secure.
	Production    bool
	WebhookSecret string
}

// Server wraps an http.Server serving the gin router.
type Server struct {
	deps       Dependencies
	opts       Options
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

func New(deps Dependencies, opts Options, logger *zap.Logger) *Server {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("http"),
	}
	s.router = gin.New()
	s.router.Use(s.recovery(), s.requestLogger(), auth.PageGuard(deps.Auth, s.logger))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := s.router
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/login", s.handleLoginPage)
	r.GET("/", s.handleHomePage)

	api := r.Group("/api")
	api.POST("/login", s.handleLogin)
	api.GET("/whatsapp/start", s.handleStartInfo)
	api.POST("/webhook/messages", s.handleWebhook)

	guarded := api.Group("", auth.APIGuard(s.deps.Auth, s.logger))
	{
		guarded.POST("/logout", s.handleLogout)

		guarded.GET("/contacts", s.handleListContacts)
		guarded.PATCH("/contacts/:id", s.handleRenameContact)
		guarded.PUT("/contacts/:id/ai", s.handleToggleAI)
		guarded.DELETE("/contacts/:id", s.handleDeleteContact)
		guarded.POST("/contacts/:id/read", s.handleMarkRead)
		guarded.GET("/contacts/:id/messages", s.handleListMessages)
		guarded.POST("/contacts/bulk/read-status", s.handleBulkReadStatus)
		guarded.POST("/contacts/bulk/delete", s.handleBulkDelete)

		guarded.POST("/messages", s.handleSendMessage)
		guarded.GET("/backup/whatsapp-contacts", s.handleBackupContacts)
		guarded.GET("/realtime/messages", s.handleRealtime)

		guarded.POST("/whatsapp/start", s.handleStart)
		guarded.GET("/whatsapp/health", s.handleBotHealth)
	}
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("store ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
