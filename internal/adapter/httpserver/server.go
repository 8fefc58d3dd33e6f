package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/app"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/config"
)

type instagramService interface {
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string) (*app.SendResult, error)
	ScheduleMessage(ctx context.Context, userID uuid.UUID, req app.ScheduleRequest) (*domain.ScheduledMessage, error)
	CancelScheduled(ctx context.Context, userID, scheduledID uuid.UUID) error
	ListConversations(ctx context.Context, userID, integrationID uuid.UUID, req app.ListRequest) (*app.ConversationList, error)
	ListMessages(ctx context.Context, userID, conversationID uuid.UUID, req app.ListRequest) (*app.MessageList, error)
	ConnectURL(userID uuid.UUID, imoID *uuid.UUID) (string, error)
	CompleteOAuth(ctx context.Context, code, rawState string) (*domain.InstagramIntegration, error)
	Disconnect(ctx context.Context, userID, integrationID uuid.UUID) error
	SetPriority(ctx context.Context, userID, conversationID uuid.UUID, req app.PriorityRequest) error
	ListTemplates(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error)
	CreateTemplate(ctx context.Context, userID uuid.UUID, name, content string) (*domain.Template, error)
}

type gmailService interface {
	ConnectURL(state string) string
	CompleteOAuth(ctx context.Context, userID uuid.UUID, code string) (*domain.GmailIntegration, error)
	SyncForUser(ctx context.Context, userID uuid.UUID) (*app.SyncResult, error)
	SyncAll(ctx context.Context) (*app.SyncAllResult, error)
	Send(ctx context.Context, userID uuid.UUID, req app.SendEmailRequest) (*app.SendEmailResult, error)
}

type slackService interface {
	NotifyPolicy(ctx context.Context, n app.PolicyNotification) (*app.NotifyResult, error)
	Connect(ctx context.Context, imoID uuid.UUID, botToken string) (*domain.SlackIntegration, error)
}

type inboundService interface {
	HandlePayload(ctx context.Context, payload *instagram.WebhookPayload) error
}

type scheduledRunner interface {
	Run(ctx context.Context) (*app.ProcessResult, error)
}

type jobRunner interface {
	Run(ctx context.Context) (*app.JobResult, error)
}

type tokenRefresher interface {
	RefreshExpiring(ctx context.Context) (app.RefreshResult, error)
}

type Deps struct {
	Instagram instagramService
	Gmail     gmailService
	Slack     slackService
	Inbound   inboundService
	Scheduled scheduledRunner
	Jobs      jobRunner
	Tokens    tokenRefresher

	WebsocketHandler http.Handler
	HealthChecks     []HealthCheck

	Registry         *prometheus.Registry
	HTTPMetrics      *metrics.HTTPMetrics
	WebhookMetrics   *metrics.WebhookMetrics
	SchedulerMetrics *metrics.SchedulerMetrics
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	instagram instagramService
	gmail     gmailService
	slack     slackService
	inbound   inboundService
	scheduled scheduledRunner
	jobs      jobRunner
	tokens    tokenRefresher

	websocketHandler http.Handler
	sessionStore     *sessions.CookieStore
	healthChecks     []HealthCheck
	startTime        time.Time

	registry         *prometheus.Registry
	httpMetrics      *metrics.HTTPMetrics
	webhookMetrics   *metrics.WebhookMetrics
	schedulerMetrics *metrics.SchedulerMetrics
}

func NewServer(cfg *config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		instagram:        d.Instagram,
		gmail:            d.Gmail,
		slack:            d.Slack,
		inbound:          d.Inbound,
		scheduled:        d.Scheduled,
		jobs:             d.Jobs,
		tokens:           d.Tokens,
		websocketHandler: d.WebsocketHandler,
		sessionStore:     setupSessionStore(cfg),
		healthChecks:     d.HealthChecks,
		startTime:        time.Now(),
		registry:         d.Registry,
		httpMetrics:      d.HTTPMetrics,
		webhookMetrics:   d.WebhookMetrics,
		schedulerMetrics: d.SchedulerMetrics,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Session keys
const (
	sessionName          = "commhub-session"
	sessionKeyOAuthState = "gmail_oauth_state"
	sessionKeyUserID     = "gmail_oauth_user"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}

func respondOK(c echo.Context, body map[string]any) error {
	if body == nil {
		body = map[string]any{}
	}
	body["ok"] = true
	if err := c.JSON(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
