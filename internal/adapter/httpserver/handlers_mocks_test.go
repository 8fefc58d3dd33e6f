package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/app"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/config"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret   = "test-jwt-secret-0123456789abcdef"
	testCronSecret  = "cron-secret-0123456789"
	testAppSecret   = "meta-app-secret"
	testVerifyToken = "verify-me"
	testAppBaseURL  = "https://app.example.com"
)

var errNotImplemented = errors.New("not implemented")

// --- Mock implementations ---

type mockInstagramService struct {
	sendMessageFn       func(ctx context.Context, userID, conversationID uuid.UUID, text string) (*app.SendResult, error)
	scheduleMessageFn   func(ctx context.Context, userID uuid.UUID, req app.ScheduleRequest) (*domain.ScheduledMessage, error)
	cancelScheduledFn   func(ctx context.Context, userID, scheduledID uuid.UUID) error
	listConversationsFn func(ctx context.Context, userID, integrationID uuid.UUID, req app.ListRequest) (*app.ConversationList, error)
	listMessagesFn      func(ctx context.Context, userID, conversationID uuid.UUID, req app.ListRequest) (*app.MessageList, error)
	connectURLFn        func(userID uuid.UUID, imoID *uuid.UUID) (string, error)
	completeOAuthFn     func(ctx context.Context, code, rawState string) (*domain.InstagramIntegration, error)
	disconnectFn        func(ctx context.Context, userID, integrationID uuid.UUID) error
	setPriorityFn       func(ctx context.Context, userID, conversationID uuid.UUID, req app.PriorityRequest) error
	listTemplatesFn     func(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error)
	createTemplateFn    func(ctx context.Context, userID uuid.UUID, name, content string) (*domain.Template, error)
}

func (m *mockInstagramService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string) (*app.SendResult, error) {
	if m.sendMessageFn != nil {
		return m.sendMessageFn(ctx, userID, conversationID, text)
	}
	return nil, errNotImplemented
}

func (m *mockInstagramService) ScheduleMessage(ctx context.Context, userID uuid.UUID, req app.ScheduleRequest) (*domain.ScheduledMessage, error) {
	if m.scheduleMessageFn != nil {
		return m.scheduleMessageFn(ctx, userID, req)
	}
	return nil, errNotImplemented
}

func (m *mockInstagramService) CancelScheduled(ctx context.Context, userID, scheduledID uuid.UUID) error {
	if m.cancelScheduledFn != nil {
		return m.cancelScheduledFn(ctx, userID, scheduledID)
	}
	return nil
}

func (m *mockInstagramService) ListConversations(ctx context.Context, userID, integrationID uuid.UUID, req app.ListRequest) (*app.ConversationList, error) {
	if m.listConversationsFn != nil {
		return m.listConversationsFn(ctx, userID, integrationID, req)
	}
	return &app.ConversationList{Conversations: []*domain.Conversation{}}, nil
}

func (m *mockInstagramService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, req app.ListRequest) (*app.MessageList, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, userID, conversationID, req)
	}
	return &app.MessageList{Messages: []*domain.Message{}}, nil
}

func (m *mockInstagramService) ConnectURL(userID uuid.UUID, imoID *uuid.UUID) (string, error) {
	if m.connectURLFn != nil {
		return m.connectURLFn(userID, imoID)
	}
	return "https://www.instagram.com/oauth/authorize?state=s", nil
}

func (m *mockInstagramService) CompleteOAuth(ctx context.Context, code, rawState string) (*domain.InstagramIntegration, error) {
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, code, rawState)
	}
	return nil, errNotImplemented
}

func (m *mockInstagramService) Disconnect(ctx context.Context, userID, integrationID uuid.UUID) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID, integrationID)
	}
	return nil
}

func (m *mockInstagramService) SetPriority(ctx context.Context, userID, conversationID uuid.UUID, req app.PriorityRequest) error {
	if m.setPriorityFn != nil {
		return m.setPriorityFn(ctx, userID, conversationID, req)
	}
	return nil
}

func (m *mockInstagramService) ListTemplates(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error) {
	if m.listTemplatesFn != nil {
		return m.listTemplatesFn(ctx, userID)
	}
	return []*domain.Template{}, nil
}

func (m *mockInstagramService) CreateTemplate(ctx context.Context, userID uuid.UUID, name, content string) (*domain.Template, error) {
	if m.createTemplateFn != nil {
		return m.createTemplateFn(ctx, userID, name, content)
	}
	return &domain.Template{ID: uuid.New(), UserID: userID, Name: name, Content: content}, nil
}

type mockGmailService struct {
	completeOAuthFn func(ctx context.Context, userID uuid.UUID, code string) (*domain.GmailIntegration, error)
	syncForUserFn   func(ctx context.Context, userID uuid.UUID) (*app.SyncResult, error)
	syncAllFn       func(ctx context.Context) (*app.SyncAllResult, error)
	sendFn          func(ctx context.Context, userID uuid.UUID, req app.SendEmailRequest) (*app.SendEmailResult, error)
}

func (m *mockGmailService) ConnectURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockGmailService) CompleteOAuth(ctx context.Context, userID uuid.UUID, code string) (*domain.GmailIntegration, error) {
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, userID, code)
	}
	return &domain.GmailIntegration{ID: uuid.New(), UserID: userID}, nil
}

func (m *mockGmailService) SyncForUser(ctx context.Context, userID uuid.UUID) (*app.SyncResult, error) {
	if m.syncForUserFn != nil {
		return m.syncForUserFn(ctx, userID)
	}
	return &app.SyncResult{Type: domain.SyncIncremental}, nil
}

func (m *mockGmailService) SyncAll(ctx context.Context) (*app.SyncAllResult, error) {
	if m.syncAllFn != nil {
		return m.syncAllFn(ctx)
	}
	return &app.SyncAllResult{Errors: []string{}}, nil
}

func (m *mockGmailService) Send(ctx context.Context, userID uuid.UUID, req app.SendEmailRequest) (*app.SendEmailResult, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, userID, req)
	}
	return nil, errNotImplemented
}

type mockSlackService struct {
	notifyFn  func(ctx context.Context, n app.PolicyNotification) (*app.NotifyResult, error)
	connectFn func(ctx context.Context, imoID uuid.UUID, botToken string) (*domain.SlackIntegration, error)
}

func (m *mockSlackService) NotifyPolicy(ctx context.Context, n app.PolicyNotification) (*app.NotifyResult, error) {
	if m.notifyFn != nil {
		return m.notifyFn(ctx, n)
	}
	return &app.NotifyResult{Results: []app.ChannelResult{}}, nil
}

func (m *mockSlackService) Connect(ctx context.Context, imoID uuid.UUID, botToken string) (*domain.SlackIntegration, error) {
	if m.connectFn != nil {
		return m.connectFn(ctx, imoID, botToken)
	}
	return &domain.SlackIntegration{ID: uuid.New(), IMOID: imoID, TeamID: "T1", TeamName: "Acme"}, nil
}

type mockInbound struct {
	handleFn func(ctx context.Context, payload *instagram.WebhookPayload) error
	calls    int
}

func (m *mockInbound) HandlePayload(ctx context.Context, payload *instagram.WebhookPayload) error {
	m.calls++
	if m.handleFn != nil {
		return m.handleFn(ctx, payload)
	}
	return nil
}

type scheduledRunnerFunc func(ctx context.Context) (*app.ProcessResult, error)

func (f scheduledRunnerFunc) Run(ctx context.Context) (*app.ProcessResult, error) { return f(ctx) }

type jobRunnerFunc func(ctx context.Context) (*app.JobResult, error)

func (f jobRunnerFunc) Run(ctx context.Context) (*app.JobResult, error) { return f(ctx) }

type tokenRefresherFunc func(ctx context.Context) (app.RefreshResult, error)

func (f tokenRefresherFunc) RefreshExpiring(ctx context.Context) (app.RefreshResult, error) {
	return f(ctx)
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:          "test",
		AppBaseURL:      testAppBaseURL,
		APIJWTSecret:    testJWTSecret,
		CronSecret:      testCronSecret,
		MetaAppSecret:   testAppSecret,
		MetaVerifyToken: testVerifyToken,
		SessionSecret:   "test-secret-key-32-bytes-long!!!",
		SessionMaxAge:   time.Hour,
	}
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *Server {
	t.Helper()

	d := Deps{
		Instagram: &mockInstagramService{},
		Gmail:     &mockGmailService{},
		Slack:     &mockSlackService{},
		Inbound:   &mockInbound{},
		Scheduled: scheduledRunnerFunc(func(context.Context) (*app.ProcessResult, error) {
			return &app.ProcessResult{}, nil
		}),
		Jobs: jobRunnerFunc(func(context.Context) (*app.JobResult, error) {
			return &app.JobResult{}, nil
		}),
		Tokens: tokenRefresherFunc(func(context.Context) (app.RefreshResult, error) {
			return app.RefreshResult{}, nil
		}),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return NewServer(testConfig(), d)
}

func withInstagram(m *mockInstagramService) func(*Deps) {
	return func(d *Deps) { d.Instagram = m }
}

func withGmail(m *mockGmailService) func(*Deps) {
	return func(d *Deps) { d.Gmail = m }
}

func withSlack(m *mockSlackService) func(*Deps) {
	return func(d *Deps) { d.Slack = m }
}

func withInbound(m *mockInbound) func(*Deps) {
	return func(d *Deps) { d.Inbound = m }
}

func withHealthChecks(checks ...HealthCheck) func(*Deps) {
	return func(d *Deps) { d.HealthChecks = checks }
}

func signedToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

// do sends a request through the full middleware stack.
func do(t *testing.T, srv *Server, method, target, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// asUser sends an authenticated API request for userID.
func asUser(t *testing.T, srv *Server, userID uuid.UUID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, srv, method, target, body, signedToken(t, userID.String(), time.Hour))
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}

var _ http.Handler = (*Server)(nil)
