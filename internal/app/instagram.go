package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100

	// Short-lived tokens are kept when the long-lived exchange fails.
	shortLivedTokenTTL = time.Hour
	longLivedTokenTTL  = 5184000 * time.Second

	instagramAuthorizeURL = "https://www.instagram.com/oauth/authorize"
	instagramScopes       = "instagram_business_basic,instagram_business_manage_messages"
)

type InstagramConfig struct {
	AppID       string
	RedirectURI string
	StateSecret string
}

// InstagramService implements the user-facing Instagram inbox operations.
type InstagramService struct {
	cfg           InstagramConfig
	integrations  domain.InstagramIntegrationRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	scheduled     domain.ScheduledMessageRepository
	templates     domain.TemplateRepository
	creds         *CredentialStore
	tokens        *TokenManager
	graph         InstagramAPI
	limiter       domain.RateLimiter
	publisher     domain.InboxPublisher
	metrics       *metrics.MessagingMetrics
	clock         clockwork.Clock
}

type InstagramServiceDeps struct {
	Config        InstagramConfig
	Integrations  domain.InstagramIntegrationRepository
	Conversations domain.ConversationRepository
	Messages      domain.MessageRepository
	Scheduled     domain.ScheduledMessageRepository
	Templates     domain.TemplateRepository
	Credentials   *CredentialStore
	Tokens        *TokenManager
	Graph         InstagramAPI
	Limiter       domain.RateLimiter
	Publisher     domain.InboxPublisher // optional
	Metrics       *metrics.MessagingMetrics
	Clock         clockwork.Clock
}

func NewInstagramService(d InstagramServiceDeps) *InstagramService {
	return &InstagramService{
		cfg:           d.Config,
		integrations:  d.Integrations,
		conversations: d.Conversations,
		messages:      d.Messages,
		scheduled:     d.Scheduled,
		templates:     d.Templates,
		creds:         d.Credentials,
		tokens:        d.Tokens,
		graph:         d.Graph,
		limiter:       d.Limiter,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		clock:         d.Clock,
	}
}

type SendResult struct {
	Message        *domain.Message `json:"message"`
	ConversationID uuid.UUID       `json:"conversationId"`
}

// SendMessage sends a direct reply inside the conversation's 24h window.
func (s *InstagramService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if err := validateMessageText(text); err != nil {
		return nil, err
	}

	conv, in, err := s.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !in.Usable() {
		return nil, notConnected(in.ID)
	}

	now := s.clock.Now()
	if !conv.WindowOpen(now) {
		return nil, windowClosed(conv)
	}

	allowed, resetAt, err := s.limiter.Allow(ctx, in.ID)
	if err != nil {
		return nil, apperrors.InternalError("failed to check rate limit", err)
	}
	if !allowed {
		return nil, apperrors.RateLimitedError("instagram hourly message limit reached").
			WithField("reset_at", resetAt.UTC().Format(time.RFC3339))
	}

	token, err := s.creds.InstagramAccessToken(ctx, in)
	if err != nil {
		return nil, err
	}

	mid, err := s.graph.SendMessage(ctx, in.InstagramUserID, token, conv.ParticipantInstagramID, text)
	if err != nil {
		return nil, s.sendError(ctx, in, conv, err)
	}

	// Meta has the message; record it even if the client went away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	sentAt := s.clock.Now()
	msg, _, err := s.messages.Upsert(ctx, &domain.Message{
		ConversationID:     conv.ID,
		InstagramMessageID: mid,
		MessageText:        text,
		MessageType:        domain.MessageTypeText,
		Direction:          domain.DirectionOutbound,
		Status:             domain.MessageSent,
		SenderInstagramID:  in.InstagramUserID,
		SenderUsername:     in.InstagramUsername,
		SentAt:             sentAt,
	})
	if err != nil {
		return nil, apperrors.InternalError("message sent but could not be saved", err).WithField("instagram_message_id", mid)
	}

	preview := domain.Preview(text)
	if err := s.conversations.RecordOutbound(ctx, conv.ID, sentAt, preview); err != nil {
		slog.ErrorContext(ctx, "Failed to update conversation after send", "conversation_id", conv.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(domain.ProviderInstagram), "direct").Inc()
	}

	publishUpdate(ctx, s.publisher, in.UserID, domain.ConversationUpdate{
		ConversationID: conv.ID,
		Preview:        preview,
		Direction:      domain.DirectionOutbound,
		UnreadCount:    conv.UnreadCount,
	})
	return &SendResult{Message: msg, ConversationID: conv.ID}, nil
}

func (s *InstagramService) sendError(ctx context.Context, in *domain.InstagramIntegration, conv *domain.Conversation, err error) error {
	switch {
	case instagram.IsTokenExpired(err):
		s.tokens.MarkInstagramExpired(ctx, in.ID, graphMessage(err))
		return apperrors.UnauthorizedError("instagram access token expired, reconnect the account").
			WithCode(apperrors.CodeTokenExpired).
			WithField("integration_id", in.ID.String())
	case instagram.IsWindowClosed(err):
		return windowClosed(conv)
	case errors.Is(err, instagram.ErrCircuitOpen):
		return apperrors.ExternalError("instagram is temporarily unavailable", err)
	default:
		return apperrors.ExternalError("failed to send instagram message", err)
	}
}

type ScheduleRequest struct {
	ConversationID uuid.UUID
	MessageText    string
	ScheduledFor   time.Time
	TemplateID     *uuid.UUID
}

// ScheduleMessage queues a message for later delivery within the open window.
func (s *InstagramService) ScheduleMessage(ctx context.Context, userID uuid.UUID, req ScheduleRequest) (*domain.ScheduledMessage, error) {
	text := strings.TrimSpace(req.MessageText)
	if err := validateMessageText(text); err != nil {
		return nil, err
	}

	conv, _, err := s.ownedConversation(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !req.ScheduledFor.After(now) {
		return nil, apperrors.ValidationError("scheduled time must be in the future").WithField("scheduled_for", req.ScheduledFor)
	}
	if !conv.WindowOpen(now) || !req.ScheduledFor.Before(*conv.CanReplyUntil) {
		return nil, windowClosed(conv).WithField("scheduled_for", req.ScheduledFor)
	}

	if req.TemplateID != nil {
		if _, err := s.ownedTemplate(ctx, userID, *req.TemplateID); err != nil {
			return nil, err
		}
	}

	sm, err := s.scheduled.Create(ctx, &domain.ScheduledMessage{
		ConversationID:           conv.ID,
		MessageText:              text,
		TemplateID:               req.TemplateID,
		ScheduledFor:             req.ScheduledFor,
		ScheduledBy:              userID,
		MessagingWindowExpiresAt: *conv.CanReplyUntil,
		Status:                   domain.ScheduledPending,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to schedule message", err)
	}
	slog.InfoContext(ctx, "Message scheduled", "scheduled_id", sm.ID, "conversation_id", conv.ID, "scheduled_for", sm.ScheduledFor)
	return sm, nil
}

func (s *InstagramService) CancelScheduled(ctx context.Context, userID, scheduledID uuid.UUID) error {
	sm, err := s.scheduled.GetByID(ctx, scheduledID)
	if errors.Is(err, domain.ErrScheduledMessageNotFound) {
		return apperrors.NotFoundError("scheduled message not found")
	}
	if err != nil {
		return apperrors.InternalError("failed to load scheduled message", err)
	}
	if _, _, err := s.ownedConversation(ctx, userID, sm.ConversationID); err != nil {
		return err
	}

	err = s.scheduled.Cancel(ctx, scheduledID)
	switch {
	case errors.Is(err, domain.ErrScheduledNotPending):
		return apperrors.ConflictError("only pending messages can be cancelled").WithField("status", string(sm.Status))
	case errors.Is(err, domain.ErrScheduledMessageNotFound):
		return apperrors.NotFoundError("scheduled message not found")
	case err != nil:
		return apperrors.InternalError("failed to cancel scheduled message", err)
	}
	return nil
}

type ListRequest struct {
	Limit  int
	Cursor string
	Sync   bool
}

type ConversationList struct {
	Conversations []*domain.Conversation `json:"conversations"`
	HasMore       bool                   `json:"hasMore"`
	NextCursor    string                 `json:"nextCursor,omitempty"`
}

// ListConversations returns the inbox of one integration, newest first. With
// Sync set, the first page is refreshed from the Graph API before reading.
func (s *InstagramService) ListConversations(ctx context.Context, userID, integrationID uuid.UUID, req ListRequest) (*ConversationList, error) {
	in, err := s.ownedIntegration(ctx, userID, integrationID)
	if err != nil {
		return nil, err
	}
	page, err := parsePage(req)
	if err != nil {
		return nil, err
	}

	if req.Sync {
		if err := s.syncConversations(ctx, in, page.Limit); err != nil {
			return nil, err
		}
	}

	convs, err := s.conversations.List(ctx, in.ID, domain.Page{Limit: page.Limit + 1, After: page.After})
	if err != nil {
		return nil, apperrors.InternalError("failed to list conversations", err)
	}

	out := &ConversationList{Conversations: convs}
	if len(convs) > page.Limit {
		out.Conversations = convs[:page.Limit]
		out.HasMore = true
		last := out.Conversations[page.Limit-1]
		out.NextCursor = encodeCursor(domain.Cursor{At: last.LastMessageAt, ID: last.ID})
	}
	if out.Conversations == nil {
		out.Conversations = []*domain.Conversation{}
	}
	return out, nil
}

func (s *InstagramService) syncConversations(ctx context.Context, in *domain.InstagramIntegration, limit int) error {
	if !in.Usable() {
		return notConnected(in.ID)
	}
	token, err := s.creds.InstagramAccessToken(ctx, in)
	if err != nil {
		return err
	}

	page, err := s.graph.ListConversations(ctx, in.InstagramUserID, token, limit, "")
	if err != nil {
		return s.graphError(ctx, in, "failed to fetch conversations", err)
	}

	convs := make([]*domain.Conversation, 0, len(page.Conversations))
	for i := range page.Conversations {
		if conv, ok := page.Conversations[i].ToDomain(in); ok {
			convs = append(convs, conv)
		}
	}
	if err := s.conversations.UpsertSynced(ctx, convs); err != nil {
		return apperrors.InternalError("failed to store conversations", err)
	}
	slog.DebugContext(ctx, "Synced conversations", "integration_id", in.ID, "count", len(convs))
	return nil
}

type MessageList struct {
	Messages      []*domain.Message `json:"messages"`
	HasMore       bool              `json:"hasMore"`
	NextCursor    string            `json:"nextCursor,omitempty"`
	CanReplyUntil *time.Time        `json:"canReplyUntil"`
	WindowOpen    bool              `json:"windowOpen"`
}

// ListMessages returns a conversation's messages, newest first, and marks the
// conversation as read.
func (s *InstagramService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, req ListRequest) (*MessageList, error) {
	conv, in, err := s.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	page, err := parsePage(req)
	if err != nil {
		return nil, err
	}

	if req.Sync {
		if err := s.syncMessages(ctx, in, conv, page.Limit); err != nil {
			return nil, err
		}
	}

	latest, err := s.messages.LatestInboundAt(ctx, conv.ID)
	if err != nil {
		return nil, apperrors.InternalError("failed to read messaging window", err)
	}
	if latest != nil && (conv.LastInboundAt == nil || latest.After(*conv.LastInboundAt)) {
		if err := s.conversations.UpdateWindow(ctx, conv.ID, *latest); err != nil {
			return nil, apperrors.InternalError("failed to update messaging window", err)
		}
		until := latest.Add(domain.MessagingWindow)
		conv.LastInboundAt, conv.CanReplyUntil = latest, &until
	}

	if conv.UnreadCount > 0 {
		if err := s.conversations.ResetUnread(ctx, conv.ID); err != nil {
			slog.WarnContext(ctx, "Failed to reset unread count", "conversation_id", conv.ID, "error", err)
		}
	}

	msgs, err := s.messages.List(ctx, conv.ID, domain.Page{Limit: page.Limit + 1, After: page.After})
	if err != nil {
		return nil, apperrors.InternalError("failed to list messages", err)
	}

	out := &MessageList{
		Messages:      msgs,
		CanReplyUntil: conv.CanReplyUntil,
		WindowOpen:    conv.WindowOpen(s.clock.Now()),
	}
	if len(msgs) > page.Limit {
		out.Messages = msgs[:page.Limit]
		out.HasMore = true
		last := out.Messages[page.Limit-1]
		out.NextCursor = encodeCursor(domain.Cursor{At: &last.SentAt, ID: last.ID})
	}
	if out.Messages == nil {
		out.Messages = []*domain.Message{}
	}
	return out, nil
}

func (s *InstagramService) syncMessages(ctx context.Context, in *domain.InstagramIntegration, conv *domain.Conversation, limit int) error {
	if !in.Usable() {
		return notConnected(in.ID)
	}
	token, err := s.creds.InstagramAccessToken(ctx, in)
	if err != nil {
		return err
	}

	page, err := s.graph.ListMessages(ctx, conv.InstagramConversationID, token, limit, "")
	if err != nil {
		return s.graphError(ctx, in, "failed to fetch messages", err)
	}

	for i := range page.Messages {
		msg := page.Messages[i].ToDomain(conv.ID, in.InstagramUserID)
		if _, _, err := s.messages.Upsert(ctx, msg); err != nil {
			return apperrors.InternalError("failed to store messages", err)
		}
	}
	return nil
}

func (s *InstagramService) graphError(ctx context.Context, in *domain.InstagramIntegration, message string, err error) error {
	if instagram.IsTokenExpired(err) {
		s.tokens.MarkInstagramExpired(ctx, in.ID, graphMessage(err))
		return apperrors.UnauthorizedError("instagram access token expired, reconnect the account").
			WithCode(apperrors.CodeTokenExpired)
	}
	return apperrors.ExternalError(message, err)
}

// ConnectURL returns the Instagram authorization URL carrying a signed state.
func (s *InstagramService) ConnectURL(userID uuid.UUID, imoID *uuid.UUID) (string, error) {
	state, err := instagram.SignState(s.cfg.StateSecret, instagram.OAuthState{
		UserID:    userID,
		IMOID:     imoID,
		Timestamp: s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return "", apperrors.InternalError("failed to sign oauth state", err)
	}

	q := url.Values{}
	q.Set("client_id", s.cfg.AppID)
	q.Set("redirect_uri", s.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", instagramScopes)
	q.Set("state", state)
	return instagramAuthorizeURL + "?" + q.Encode(), nil
}

// CompleteOAuth finishes the authorization redirect and stores the integration.
func (s *InstagramService) CompleteOAuth(ctx context.Context, code, rawState string) (*domain.InstagramIntegration, error) {
	if code == "" || rawState == "" {
		return nil, apperrors.ValidationError("missing code or state")
	}

	now := s.clock.Now()
	state, err := instagram.VerifyState(s.cfg.StateSecret, rawState, now)
	if err != nil {
		return nil, apperrors.ValidationError("invalid oauth state").WithField("reason", err.Error())
	}

	short, err := s.graph.ExchangeCode(ctx, code)
	if err != nil {
		return nil, apperrors.ExternalError("failed to exchange authorization code", err)
	}

	token, expiresAt := short.AccessToken, now.Add(shortLivedTokenTTL)
	long, err := s.graph.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		slog.WarnContext(ctx, "Long-lived token exchange failed, keeping short-lived token", "user_id", state.UserID, "error", err)
	} else {
		ttl := longLivedTokenTTL
		if long.ExpiresIn > 0 {
			ttl = time.Duration(long.ExpiresIn) * time.Second
		}
		token, expiresAt = long.AccessToken, now.Add(ttl)
	}

	profile, err := s.graph.GetProfile(ctx, token)
	if err != nil {
		return nil, apperrors.ExternalError("failed to fetch instagram profile", err)
	}
	if profile.ID == "" {
		return nil, apperrors.ExternalError("instagram profile has no id", nil)
	}

	encrypted, err := s.creds.Encrypt(token)
	if err != nil {
		return nil, err
	}

	in, err := s.integrations.Upsert(ctx, &domain.InstagramIntegration{
		UserID:               state.UserID,
		IMOID:                state.IMOID,
		InstagramUserID:      profile.ID,
		InstagramUsername:    profile.Username,
		InstagramName:        profile.Name,
		AccountType:          profile.AccountType,
		AccessTokenEncrypted: encrypted,
		TokenExpiresAt:       &expiresAt,
		IntegrationStatus:    domain.IntegrationStatus{LastRefreshAt: &now},
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to save instagram integration", err)
	}

	slog.InfoContext(ctx, "Instagram account connected", "integration_id", in.ID, "username", in.InstagramUsername, "expires_at", expiresAt)
	return in, nil
}

func (s *InstagramService) Disconnect(ctx context.Context, userID, integrationID uuid.UUID) error {
	if _, err := s.ownedIntegration(ctx, userID, integrationID); err != nil {
		return err
	}
	if err := s.integrations.Deactivate(ctx, integrationID); err != nil {
		return apperrors.InternalError("failed to disconnect integration", err)
	}
	slog.InfoContext(ctx, "Instagram account disconnected", "integration_id", integrationID)
	return nil
}

type PriorityRequest struct {
	IsPriority             bool
	AutoReminderEnabled    bool
	AutoReminderTemplateID *uuid.UUID
	AutoReminderHours      int
}

func (s *InstagramService) SetPriority(ctx context.Context, userID, conversationID uuid.UUID, req PriorityRequest) error {
	if _, _, err := s.ownedConversation(ctx, userID, conversationID); err != nil {
		return err
	}

	hours := req.AutoReminderHours
	if hours == 0 {
		hours = domain.DefaultAutoReminderHours
	}
	if hours < 1 || hours > 23 {
		return apperrors.ValidationError("auto reminder hours must be between 1 and 23").WithField("hours", hours)
	}
	if req.AutoReminderTemplateID != nil {
		if _, err := s.ownedTemplate(ctx, userID, *req.AutoReminderTemplateID); err != nil {
			return err
		}
	}

	err := s.conversations.SetPriority(ctx, conversationID, domain.PrioritySettings{
		IsPriority:             req.IsPriority,
		AutoReminderEnabled:    req.IsPriority && req.AutoReminderEnabled,
		AutoReminderTemplateID: req.AutoReminderTemplateID,
		AutoReminderHours:      hours,
	})
	if err != nil {
		return apperrors.InternalError("failed to update priority", err)
	}
	return nil
}

func (s *InstagramService) ListTemplates(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error) {
	tmpls, err := s.templates.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError("failed to list templates", err)
	}
	if tmpls == nil {
		tmpls = []*domain.Template{}
	}
	return tmpls, nil
}

func (s *InstagramService) CreateTemplate(ctx context.Context, userID uuid.UUID, name, content string) (*domain.Template, error) {
	name, content = strings.TrimSpace(name), strings.TrimSpace(content)
	if name == "" {
		return nil, apperrors.ValidationError("template name is required")
	}
	if err := validateMessageText(content); err != nil {
		return nil, err
	}

	tmpl, err := s.templates.Create(ctx, &domain.Template{UserID: userID, Name: name, Content: content, IsActive: true})
	if err != nil {
		return nil, apperrors.InternalError("failed to create template", err)
	}
	return tmpl, nil
}

func (s *InstagramService) ownedIntegration(ctx context.Context, userID, integrationID uuid.UUID) (*domain.InstagramIntegration, error) {
	in, err := s.integrations.GetByID(ctx, integrationID)
	if errors.Is(err, domain.ErrIntegrationNotFound) || (err == nil && in.UserID != userID) {
		return nil, apperrors.NotFoundError("integration not found").WithField("integration_id", integrationID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load integration", err)
	}
	return in, nil
}

// ownedConversation loads a conversation and its integration, hiding
// conversations of other users behind not found.
func (s *InstagramService) ownedConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, *domain.InstagramIntegration, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return nil, nil, apperrors.NotFoundError("conversation not found").WithField("conversation_id", conversationID.String())
	}
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to load conversation", err)
	}

	in, err := s.integrations.GetByID(ctx, conv.IntegrationID)
	if errors.Is(err, domain.ErrIntegrationNotFound) || (err == nil && in.UserID != userID) {
		return nil, nil, apperrors.NotFoundError("conversation not found").WithField("conversation_id", conversationID.String())
	}
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to load integration", err)
	}
	return conv, in, nil
}

func (s *InstagramService) ownedTemplate(ctx context.Context, userID, templateID uuid.UUID) (*domain.Template, error) {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if errors.Is(err, domain.ErrTemplateNotFound) || (err == nil && tmpl.UserID != userID) {
		return nil, apperrors.NotFoundError("template not found").WithField("template_id", templateID.String())
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load template", err)
	}
	return tmpl, nil
}

func validateMessageText(text string) error {
	if text == "" {
		return apperrors.ValidationError("message text is required")
	}
	if n := utf8.RuneCountInString(text); n > domain.MaxMessageLength {
		return apperrors.ValidationError(fmt.Sprintf("message exceeds %d characters", domain.MaxMessageLength)).WithField("length", n)
	}
	return nil
}

func notConnected(id uuid.UUID) *apperrors.Error {
	return apperrors.ValidationError("instagram account is not connected").
		WithCode(apperrors.CodeNotConnected).
		WithField("integration_id", id.String())
}

func windowClosed(conv *domain.Conversation) *apperrors.Error {
	e := apperrors.ValidationError("the 24 hour messaging window has closed").WithCode(apperrors.CodeWindowClosed)
	if conv.CanReplyUntil != nil {
		e = e.WithField("can_reply_until", conv.CanReplyUntil.UTC().Format(time.RFC3339))
	}
	return e
}

func parsePage(req ListRequest) (domain.Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	page := domain.Page{Limit: min(limit, maxPageSize)}
	if req.Cursor == "" {
		return page, nil
	}

	cursor, err := decodeCursor(req.Cursor)
	if err != nil {
		return page, apperrors.ValidationError("invalid cursor").WithField("cursor", req.Cursor)
	}
	page.After = cursor
	return page, nil
}

// Cursors are opaque to clients: base64url of "<RFC3339Nano>|<uuid>", with an
// empty timestamp for rows that sort after every dated row.
func encodeCursor(c domain.Cursor) string {
	var at string
	if c.At != nil {
		at = c.At.UTC().Format(time.RFC3339Nano)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(at + "|" + c.ID.String()))
}

func decodeCursor(s string) (*domain.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errors.New("malformed cursor")
	}

	c := &domain.Cursor{}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, err
		}
		c.At = &t
	}
	return c, nil
}
