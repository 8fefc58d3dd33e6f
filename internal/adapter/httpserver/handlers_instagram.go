package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/commhub/internal/app"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

const (
	oauthTimeout         = 30 * time.Second
	integrationsSettings = "/settings/integrations"
)

func (s *Server) registerInstagramRoutes(authLimiter echo.MiddlewareFunc) {
	s.echo.GET("/auth/instagram/callback", s.handleInstagramCallback, authLimiter)

	g := s.echo.Group("/api/instagram", s.requireUser)
	g.GET("/connect", s.handleInstagramConnect, authLimiter)
	g.POST("/messages", s.handleSendMessage)
	g.POST("/messages/list", s.handleListMessages)
	g.POST("/scheduled", s.handleScheduleMessage)
	g.DELETE("/scheduled/:id", s.handleCancelScheduled)
	g.POST("/conversations", s.handleListConversations)
	g.PUT("/conversations/:id/priority", s.handleSetPriority)
	g.GET("/templates", s.handleListTemplates)
	g.POST("/templates", s.handleCreateTemplate)
	g.DELETE("/integrations/:id", s.handleDisconnectInstagram)
}

type sendMessageRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageText    string    `json:"messageText"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.ConversationID == uuid.Nil || req.MessageText == "" {
		return apperrors.ValidationError("missing conversationId or messageText")
	}

	res, err := s.instagram.SendMessage(c.Request().Context(), userID, req.ConversationID, req.MessageText)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"messageId": res.Message.InstagramMessageID,
		"message":   res.Message,
	})
}

type scheduleMessageRequest struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageText    string     `json:"messageText"`
	ScheduledFor   time.Time  `json:"scheduledFor"`
	TemplateID     *uuid.UUID `json:"templateId"`
}

func (s *Server) handleScheduleMessage(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req scheduleMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.ConversationID == uuid.Nil || req.ScheduledFor.IsZero() {
		return apperrors.ValidationError("missing conversationId or scheduledFor")
	}

	sm, err := s.instagram.ScheduleMessage(c.Request().Context(), userID, app.ScheduleRequest{
		ConversationID: req.ConversationID,
		MessageText:    req.MessageText,
		ScheduledFor:   req.ScheduledFor,
		TemplateID:     req.TemplateID,
	})
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{"scheduledMessage": sm})
}

func (s *Server) handleCancelScheduled(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.instagram.CancelScheduled(c.Request().Context(), userID, id); err != nil {
		return err
	}
	return respondOK(c, nil)
}

type listRequest struct {
	Limit    int    `json:"limit"`
	Cursor   string `json:"cursor"`
	SyncToDB *bool  `json:"syncToDb"`
}

// sync defaults to true, matching the inbox clients.
func (r listRequest) toApp() app.ListRequest {
	sync := true
	if r.SyncToDB != nil {
		sync = *r.SyncToDB
	}
	return app.ListRequest{Limit: r.Limit, Cursor: r.Cursor, Sync: sync}
}

type listConversationsRequest struct {
	IntegrationID uuid.UUID `json:"integrationId"`
	listRequest
}

func (s *Server) handleListConversations(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req listConversationsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.IntegrationID == uuid.Nil {
		return apperrors.ValidationError("missing integrationId")
	}

	list, err := s.instagram.ListConversations(c.Request().Context(), userID, req.IntegrationID, req.toApp())
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"conversations": list.Conversations,
		"hasMore":       list.HasMore,
		"nextCursor":    list.NextCursor,
	})
}

type listMessagesRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
	listRequest
}

func (s *Server) handleListMessages(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req listMessagesRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.ConversationID == uuid.Nil {
		return apperrors.ValidationError("missing conversationId")
	}

	list, err := s.instagram.ListMessages(c.Request().Context(), userID, req.ConversationID, req.toApp())
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"messages":   list.Messages,
		"hasMore":    list.HasMore,
		"nextCursor": list.NextCursor,
		"conversation": map[string]any{
			"canReplyUntil": list.CanReplyUntil,
			"windowOpen":    list.WindowOpen,
		},
	})
}

type priorityRequest struct {
	IsPriority             bool       `json:"isPriority"`
	AutoReminderEnabled    bool       `json:"autoReminderEnabled"`
	AutoReminderTemplateID *uuid.UUID `json:"autoReminderTemplateId"`
	AutoReminderHours      int        `json:"autoReminderHours"`
}

func (s *Server) handleSetPriority(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req priorityRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	err = s.instagram.SetPriority(c.Request().Context(), userID, id, app.PriorityRequest{
		IsPriority:             req.IsPriority,
		AutoReminderEnabled:    req.AutoReminderEnabled,
		AutoReminderTemplateID: req.AutoReminderTemplateID,
		AutoReminderHours:      req.AutoReminderHours,
	})
	if err != nil {
		return err
	}
	return respondOK(c, nil)
}

func (s *Server) handleListTemplates(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	templates, err := s.instagram.ListTemplates(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{"templates": templates})
}

type createTemplateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) handleCreateTemplate(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	tmpl, err := s.instagram.CreateTemplate(c.Request().Context(), userID, req.Name, req.Content)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{"template": tmpl})
}

func (s *Server) handleDisconnectInstagram(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.instagram.Disconnect(c.Request().Context(), userID, id); err != nil {
		return err
	}
	return respondOK(c, nil)
}

func (s *Server) handleInstagramConnect(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var imoID *uuid.UUID
	if raw := c.QueryParam("imoId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.ValidationError("invalid imoId").WithField("imo_id", raw)
		}
		imoID = &id
	}

	authURL, err := s.instagram.ConnectURL(userID, imoID)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{"url": authURL})
}

// handleInstagramCallback finishes the OAuth redirect and always sends the
// browser back to the settings page with the outcome.
func (s *Server) handleInstagramCallback(c echo.Context) error {
	if errParam := c.QueryParam("error"); errParam != "" {
		slog.WarnContext(c.Request().Context(), "Instagram authorization denied", "error", errParam, "reason", c.QueryParam("error_reason"))
		return s.redirectToSettings(c, "instagram", "error")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), oauthTimeout)
	defer cancel()

	integration, err := s.instagram.CompleteOAuth(ctx, c.QueryParam("code"), c.QueryParam("state"))
	if err != nil {
		logError(c, apperrors.AsStructuredError(err))
		return s.redirectToSettings(c, "instagram", "error")
	}

	slog.InfoContext(ctx, "Instagram OAuth completed", "integration_id", integration.ID, "username", integration.InstagramUsername)
	return s.redirectToSettings(c, "instagram", "connected")
}

func (s *Server) redirectToSettings(c echo.Context, provider, outcome string) error {
	target := s.config.AppBaseURL + integrationsSettings + "?" + url.Values{provider: {outcome}}.Encode()
	if err := c.Redirect(http.StatusFound, target); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}
