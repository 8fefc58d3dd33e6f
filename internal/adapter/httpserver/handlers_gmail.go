package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/commhub/internal/app"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

func (s *Server) registerGmailRoutes(authLimiter echo.MiddlewareFunc) {
	s.echo.GET("/auth/gmail/start", s.handleGmailStart, authLimiter, s.requireUser)
	s.echo.GET("/auth/gmail/callback", s.handleGmailCallback, authLimiter)

	g := s.echo.Group("/api/gmail", s.requireUser)
	g.POST("/send", s.handleGmailSend)
	g.POST("/sync", s.handleGmailSync)
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate OAuth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// handleGmailStart remembers the state and user in the session cookie and
// sends the browser to Google's consent screen.
func (s *Server) handleGmailStart(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	state, err := generateOAuthState()
	if err != nil {
		return apperrors.InternalError("failed to generate OAuth state", err)
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Discarding unreadable session", "error", err)
	}
	session.Values[sessionKeyOAuthState] = state
	session.Values[sessionKeyUserID] = userID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save OAuth state session", err)
	}

	if err := c.Redirect(http.StatusFound, s.gmail.ConnectURL(state)); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleGmailCallback(c echo.Context) error {
	ctx := c.Request().Context()

	if errParam := c.QueryParam("error"); errParam != "" {
		slog.WarnContext(ctx, "Gmail authorization denied", "error", errParam)
		return s.redirectToSettings(c, "gmail", "error")
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return apperrors.ValidationError("invalid session")
	}

	expectedState, ok := session.Values[sessionKeyOAuthState].(string)
	if !ok || expectedState == "" {
		return apperrors.ValidationError("missing OAuth state")
	}
	if c.QueryParam("state") != expectedState {
		return apperrors.ValidationError("invalid OAuth state")
	}
	rawUserID, _ := session.Values[sessionKeyUserID].(string)
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return apperrors.ValidationError("invalid OAuth session")
	}

	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to clear OAuth session", err)
	}

	oauthCtx, cancel := context.WithTimeout(ctx, oauthTimeout)
	defer cancel()

	integration, err := s.gmail.CompleteOAuth(oauthCtx, userID, c.QueryParam("code"))
	if err != nil {
		logError(c, apperrors.AsStructuredError(err))
		return s.redirectToSettings(c, "gmail", "error")
	}

	slog.InfoContext(ctx, "Gmail OAuth completed", "integration_id", integration.ID, "user_id", userID)
	return s.redirectToSettings(c, "gmail", "connected")
}

func (s *Server) handleGmailSend(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var req app.SendEmailRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	res, err := s.gmail.Send(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"messageId":       res.GmailMessageID,
		"threadId":        res.ThreadID,
		"messageIdHeader": res.MessageID,
	})
}

func (s *Server) handleGmailSync(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	res, err := s.gmail.SyncForUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"syncType":       res.Type,
		"messagesSynced": res.MessagesSynced,
		"threadsUpdated": res.ThreadsUpdated,
	})
}
