package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/commhub/internal/app"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

func (s *Server) registerSlackRoutes() {
	s.echo.POST("/api/slack/policy-notification", s.handlePolicyNotification, s.requireCronSecret)
	s.echo.POST("/api/slack/connect", s.handleSlackConnect, s.requireUser)
}

func (s *Server) handlePolicyNotification(c echo.Context) error {
	var n app.PolicyNotification
	if err := c.Bind(&n); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	res, err := s.slack.NotifyPolicy(c.Request().Context(), n)
	if err != nil {
		return err
	}

	body := map[string]any{"ok": true, "results": res.Results}
	if res.Skipped {
		body["skipped"] = true
		body["reason"] = res.Reason
	}
	if err := c.JSON(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type slackConnectRequest struct {
	IMOID    uuid.UUID `json:"imoId"`
	BotToken string    `json:"botToken"`
}

func (s *Server) handleSlackConnect(c echo.Context) error {
	var req slackConnectRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	integration, err := s.slack.Connect(c.Request().Context(), req.IMOID, req.BotToken)
	if err != nil {
		return err
	}
	return respondOK(c, map[string]any{
		"teamId":   integration.TeamID,
		"teamName": integration.TeamName,
	})
}
