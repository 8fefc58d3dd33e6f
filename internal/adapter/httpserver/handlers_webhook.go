package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/platform/correlation"
)

const (
	webhookTimeout = 10 * time.Second
	maxWebhookBody = 1 << 20
	eventReceived  = "EVENT_RECEIVED"
)

func (s *Server) registerWebhookRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/webhooks/instagram", s.handleWebhookVerify, rateLimiter)
	s.echo.POST("/webhooks/instagram", s.handleWebhookEvent, rateLimiter)
}

// handleWebhookVerify answers Meta's subscription handshake.
func (s *Server) handleWebhookVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || s.config.MetaVerifyToken == "" || token != s.config.MetaVerifyToken {
		slog.WarnContext(c.Request().Context(), "Webhook verification failed", "mode", mode)
		return c.String(http.StatusForbidden, "Forbidden")
	}

	slog.InfoContext(c.Request().Context(), "Webhook verified")
	return c.String(http.StatusOK, challenge)
}

// handleWebhookEvent always acknowledges with 200 so Meta does not retry
// deliveries that were rejected or failed to process.
func (s *Server) handleWebhookEvent(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		slog.WarnContext(ctx, "Failed to read webhook body", "error", err)
		return ackWebhook(c)
	}

	if !instagram.VerifySignature(s.config.MetaAppSecret, body, c.Request().Header.Get(instagram.SignatureHeader)) {
		slog.WarnContext(ctx, "Invalid webhook signature", "remote_ip", c.RealIP())
		if s.webhookMetrics != nil {
			s.webhookMetrics.SignatureFailures.Inc()
		}
		return ackWebhook(c)
	}

	var payload instagram.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.WarnContext(ctx, "Failed to decode webhook payload", "error", err)
		return ackWebhook(c)
	}
	if payload.Object != instagram.ObjectInstagram {
		slog.DebugContext(ctx, "Ignoring webhook object", "object", payload.Object)
		return ackWebhook(c)
	}

	// Detached so a dropped connection does not abort processing.
	procCtx, cancel := context.WithTimeout(correlation.Detach(ctx), webhookTimeout)
	defer cancel()
	if err := s.inbound.HandlePayload(procCtx, &payload); err != nil {
		slog.ErrorContext(ctx, "Webhook processing failed", "entries", len(payload.Entry), "error", err)
	}

	return ackWebhook(c)
}

func ackWebhook(c echo.Context) error {
	return c.String(http.StatusOK, eventReceived)
}
