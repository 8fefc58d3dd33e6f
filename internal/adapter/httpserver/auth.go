package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/centrifugal/centrifuge"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
)

const contextKeyUserID = "userID"

var errMissingBearer = errors.New("missing bearer token")

// requireUser authenticates API calls with an HS256 JWT whose subject is the
// user id.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := bearerToken(c.Request())
		if err != nil {
			return apperrors.UnauthorizedError("authorization required")
		}

		userID, err := parseUserToken(s.config.APIJWTSecret, raw)
		if err != nil {
			slog.InfoContext(c.Request().Context(), "Rejected API token", "path", c.Request().URL.Path, "reason", err)
			return apperrors.UnauthorizedError("invalid or expired token")
		}

		c.Set(contextKeyUserID, userID)
		return next(c)
	}
}

// requireCronSecret guards server-to-server endpoints with the shared cron
// secret.
func (s *Server) requireCronSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := bearerToken(c.Request())
		if err != nil || s.config.CronSecret == "" ||
			subtle.ConstantTimeCompare([]byte(raw), []byte(s.config.CronSecret)) != 1 {
			return apperrors.UnauthorizedError("unauthorized")
		}
		return next(c)
	}
}

// websocketAuthMiddleware turns the JWT into centrifuge credentials. Browsers
// cannot set headers on websocket upgrades, so the token may also come from
// the token query parameter.
func (s *Server) websocketAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}

		userID, err := parseUserToken(s.config.APIJWTSecret, raw)
		if err != nil {
			slog.InfoContext(r.Context(), "Rejected websocket token", "reason", err)
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		cred := &centrifuge.Credentials{UserID: userID.String()}
		next.ServeHTTP(w, r.WithContext(centrifuge.SetCredentials(r.Context(), cred)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get(echo.HeaderAuthorization), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

func parseUserToken(secret, raw string) (uuid.UUID, error) {
	if secret == "" {
		return uuid.Nil, errors.New("jwt secret not configured")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	return userID, nil
}

func userIDFrom(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get(contextKeyUserID).(uuid.UUID)
	if !ok {
		return uuid.Nil, apperrors.InternalError("missing user id in context", nil)
	}
	return userID, nil
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid "+name).WithField(name, raw)
	}
	return id, nil
}
