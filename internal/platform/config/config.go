package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv     string `env:"APP_ENV" default:"development"`
	Port       string `env:"PORT" default:"8080"`
	AppBaseURL string `env:"APP_BASE_URL" default:"http://localhost:3000"`
	// Comma-separated extra origins allowed to open the inbox websocket.
	WSAllowedOrigins string `env:"WS_ALLOWED_ORIGINS"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	CronSecret         string `env:"CRON_SECRET"`
	ServiceKey         string `env:"SERVICE_KEY"`
	SessionSecret      string `env:"SESSION_SECRET"`
	APIJWTSecret       string `env:"API_JWT_SECRET"`

	MetaAppSecret         string `env:"META_APP_SECRET"`
	MetaVerifyToken       string `env:"META_VERIFY_TOKEN"`
	InstagramAppID        string `env:"INSTAGRAM_APP_ID"`
	InstagramAppSecret    string `env:"INSTAGRAM_APP_SECRET"`
	InstagramRedirectURI  string `env:"INSTAGRAM_REDIRECT_URI"`
	GraphAPIBaseURL       string `env:"GRAPH_API_BASE_URL" default:"https://graph.facebook.com"`
	InstagramGraphBaseURL string `env:"INSTAGRAM_GRAPH_BASE_URL" default:"https://graph.instagram.com"`
	InstagramOAuthBaseURL string `env:"INSTAGRAM_OAUTH_BASE_URL" default:"https://api.instagram.com"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI"`

	SlackAPIURL string `env:"SLACK_API_URL" default:"https://slack.com/api/"`

	MediaBucket    string `env:"MEDIA_BUCKET" default:"instagram-media"`
	MediaEndpoint  string `env:"MEDIA_ENDPOINT"`
	MediaRegion    string `env:"MEDIA_REGION" default:"us-east-1"`
	MediaPublicURL string `env:"MEDIA_PUBLIC_URL"`

	SchedulerEnabled bool   `env:"SCHEDULER_ENABLED" default:"true"`
	LogLevel         string `env:"LOG_LEVEL" default:"info"`
	LogFormat        string `env:"LOG_FORMAT" default:"text"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"1h"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// WebSocketOrigins lists the app's own origin followed by WS_ALLOWED_ORIGINS.
func (c *Config) WebSocketOrigins() []string {
	origins := []string{c.AppBaseURL}
	for o := range strings.SplitSeq(c.WSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// InstagramClientSecret is the secret used for the Instagram Login token
// exchange. Apps that share one Meta app fall back to META_APP_SECRET.
func (c *Config) InstagramClientSecret() string {
	if c.InstagramAppSecret != "" {
		return c.InstagramAppSecret
	}
	return c.MetaAppSecret
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// requiredOrder keeps validation errors deterministic.
var requiredOrder = []string{
	"DATABASE_URL",
	"REDIS_URL",
	"TOKEN_ENCRYPTION_KEY",
	"CRON_SECRET",
	"SESSION_SECRET",
	"API_JWT_SECRET",
	"META_APP_SECRET",
	"META_VERIFY_TOKEN",
	"INSTAGRAM_APP_ID",
	"INSTAGRAM_REDIRECT_URI",
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URI",
}

func validate(cfg *Config) error {
	values := map[string]string{
		"DATABASE_URL":           cfg.DatabaseURL,
		"REDIS_URL":              cfg.RedisURL,
		"TOKEN_ENCRYPTION_KEY":   cfg.TokenEncryptionKey,
		"CRON_SECRET":            cfg.CronSecret,
		"SESSION_SECRET":         cfg.SessionSecret,
		"API_JWT_SECRET":         cfg.APIJWTSecret,
		"META_APP_SECRET":        cfg.MetaAppSecret,
		"META_VERIFY_TOKEN":      cfg.MetaVerifyToken,
		"INSTAGRAM_APP_ID":       cfg.InstagramAppID,
		"INSTAGRAM_REDIRECT_URI": cfg.InstagramRedirectURI,
		"GOOGLE_CLIENT_ID":       cfg.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":   cfg.GoogleClientSecret,
		"GOOGLE_REDIRECT_URI":    cfg.GoogleRedirectURI,
	}
	for _, name := range requiredOrder {
		if values[name] == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.CronSecret) < 16 {
		return errors.New("CRON_SECRET must be at least 16 characters")
	}

	keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}

	if cfg.IsProduction() {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
