// Package bootstrap wires repositories, provider clients, and services for the
// server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/commhub/internal/adapter/gmail"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/mediastore"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/adapter/postgres"
	"github.com/pscheid92/commhub/internal/adapter/redis"
	"github.com/pscheid92/commhub/internal/adapter/slack"
	"github.com/pscheid92/commhub/internal/app"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/config"
	"github.com/pscheid92/commhub/internal/platform/crypto"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

type Metrics struct {
	Registry  *prometheus.Registry
	DB        *metrics.DBMetrics
	HTTP      *metrics.HTTPMetrics
	Webhook   *metrics.WebhookMetrics
	Provider  *metrics.ProviderMetrics
	Scheduler *metrics.SchedulerMetrics
	Messaging *metrics.MessagingMetrics
	WebSocket *metrics.WebSocketMetrics
}

func NewMetrics() *Metrics {
	reg := metrics.NewRegistry()
	return &Metrics{
		Registry:  reg,
		DB:        metrics.NewDBMetrics(reg),
		HTTP:      metrics.NewHTTPMetrics(reg),
		Webhook:   metrics.NewWebhookMetrics(reg),
		Provider:  metrics.NewProviderMetrics(reg),
		Scheduler: metrics.NewSchedulerMetrics(reg),
		Messaging: metrics.NewMessagingMetrics(reg),
		WebSocket: metrics.NewWebSocketMetrics(reg),
	}
}

type Services struct {
	Instagram *app.InstagramService
	Gmail     *app.GmailService
	Slack     *app.SlackService
	Inbound   *app.InboundService
	Scheduled *app.ScheduledProcessor
	Jobs      *app.JobProcessor
	Tokens    *app.TokenManager
}

// NewServices builds the application services. publisher may be nil when no
// websocket node runs in the process.
func NewServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *goredis.Client, publisher domain.InboxPublisher, m *Metrics, clock clockwork.Clock) (*Services, error) {
	cryptoSvc, err := crypto.NewAesGcmCryptoService(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto service: %w", err)
	}

	media, err := mediastore.New(ctx, mediastore.Config{
		Bucket:    cfg.MediaBucket,
		Region:    cfg.MediaRegion,
		Endpoint:  cfg.MediaEndpoint,
		PublicURL: cfg.MediaPublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media store: %w", err)
	}

	igRepo := postgres.NewInstagramIntegrationRepo(pool)
	convRepo := postgres.NewConversationRepo(pool)
	msgRepo := postgres.NewMessageRepo(pool)
	scheduledRepo := postgres.NewScheduledMessageRepo(pool)
	templateRepo := postgres.NewTemplateRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	gmailRepo := postgres.NewGmailIntegrationRepo(pool)
	mailboxRepo := postgres.NewGmailMailboxRepo(pool)
	slackRepo := postgres.NewSlackRepo(pool)

	graph := instagram.NewClient(instagram.Config{
		GraphBaseURL:     cfg.GraphAPIBaseURL,
		InstagramBaseURL: cfg.InstagramGraphBaseURL,
		OAuthBaseURL:     cfg.InstagramOAuthBaseURL,
		AppID:            cfg.InstagramAppID,
		AppSecret:        cfg.InstagramClientSecret(),
		RedirectURI:      cfg.InstagramRedirectURI,
		Metrics:          m.Provider,
	})
	slackClient := slack.NewClient(cfg.SlackAPIURL, m.Provider)
	gmailOAuth := app.NewGmailOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	gmailClients := func(ctx context.Context, ts oauth2.TokenSource) (app.GmailAPI, error) {
		c, err := gmail.NewClient(ctx, ts, gmail.Options{Metrics: m.Provider})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	creds := app.NewCredentialStore(app.CredentialStoreDeps{
		Crypto:    cryptoSvc,
		Instagram: igRepo,
		Gmail:     gmailRepo,
		Slack:     slackRepo,
		Clock:     clock,
	})
	tokens := app.NewTokenManager(creds, gmailRepo, igRepo, graph, gmailOAuth, m.Provider, clock)

	scheduled := app.NewScheduledProcessor(app.ScheduledProcessorDeps{
		Scheduled:     scheduledRepo,
		Conversations: convRepo,
		Messages:      msgRepo,
		Templates:     templateRepo,
		Credentials:   creds,
		Tokens:        tokens,
		Graph:         graph,
		Publisher:     publisher,
		Metrics:       m.Messaging,
		Clock:         clock,
	})
	jobs := app.NewJobProcessor(app.JobProcessorDeps{
		Jobs:          jobRepo,
		Integrations:  igRepo,
		Conversations: convRepo,
		Messages:      msgRepo,
		Credentials:   creds,
		Graph:         graph,
		Media:         media,
		Scheduled:     scheduled,
		Metrics:       m.Messaging,
		Clock:         clock,
	})

	return &Services{
		Instagram: app.NewInstagramService(app.InstagramServiceDeps{
			Config: app.InstagramConfig{
				AppID:       cfg.InstagramAppID,
				RedirectURI: cfg.InstagramRedirectURI,
				StateSecret: cfg.SessionSecret,
			},
			Integrations:  igRepo,
			Conversations: convRepo,
			Messages:      msgRepo,
			Scheduled:     scheduledRepo,
			Templates:     templateRepo,
			Credentials:   creds,
			Tokens:        tokens,
			Graph:         graph,
			Limiter:       redis.NewRateLimiter(rdb, igRepo, clock),
			Publisher:     publisher,
			Metrics:       m.Messaging,
			Clock:         clock,
		}),
		Gmail: app.NewGmailService(app.GmailServiceDeps{
			Integrations: gmailRepo,
			Mailbox:      mailboxRepo,
			Credentials:  creds,
			Tokens:       tokens,
			Clients:      gmailClients,
			OAuth:        gmailOAuth,
			Metrics:      m.Messaging,
			Clock:        clock,
		}),
		Slack: app.NewSlackService(app.SlackServiceDeps{
			Integrations: slackRepo,
			Channels:     slackRepo,
			Leaderboard:  slackRepo,
			Credentials:  creds,
			API:          slackClient,
			Metrics:      m.Messaging,
			Clock:        clock,
		}),
		Inbound: app.NewInboundService(app.InboundServiceDeps{
			Integrations:  igRepo,
			Conversations: convRepo,
			Messages:      msgRepo,
			Jobs:          jobs,
			Scheduled:     scheduled,
			Debouncer:     redis.NewDebouncer(rdb),
			Publisher:     publisher,
			Metrics:       m.Webhook,
			Clock:         clock,
		}),
		Scheduled: scheduled,
		Jobs:      jobs,
		Tokens:    tokens,
	}, nil
}
