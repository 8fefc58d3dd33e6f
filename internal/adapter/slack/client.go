package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/slack-go/slack"
)

const (
	requestTimeout = 10 * time.Second
	provider       = "slack"
)

// Client posts to Slack with per-call bot tokens. Each integration carries its
// own token, so no slack.Client is kept between calls.
type Client struct {
	apiURL     string
	httpClient *http.Client
	metrics    *metrics.ProviderMetrics
}

// NewClient builds a client. apiURL must end with a slash; empty means the
// public Slack API.
func NewClient(apiURL string, pm *metrics.ProviderMetrics) *Client {
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		metrics:    pm,
	}
}

func (c *Client) api(token string) *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(c.httpClient)}
	if c.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(c.apiURL))
	}
	return slack.New(token, opts...)
}

// PostBlocks posts a block message and returns its timestamp. A non-empty
// threadTS posts the message as a reply in that thread.
func (c *Client) PostBlocks(ctx context.Context, token, channel, text string, blocks []slack.Block, threadTS string) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	start := time.Now()
	_, ts, err := c.api(token).PostMessageContext(ctx, channel, opts...)
	c.metrics.ObserveCall(provider, "post_message", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to post to channel %s: %w", channel, err)
	}
	return ts, nil
}

type AuthInfo struct {
	TeamID string
	Team   string
	UserID string
	BotID  string
}

// AuthTest validates a bot token and returns the workspace it belongs to.
func (c *Client) AuthTest(ctx context.Context, token string) (*AuthInfo, error) {
	start := time.Now()
	resp, err := c.api(token).AuthTestContext(ctx)
	c.metrics.ObserveCall(provider, "auth_test", start, err)
	if err != nil {
		return nil, fmt.Errorf("slack auth test failed: %w", err)
	}
	return &AuthInfo{TeamID: resp.TeamID, Team: resp.Team, UserID: resp.UserID, BotID: resp.BotID}, nil
}
