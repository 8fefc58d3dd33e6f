package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/retry"
	"github.com/pscheid92/commhub/internal/platform/version"
	"github.com/sony/gobreaker"
)

const (
	requestTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
	maxMediaBytes    = 50 << 20

	sendAPIVersion  = "v18.0"
	graphAPIVersion = "v21.0"

	// DefaultLongLivedExpiry is used when the token endpoint omits expires_in (60 days).
	DefaultLongLivedExpiry int64 = 5184000

	conversationFields = "id,updated_time,participants{id,username,name,profile_picture_url},messages{id,message,created_time,from}"
	messageFields      = "id,message,created_time,from,to,attachments,story"
	profileFields      = "id,username,name,account_type"
	participantFields  = "username,name,profile_picture_url"

	breakerComponent = "instagram"
)

var ErrCircuitOpen = errors.New("instagram api circuit breaker is open")

type Config struct {
	GraphBaseURL     string
	InstagramBaseURL string
	OAuthBaseURL     string
	AppID            string
	AppSecret        string
	RedirectURI      string
	HTTPClient       *http.Client
	Metrics          *metrics.ProviderMetrics
}

// Client talks to the Meta Graph API (sends) and the Instagram Graph API
// (OAuth, profiles, conversations, messages).
type Client struct {
	cfg     Config
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.ProviderMetrics
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		metrics: cfg.Metrics,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerComponent,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, breakerStateToFloat(to))
		},
	})
	return c
}

// isBreakerSuccess keeps client errors (bad token, closed window) from
// tripping the breaker. Only transport failures and 5xx count.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	if ge, ok := errors.AsType[*GraphError](err); ok {
		return ge.StatusCode < http.StatusInternalServerError
	}
	return false
}

func breakerStateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// SendMessage sends a text DM from the account igUserID and returns the
// provider message id.
func (c *Client) SendMessage(ctx context.Context, igUserID, token, recipientID, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"recipient":    map[string]string{"id": recipientID},
		"message":      map[string]string{"text": text},
		"access_token": token,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.cfg.GraphBaseURL, sendAPIVersion, url.PathEscape(igUserID))
	var out struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	if err := c.call(ctx, "send_message", http.MethodPost, endpoint, strings.NewReader(string(body)), "application/json", &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// ExchangeCode trades an OAuth authorization code for a short-lived token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*ShortLivedToken, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.AppID)
	form.Set("client_secret", c.cfg.AppSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code", code)

	var out ShortLivedToken
	endpoint := c.cfg.OAuthBaseURL + "/oauth/access_token"
	if err := c.call(ctx, "exchange_code", http.MethodPost, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	return &out, nil
}

// ExchangeLongLived trades a short-lived token for a 60-day token.
func (c *Client) ExchangeLongLived(ctx context.Context, shortLived string) (*LongLivedToken, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_exchange_token")
	q.Set("client_secret", c.cfg.AppSecret)
	q.Set("access_token", shortLived)
	return c.longLived(ctx, "exchange_long_lived", c.cfg.InstagramBaseURL+"/access_token?"+q.Encode())
}

// RefreshLongLived extends a long-lived token that is at least 24h old.
func (c *Client) RefreshLongLived(ctx context.Context, token string) (*LongLivedToken, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", token)
	endpoint := c.cfg.InstagramBaseURL + "/refresh_access_token?" + q.Encode()

	return retry.Do(ctx, retry.Outbound, classify, func() (*LongLivedToken, error) {
		return c.longLived(ctx, "refresh_token", endpoint)
	})
}

func (c *Client) longLived(ctx context.Context, op, endpoint string) (*LongLivedToken, error) {
	var out LongLivedToken
	if err := c.call(ctx, op, http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = DefaultLongLivedExpiry
	}
	return &out, nil
}

func (c *Client) GetProfile(ctx context.Context, token string) (*Profile, error) {
	q := url.Values{}
	q.Set("fields", profileFields)
	q.Set("access_token", token)

	var out Profile
	endpoint := fmt.Sprintf("%s/%s/me?%s", c.cfg.InstagramBaseURL, graphAPIVersion, q.Encode())
	if err := c.call(ctx, "get_profile", http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetParticipant(ctx context.Context, token, participantID string) (*domain.ParticipantProfile, error) {
	q := url.Values{}
	q.Set("fields", participantFields)
	q.Set("access_token", token)

	var out User
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.cfg.InstagramBaseURL, graphAPIVersion, url.PathEscape(participantID), q.Encode())
	if err := c.call(ctx, "get_participant", http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}
	return &domain.ParticipantProfile{
		Username:      out.Username,
		Name:          out.Name,
		ProfilePicURL: out.ProfilePictureURL,
	}, nil
}

func (c *Client) ListConversations(ctx context.Context, igUserID, token string, limit int, cursor string) (*ConversationPage, error) {
	q := pageQuery(token, conversationFields, limit, cursor)
	q.Set("platform", "instagram")

	var out struct {
		Data   []GraphConversation `json:"data"`
		Paging *paging             `json:"paging"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/conversations?%s", c.cfg.InstagramBaseURL, graphAPIVersion, url.PathEscape(igUserID), q.Encode())
	if err := c.call(ctx, "list_conversations", http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}

	page := &ConversationPage{Conversations: out.Data}
	if out.Paging != nil {
		page.HasMore = out.Paging.Next != ""
		page.NextCursor = out.Paging.Cursors.After
	}
	return page, nil
}

func (c *Client) ListMessages(ctx context.Context, igConversationID, token string, limit int, cursor string) (*MessagePage, error) {
	q := pageQuery(token, messageFields, limit, cursor)

	var out struct {
		Data   []GraphMessage `json:"data"`
		Paging *paging        `json:"paging"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages?%s", c.cfg.InstagramBaseURL, graphAPIVersion, url.PathEscape(igConversationID), q.Encode())
	if err := c.call(ctx, "list_messages", http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: out.Data}
	if out.Paging != nil {
		page.HasMore = out.Paging.Next != ""
		page.NextCursor = out.Paging.Cursors.After
	}
	return page, nil
}

func pageQuery(token, fields string, limit int, cursor string) url.Values {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("access_token", token)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("after", cursor)
	}
	return q
}

// Download fetches a media or avatar URL. CDN URLs are signed, so no token is sent.
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	type result struct {
		body        []byte
		contentType string
	}

	start := time.Now()
	res, err := retry.Do(ctx, retry.Outbound, retry.ClassifyHTTP, func() (result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return result{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.http.Do(req)
		if err != nil {
			return result{}, fmt.Errorf("download failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return result{}, &retry.StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
		if err != nil {
			return result{}, fmt.Errorf("failed to read body: %w", err)
		}
		return result{body: body, contentType: resp.Header.Get("Content-Type")}, nil
	})
	c.metrics.ObserveCall(breakerComponent, "download", start, err)
	if err != nil {
		return nil, "", err
	}
	return res.body, res.contentType, nil
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, body io.Reader, contentType string, out any) error {
	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, endpoint, body, contentType, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	c.metrics.ObserveCall(breakerComponent, op, start, err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseGraphError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

// classify retries token refreshes on server-side Graph failures only.
func classify(err error) retry.Action {
	if ge, ok := errors.AsType[*GraphError](err); ok {
		if ge.StatusCode >= http.StatusInternalServerError {
			return retry.Retry
		}
		return retry.Stop
	}
	if errors.Is(err, ErrCircuitOpen) {
		return retry.Stop
	}
	return retry.ClassifyHTTP(err)
}
