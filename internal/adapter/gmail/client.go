package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	me          = "me"
	labelInbox  = "INBOX"
	labelSent   = "SENT"
	labelUnread = "UNREAD"

	// InboxBatchSize is the number of messages fetched on an initial sync.
	InboxBatchSize int64 = 50

	provider = "gmail"
)

var (
	ErrUnauthorized   = errors.New("gmail authorization failed")
	ErrHistoryExpired = errors.New("gmail history id expired")
)

type Options struct {
	// Endpoint overrides the API base URL, for tests.
	Endpoint string
	Metrics  *metrics.ProviderMetrics
}

// Client is a Gmail API client bound to one integration's credentials.
type Client struct {
	svc     *gmailapi.Service
	metrics *metrics.ProviderMetrics
}

func NewClient(ctx context.Context, ts oauth2.TokenSource, opts Options) (*Client, error) {
	clientOpts := []option.ClientOption{option.WithTokenSource(ts)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gmailapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &Client{svc: svc, metrics: opts.Metrics}, nil
}

type Profile struct {
	EmailAddress string
	HistoryID    string
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	start := time.Now()
	p, err := c.svc.Users.GetProfile(me).Context(ctx).Do()
	err = mapError(err, nil)
	c.metrics.ObserveCall(provider, "get_profile", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &Profile{EmailAddress: p.EmailAddress, HistoryID: formatHistoryID(p.HistoryId)}, nil
}

// ListInbox returns the ids of the most recent inbox messages.
func (c *Client) ListInbox(ctx context.Context, limit int64) ([]string, error) {
	start := time.Now()
	resp, err := c.svc.Users.Messages.List(me).LabelIds(labelInbox).MaxResults(limit).Context(ctx).Do()
	err = mapError(err, nil)
	c.metrics.ObserveCall(provider, "list_inbox", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// History returns the ids of messages added since startHistoryID, deduplicated
// in order of appearance, plus the mailbox's current history id.
func (c *Client) History(ctx context.Context, startHistoryID string) ([]string, string, error) {
	startID, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid history id %q: %w", startHistoryID, err)
	}

	var (
		ids       []string
		seen      = make(map[string]struct{})
		latest    uint64
		pageToken string
	)

	for {
		start := time.Now()
		call := c.svc.Users.History.List(me).StartHistoryId(startID).HistoryTypes("messageAdded").LabelId(labelInbox).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		err = mapError(err, ErrHistoryExpired)
		c.metrics.ObserveCall(provider, "list_history", start, err)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list history: %w", err)
		}

		latest = max(latest, resp.HistoryId)
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, ok := seen[added.Message.Id]; ok {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				ids = append(ids, added.Message.Id)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return ids, formatHistoryID(latest), nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	start := time.Now()
	msg, err := c.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	err = mapError(err, nil)
	c.metrics.ObserveCall(provider, "get_message", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

// Send submits a base64url-encoded RFC 822 message, optionally into an
// existing thread.
func (c *Client) Send(ctx context.Context, raw, threadID string) (*gmailapi.Message, error) {
	start := time.Now()
	msg, err := c.svc.Users.Messages.Send(me, &gmailapi.Message{Raw: raw, ThreadId: threadID}).Context(ctx).Do()
	err = mapError(err, nil)
	c.metrics.ObserveCall(provider, "send", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

// mapError turns authorization failures into ErrUnauthorized and, when
// notFound is given, 404 responses into notFound.
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	if gerr, ok := errors.AsType[*googleapi.Error](err); ok {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		case gerr.Code == http.StatusNotFound && notFound != nil:
			return fmt.Errorf("%w: %w", notFound, err)
		}
		return err
	}

	// The token source reports a rejected refresh token as a RetrieveError.
	if rerr, ok := errors.AsType[*oauth2.RetrieveError](err); ok {
		if rerr.Response != nil && (rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}
	return err
}

func formatHistoryID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
