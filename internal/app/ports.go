package app

import (
	"context"

	"github.com/pscheid92/commhub/internal/adapter/gmail"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/slack"
	"github.com/pscheid92/commhub/internal/domain"
	slackapi "github.com/slack-go/slack"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
)

// InstagramAPI is the subset of the Graph client used by the services.
type InstagramAPI interface {
	SendMessage(ctx context.Context, igUserID, token, recipientID, text string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*instagram.ShortLivedToken, error)
	ExchangeLongLived(ctx context.Context, shortLived string) (*instagram.LongLivedToken, error)
	RefreshLongLived(ctx context.Context, token string) (*instagram.LongLivedToken, error)
	GetProfile(ctx context.Context, token string) (*instagram.Profile, error)
	GetParticipant(ctx context.Context, token, participantID string) (*domain.ParticipantProfile, error)
	ListConversations(ctx context.Context, igUserID, token string, limit int, cursor string) (*instagram.ConversationPage, error)
	ListMessages(ctx context.Context, igConversationID, token string, limit int, cursor string) (*instagram.MessagePage, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type MediaStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// GmailAPI is a mailbox client bound to one integration's token source.
type GmailAPI interface {
	Profile(ctx context.Context) (*gmail.Profile, error)
	ListInbox(ctx context.Context, limit int64) ([]string, error)
	History(ctx context.Context, startHistoryID string) ([]string, string, error)
	GetMessage(ctx context.Context, id string) (*gmailapi.Message, error)
	Send(ctx context.Context, raw, threadID string) (*gmailapi.Message, error)
}

// GmailClientFactory builds a mailbox client for a token source.
type GmailClientFactory func(ctx context.Context, ts oauth2.TokenSource) (GmailAPI, error)

type SlackAPI interface {
	PostBlocks(ctx context.Context, token, channel, text string, blocks []slackapi.Block, threadTS string) (string, error)
	AuthTest(ctx context.Context, token string) (*slack.AuthInfo, error)
}
