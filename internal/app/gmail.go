package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/gmail"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/userinfo.email",
}

// NewGmailOAuthConfig returns the Google OAuth client used for connect and refresh.
func NewGmailOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       gmailScopes,
		Endpoint:     google.Endpoint,
	}
}

type SyncResult struct {
	Type           domain.SyncType `json:"type"`
	MessagesSynced int             `json:"messagesSynced"`
	ThreadsUpdated int             `json:"threadsUpdated"`
}

type SyncAllResult struct {
	Integrations   int      `json:"integrations"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	MessagesSynced int      `json:"messagesSynced"`
	Errors         []string `json:"errors"`
}

type SendEmailRequest struct {
	To         []string `json:"to"`
	Cc         []string `json:"cc"`
	Bcc        []string `json:"bcc"`
	Subject    string   `json:"subject"`
	HTML       string   `json:"html"`
	Text       string   `json:"text"`
	ReplyTo    string   `json:"replyTo"`
	ThreadID   string   `json:"threadId"`
	MessageID  string   `json:"messageId"`
	InReplyTo  string   `json:"inReplyTo"`
	References []string `json:"references"`
}

type SendEmailResult struct {
	GmailMessageID string `json:"messageId"`
	ThreadID       string `json:"threadId"`
	MessageID      string `json:"messageIdHeader"`
}

// GmailService connects mailboxes, mirrors their inbox into threads, and
// sends mail on the user's behalf.
type GmailService struct {
	integrations domain.GmailIntegrationRepository
	mailbox      domain.GmailMailboxRepository
	creds        *CredentialStore
	tokens       *TokenManager
	clients      GmailClientFactory
	oauth        *oauth2.Config
	metrics      *metrics.MessagingMetrics
	clock        clockwork.Clock
}

type GmailServiceDeps struct {
	Integrations domain.GmailIntegrationRepository
	Mailbox      domain.GmailMailboxRepository
	Credentials  *CredentialStore
	Tokens       *TokenManager
	Clients      GmailClientFactory
	OAuth        *oauth2.Config
	Metrics      *metrics.MessagingMetrics
	Clock        clockwork.Clock
}

func NewGmailService(d GmailServiceDeps) *GmailService {
	return &GmailService{
		integrations: d.Integrations,
		mailbox:      d.Mailbox,
		creds:        d.Credentials,
		tokens:       d.Tokens,
		clients:      d.Clients,
		oauth:        d.OAuth,
		metrics:      d.Metrics,
		clock:        d.Clock,
	}
}

// ConnectURL returns the Google consent URL. Offline access with forced
// consent makes Google return a refresh token on every connect.
func (s *GmailService) ConnectURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (s *GmailService) CompleteOAuth(ctx context.Context, userID uuid.UUID, code string) (*domain.GmailIntegration, error) {
	if code == "" {
		return nil, apperrors.ValidationError("missing authorization code")
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.ExternalError("failed to exchange authorization code", err)
	}

	client, err := s.clients(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, apperrors.InternalError("failed to create gmail client", err)
	}
	profile, err := client.Profile(ctx)
	if err != nil {
		return nil, apperrors.ExternalError("failed to fetch gmail profile", err)
	}

	access, err := s.creds.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	var refresh string
	if token.RefreshToken != "" {
		if refresh, err = s.creds.Encrypt(token.RefreshToken); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultGmailTokenTTL)
	}

	in, err := s.integrations.Upsert(ctx, &domain.GmailIntegration{
		UserID:                userID,
		GmailAddress:          profile.EmailAddress,
		AccessTokenEncrypted:  access,
		RefreshTokenEncrypted: refresh,
		TokenExpiresAt:        &expiresAt,
		IntegrationStatus:     domain.IntegrationStatus{LastRefreshAt: &now},
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to save gmail integration", err)
	}

	slog.InfoContext(ctx, "Gmail account connected", "integration_id", in.ID, "address", in.GmailAddress)
	return in, nil
}

// Sync mirrors new inbox messages. Without a stored history id, or when
// Gmail no longer has it, the latest inbox page is fetched instead.
func (s *GmailService) Sync(ctx context.Context, integrationID uuid.UUID) (*SyncResult, error) {
	in, err := s.integrations.GetByID(ctx, integrationID)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return nil, apperrors.NotFoundError("gmail integration not found")
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load gmail integration", err)
	}
	if !in.Usable() {
		return nil, apperrors.ValidationError("gmail account is not connected").WithCode(apperrors.CodeNotConnected)
	}

	res, err := s.sync(ctx, in)
	if err != nil {
		typ := domain.SyncIncremental
		if res != nil {
			typ = res.Type
		}
		s.writeSyncLog(ctx, domain.SyncLog{IntegrationID: in.ID, SyncType: typ, Status: "failed", ErrorMessage: err.Error()})
		if errors.Is(err, gmail.ErrUnauthorized) {
			s.tokens.MarkGmailExpired(ctx, in.ID, "Authorization failed during sync")
			return nil, apperrors.UnauthorizedError("gmail authorization failed, reconnect the account").
				WithCode(apperrors.CodeAuthFailed)
		}
		if _, ok := errors.AsType[*apperrors.Error](err); ok {
			return nil, err
		}
		return nil, apperrors.ExternalError("gmail sync failed", err)
	}

	s.writeSyncLog(ctx, domain.SyncLog{IntegrationID: in.ID, SyncType: res.Type, MessagesSynced: res.MessagesSynced, Status: "success"})
	slog.InfoContext(ctx, "Gmail sync finished", "integration_id", in.ID, "type", res.Type, "messages", res.MessagesSynced, "threads", res.ThreadsUpdated)
	return res, nil
}

// SyncForUser syncs the mailbox connected by userID.
func (s *GmailService) SyncForUser(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	in, err := s.integrations.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return nil, apperrors.ValidationError("gmail account is not connected").WithCode(apperrors.CodeNotConnected)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load gmail integration", err)
	}
	return s.Sync(ctx, in.ID)
}

func (s *GmailService) sync(ctx context.Context, in *domain.GmailIntegration) (*SyncResult, error) {
	client, err := s.client(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{Type: domain.SyncIncremental}
	var (
		ids       []string
		historyID string
	)

	if in.HistoryID != "" {
		added, latest, err := client.History(ctx, in.HistoryID)
		switch {
		case errors.Is(err, gmail.ErrHistoryExpired):
			slog.WarnContext(ctx, "Gmail history expired, falling back to initial sync", "integration_id", in.ID)
		case err != nil:
			return res, err
		default:
			ids, historyID = added, cmp.Or(latest, in.HistoryID)
		}
	}

	if historyID == "" {
		res.Type = domain.SyncInitial
		profile, err := client.Profile(ctx)
		if err != nil {
			return res, err
		}
		if ids, err = client.ListInbox(ctx, gmail.InboxBatchSize); err != nil {
			return res, err
		}
		historyID = profile.HistoryID
	}

	threads := make(map[string][]*domain.GmailMessage)
	var order []string
	for _, id := range ids {
		raw, err := client.GetMessage(ctx, id)
		if err != nil {
			if errors.Is(err, gmail.ErrUnauthorized) {
				return res, err
			}
			slog.WarnContext(ctx, "Failed to fetch gmail message", "integration_id", in.ID, "message_id", id, "error", err)
			continue
		}
		if gmail.IsOutgoingOnly(raw) {
			continue
		}

		msg := gmail.ParseMessage(raw)
		if _, ok := threads[msg.GmailThreadID]; !ok {
			order = append(order, msg.GmailThreadID)
		}
		threads[msg.GmailThreadID] = append(threads[msg.GmailThreadID], msg)
	}

	for _, threadID := range order {
		inserted, err := s.storeThread(ctx, in.ID, threadID, threads[threadID])
		if err != nil {
			return res, err
		}
		res.MessagesSynced += inserted
		res.ThreadsUpdated++
	}

	if err := s.integrations.UpdateSyncState(ctx, in.ID, historyID, s.clock.Now()); err != nil {
		return res, apperrors.InternalError("failed to save sync state", err)
	}
	return res, nil
}

// storeThread upserts the thread and inserts its messages, returning how many
// were new. Counters on the thread only grow by newly inserted messages.
func (s *GmailService) storeThread(ctx context.Context, integrationID uuid.UUID, threadID string, msgs []*domain.GmailMessage) (int, error) {
	latest := msgs[0]
	for _, m := range msgs[1:] {
		if m.SentAt.After(latest.SentAt) {
			latest = m
		}
	}

	thread := &domain.GmailThread{
		IntegrationID: integrationID,
		GmailThreadID: threadID,
		Subject:       latest.Subject,
		SubjectHash:   gmail.SubjectHash(latest.Subject),
		Snippet:       latest.Snippet,
		LastMessageAt: latest.SentAt,
	}
	stored, err := s.mailbox.UpsertThread(ctx, thread)
	if err != nil {
		return 0, apperrors.InternalError("failed to store gmail thread", err)
	}

	inserted, unread := 0, 0
	for _, m := range msgs {
		m.ThreadID = stored.ID
		ok, err := s.mailbox.InsertMessage(ctx, m)
		if err != nil {
			return inserted, apperrors.InternalError("failed to store gmail message", err)
		}
		if !ok {
			continue
		}
		inserted++
		if !m.IsRead {
			unread++
		}
	}

	if inserted > 0 {
		thread.MessageCount, thread.UnreadCount = inserted, unread
		if _, err := s.mailbox.UpsertThread(ctx, thread); err != nil {
			return inserted, apperrors.InternalError("failed to update gmail thread", err)
		}
	}
	return inserted, nil
}

// SyncAll syncs every connected mailbox one after another.
func (s *GmailService) SyncAll(ctx context.Context) (*SyncAllResult, error) {
	integrations, err := s.integrations.ListActive(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list gmail integrations", err)
	}

	res := &SyncAllResult{Integrations: len(integrations), Errors: []string{}}
	for _, in := range integrations {
		if ctx.Err() != nil {
			break
		}
		r, err := s.Sync(ctx, in.ID)
		if err != nil {
			slog.WarnContext(ctx, "Gmail sync failed", "integration_id", in.ID, "error", err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("Integration %s: %v", in.ID, err))
			continue
		}
		res.Succeeded++
		res.MessagesSynced += r.MessagesSynced
	}
	return res, nil
}

// Send delivers an email from the user's connected mailbox.
func (s *GmailService) Send(ctx context.Context, userID uuid.UUID, req SendEmailRequest) (*SendEmailResult, error) {
	if len(req.To) == 0 {
		return nil, apperrors.ValidationError("at least one recipient is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, apperrors.ValidationError("subject is required")
	}
	if req.HTML == "" && req.Text == "" {
		return nil, apperrors.ValidationError("html or text body is required")
	}

	in, err := s.integrations.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return nil, apperrors.ValidationError("gmail account is not connected").WithCode(apperrors.CodeNotConnected)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load gmail integration", err)
	}
	if !in.Usable() {
		return nil, apperrors.ValidationError("gmail account is not connected").WithCode(apperrors.CodeNotConnected)
	}

	client, err := s.client(ctx, in)
	if err != nil {
		return nil, err
	}

	messageID := req.MessageID
	if messageID == "" {
		messageID = gmail.NewMessageID()
	}
	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = in.GmailAddress
	}

	mime, err := gmail.BuildMIME(gmail.MIMEParams{
		From:       in.FromHeader(),
		To:         req.To,
		Cc:         req.Cc,
		Bcc:        req.Bcc,
		Subject:    req.Subject,
		HTML:       req.HTML,
		Text:       req.Text,
		ReplyTo:    replyTo,
		MessageID:  messageID,
		InReplyTo:  req.InReplyTo,
		References: req.References,
		Date:       s.clock.Now(),
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to build email", err)
	}

	sent, err := client.Send(ctx, gmail.EncodeRaw(mime), req.ThreadID)
	if err != nil {
		s.writeSyncLog(ctx, domain.SyncLog{IntegrationID: in.ID, SyncType: domain.SyncSend, Status: "failed", ErrorMessage: err.Error()})
		if errors.Is(err, gmail.ErrUnauthorized) {
			s.tokens.MarkGmailExpired(ctx, in.ID, "Authorization failed during send")
			return nil, apperrors.UnauthorizedError("gmail authorization failed, reconnect the account").
				WithCode(apperrors.CodeAuthFailed)
		}
		return nil, apperrors.ExternalError("failed to send email", err)
	}

	if err := s.integrations.IncrementAPICalls(ctx, in.ID); err != nil {
		slog.WarnContext(ctx, "Failed to bump gmail api counter", "integration_id", in.ID, "error", err)
	}
	s.writeSyncLog(ctx, domain.SyncLog{IntegrationID: in.ID, SyncType: domain.SyncSend, MessagesSynced: 1, Status: "success"})
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(domain.ProviderGmail), "direct").Inc()
	}

	slog.InfoContext(ctx, "Email sent", "integration_id", in.ID, "gmail_message_id", sent.Id, "recipients", len(req.To)+len(req.Cc)+len(req.Bcc))
	return &SendEmailResult{GmailMessageID: sent.Id, ThreadID: sent.ThreadId, MessageID: messageID}, nil
}

func (s *GmailService) client(ctx context.Context, in *domain.GmailIntegration) (GmailAPI, error) {
	token, err := s.tokens.EnsureGmailToken(ctx, in)
	if err != nil {
		return nil, err
	}
	client, err := s.clients(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, apperrors.InternalError("failed to create gmail client", err)
	}
	return client, nil
}

func (s *GmailService) writeSyncLog(ctx context.Context, entry domain.SyncLog) {
	if err := s.mailbox.WriteSyncLog(ctx, entry); err != nil {
		slog.WarnContext(ctx, "Failed to write gmail sync log", "integration_id", entry.IntegrationID, "error", err)
	}
}
