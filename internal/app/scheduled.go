package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	dueBatchSize    = 50
	sendConcurrency = 5
	claimTimeout    = 10 * time.Minute
	recordTimeout   = 10 * time.Second

	windowClosedReason  = "Messaging window closed"
	decryptFailedReason = "Token decryption failed"
	interruptedReason   = "Send interrupted; delivery unknown"
)

// errAlreadyClaimed marks a message another sender took first.
var errAlreadyClaimed = errors.New("scheduled message claimed by another sender")

type ProcessResult struct {
	Expired             int      `json:"expired"`
	Sent                int      `json:"sent"`
	Failed              int      `json:"failed"`
	Skipped             int      `json:"skipped"`
	AutoRemindersQueued int      `json:"autoRemindersQueued"`
	Errors              []string `json:"errors"`
}

// ScheduledProcessor sends scheduled Instagram messages while their 24h
// reply window is open and queues automatic follow-ups.
type ScheduledProcessor struct {
	scheduled     domain.ScheduledMessageRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	templates     domain.TemplateRepository
	creds         *CredentialStore
	tokens        *TokenManager
	graph         InstagramAPI
	publisher     domain.InboxPublisher
	metrics       *metrics.MessagingMetrics
	clock         clockwork.Clock
}

type ScheduledProcessorDeps struct {
	Scheduled     domain.ScheduledMessageRepository
	Conversations domain.ConversationRepository
	Messages      domain.MessageRepository
	Templates     domain.TemplateRepository
	Credentials   *CredentialStore
	Tokens        *TokenManager
	Graph         InstagramAPI
	Publisher     domain.InboxPublisher // optional
	Metrics       *metrics.MessagingMetrics
	Clock         clockwork.Clock
}

func NewScheduledProcessor(d ScheduledProcessorDeps) *ScheduledProcessor {
	return &ScheduledProcessor{
		scheduled:     d.Scheduled,
		conversations: d.Conversations,
		messages:      d.Messages,
		templates:     d.Templates,
		creds:         d.Credentials,
		tokens:        d.Tokens,
		graph:         d.Graph,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		clock:         d.Clock,
	}
}

// Run expires messages whose window closed, sends due messages, then queues
// auto-reminders for priority conversations.
func (p *ScheduledProcessor) Run(ctx context.Context) (*ProcessResult, error) {
	res := &ProcessResult{Errors: []string{}}
	now := p.clock.Now()

	expired, err := p.scheduled.ExpirePastWindow(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire scheduled messages: %w", err)
	}
	res.Expired = int(expired)
	p.observe("expired", res.Expired)

	stale, err := p.scheduled.FailStaleClaims(ctx, now.Add(-claimTimeout), interruptedReason)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	if stale > 0 {
		slog.WarnContext(ctx, "Failed interrupted scheduled sends", "count", stale)
		res.Failed += int(stale)
		p.observe("interrupted", int(stale))
	}

	due, err := p.scheduled.ListDue(ctx, now, dueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	p.sendBatch(ctx, due, res)

	queued, err := p.queueReminders(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.AutoRemindersQueued = queued

	slog.InfoContext(ctx, "Scheduled messages processed",
		"expired", res.Expired, "sent", res.Sent, "failed", res.Failed, "reminders", res.AutoRemindersQueued)
	return res, nil
}

// SendPendingForConversation sends due messages of one conversation, typically
// right after an inbound message reopened its window.
func (p *ScheduledProcessor) SendPendingForConversation(ctx context.Context, conversationID uuid.UUID) (*ProcessResult, error) {
	res := &ProcessResult{Errors: []string{}}
	due, err := p.scheduled.ListDueForConversation(ctx, conversationID, p.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	p.sendBatch(ctx, due, res)
	return res, nil
}

// SendOne sends a single pending scheduled message regardless of batch order.
// A message that is not yet due returns domain.ErrScheduledNotDue so the
// caller can retry later; one past its window is expired.
func (p *ScheduledProcessor) SendOne(ctx context.Context, scheduledID uuid.UUID) error {
	due, err := p.scheduled.GetDue(ctx, scheduledID)
	if err != nil {
		return err
	}
	if !due.Integration.Usable() {
		return domain.ErrNotConnected
	}

	now := p.clock.Now()
	sm := &due.Scheduled
	if !sm.MessagingWindowExpiresAt.After(now) {
		if err := p.scheduled.MarkExpired(ctx, sm.ID, windowClosedReason); err != nil {
			return err
		}
		return fmt.Errorf("%w: scheduled message %s", domain.ErrWindowClosed, sm.ID)
	}
	if sm.ScheduledFor.After(now) {
		return fmt.Errorf("%w: scheduled message %s at %s", domain.ErrScheduledNotDue, sm.ID, sm.ScheduledFor.Format(time.RFC3339))
	}

	res := &ProcessResult{}
	p.sendBatch(ctx, []*domain.DueMessage{due}, res)
	if res.Failed > 0 {
		return fmt.Errorf("send scheduled message %s: %v", scheduledID, res.Errors)
	}
	return nil
}

type integrationBatch struct {
	integration *domain.InstagramIntegration
	messages    []*domain.DueMessage
}

func (p *ScheduledProcessor) sendBatch(ctx context.Context, due []*domain.DueMessage, res *ProcessResult) {
	var order []uuid.UUID
	batches := make(map[uuid.UUID]*integrationBatch)
	for _, d := range due {
		if !d.Integration.Usable() {
			continue
		}
		b, ok := batches[d.Integration.ID]
		if !ok {
			b = &integrationBatch{integration: &d.Integration}
			batches[d.Integration.ID] = b
			order = append(order, d.Integration.ID)
		}
		b.messages = append(b.messages, d)
	}

	var mu sync.Mutex
	record := func(d *domain.DueMessage, err error) {
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, errAlreadyClaimed) {
			res.Skipped++
			return
		}
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("Message %s: %v", d.Scheduled.ID, err))
			p.observe("failed", 1)
			return
		}
		res.Sent++
		p.observe("sent", 1)
	}

	for _, id := range order {
		b := batches[id]

		token, err := p.creds.InstagramAccessToken(ctx, b.integration)
		if err != nil {
			p.tokens.MarkInstagramExpired(ctx, id, decryptFailedReason)
			for _, d := range b.messages {
				p.recordFailure(ctx, &d.Scheduled, decryptFailedReason)
				record(d, errors.New(decryptFailedReason))
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sendConcurrency)
		for _, d := range b.messages {
			g.Go(func() error {
				record(d, p.send(gctx, d, token))
				return nil
			})
		}
		_ = g.Wait()
	}
}

// send claims the message, delivers it and records the outcome. Everything
// after the claim is written on a context detached from ctx: once Meta has the
// message, a cancelled caller must not leave the row looking unsent.
func (p *ScheduledProcessor) send(ctx context.Context, d *domain.DueMessage, token string) error {
	sm, conv, in := &d.Scheduled, &d.Conversation, &d.Integration

	claimed, err := p.scheduled.Claim(ctx, sm.ID, p.clock.Now())
	if err != nil {
		return err
	}
	if !claimed {
		return errAlreadyClaimed
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	mid, err := p.graph.SendMessage(ctx, in.InstagramUserID, token, conv.ParticipantInstagramID, sm.MessageText)
	if err != nil {
		p.handleSendError(wctx, d, err)
		return err
	}
	ctx = wctx

	now := p.clock.Now()
	msg, _, err := p.messages.Upsert(ctx, &domain.Message{
		ConversationID:     conv.ID,
		InstagramMessageID: mid,
		MessageText:        sm.MessageText,
		MessageType:        domain.MessageTypeText,
		Direction:          domain.DirectionOutbound,
		Status:             domain.MessageSent,
		SenderInstagramID:  in.InstagramUserID,
		SenderUsername:     in.InstagramUsername,
		SentAt:             now,
		TemplateID:         sm.TemplateID,
		ScheduledMessageID: &sm.ID,
	})
	if err != nil {
		// Delivered but not recorded: park it as failed so it is not sent twice.
		p.recordFailureAt(ctx, sm, domain.MaxScheduledRetries, "Sent but not recorded: "+err.Error())
		return fmt.Errorf("record sent message: %w", err)
	}

	if err := p.scheduled.MarkSent(ctx, sm.ID, now, msg.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark scheduled message sent", "scheduled_id", sm.ID, "error", err)
	}
	preview := domain.Preview(sm.MessageText)
	if err := p.conversations.RecordOutbound(ctx, conv.ID, now, preview); err != nil {
		slog.ErrorContext(ctx, "Failed to update conversation after send", "conversation_id", conv.ID, "error", err)
	}
	if sm.TemplateID != nil {
		if err := p.templates.IncrementUseCount(ctx, *sm.TemplateID); err != nil {
			slog.WarnContext(ctx, "Failed to bump template use count", "template_id", *sm.TemplateID, "error", err)
		}
	}
	if p.metrics != nil {
		p.metrics.MessagesSent.WithLabelValues(string(domain.ProviderInstagram), "scheduled").Inc()
	}

	publishUpdate(ctx, p.publisher, in.UserID, domain.ConversationUpdate{
		ConversationID: conv.ID,
		Preview:        preview,
		Direction:      domain.DirectionOutbound,
		UnreadCount:    conv.UnreadCount,
	})
	return nil
}

func (p *ScheduledProcessor) handleSendError(ctx context.Context, d *domain.DueMessage, err error) {
	if instagram.IsTokenExpired(err) {
		p.tokens.MarkInstagramExpired(ctx, d.Integration.ID, graphMessage(err))
	}
	if instagram.IsWindowClosed(err) {
		if err := p.scheduled.MarkExpired(ctx, d.Scheduled.ID, windowClosedReason); err != nil {
			slog.ErrorContext(ctx, "Failed to expire scheduled message", "scheduled_id", d.Scheduled.ID, "error", err)
		}
		return
	}
	p.recordFailure(ctx, &d.Scheduled, graphMessage(err))
}

// graphMessage prefers the Graph API's own message over the wrapped error text.
func graphMessage(err error) string {
	if gerr, ok := errors.AsType[*instagram.GraphError](err); ok && gerr.Message != "" {
		return gerr.Message
	}
	return err.Error()
}

// recordFailure bumps the retry count and fails the message for good once
// it reaches MaxScheduledRetries.
func (p *ScheduledProcessor) recordFailure(ctx context.Context, sm *domain.ScheduledMessage, reason string) {
	p.recordFailureAt(ctx, sm, sm.RetryCount+1, reason)
}

func (p *ScheduledProcessor) recordFailureAt(ctx context.Context, sm *domain.ScheduledMessage, retries int, reason string) {
	status := domain.ScheduledPending
	if retries >= domain.MaxScheduledRetries {
		status = domain.ScheduledFailed
	}
	if err := p.scheduled.RecordFailure(ctx, sm.ID, retries, status, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to record scheduled message failure", "scheduled_id", sm.ID, "error", err)
	}
}

func (p *ScheduledProcessor) queueReminders(ctx context.Context) (int, error) {
	now := p.clock.Now()
	candidates, err := p.conversations.ListReminderCandidates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list reminder candidates: %w", err)
	}

	queued := 0
	for _, c := range candidates {
		text := c.TemplateContent
		if text == "" {
			text = domain.DefaultReminderText
		}
		_, err := p.scheduled.Create(ctx, &domain.ScheduledMessage{
			ConversationID:           c.ConversationID,
			MessageText:              text,
			TemplateID:               c.TemplateID,
			ScheduledFor:             now,
			ScheduledBy:              c.UserID,
			MessagingWindowExpiresAt: c.CanReplyUntil,
			Status:                   domain.ScheduledPending,
			IsAutoReminder:           true,
		})
		if err != nil {
			slog.WarnContext(ctx, "Failed to queue auto-reminder", "conversation_id", c.ConversationID, "error", err)
			continue
		}
		queued++
	}
	return queued, nil
}

func (p *ScheduledProcessor) observe(outcome string, n int) {
	if p.metrics != nil && n > 0 {
		p.metrics.ScheduledOutcomes.WithLabelValues(outcome).Add(float64(n))
	}
}

// publishUpdate is best effort; the inbox also refreshes on reload.
func publishUpdate(ctx context.Context, pub domain.InboxPublisher, userID uuid.UUID, update domain.ConversationUpdate) {
	if pub == nil {
		return
	}
	if update.Type == "" {
		update.Type = "conversation.updated"
	}
	if err := pub.ConversationUpdated(ctx, userID, update); err != nil {
		slog.WarnContext(ctx, "Failed to publish inbox update", "user_id", userID, "error", err)
	}
}
