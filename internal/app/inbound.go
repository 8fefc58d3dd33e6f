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
	"github.com/pscheid92/commhub/internal/platform/correlation"
)

const (
	pendingDebounce        = 30 * time.Second
	pendingSendTimeout     = 30 * time.Second
	mediaPreview           = "[Media]"
	attachmentStoryMention = "story_mention"
)

// InboundService applies Instagram webhook events to the inbox.
type InboundService struct {
	integrations  domain.InstagramIntegrationRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	jobs          *JobProcessor
	scheduled     *ScheduledProcessor
	debouncer     domain.Debouncer
	publisher     domain.InboxPublisher
	metrics       *metrics.WebhookMetrics
	clock         clockwork.Clock

	background sync.WaitGroup
}

type InboundServiceDeps struct {
	Integrations  domain.InstagramIntegrationRepository
	Conversations domain.ConversationRepository
	Messages      domain.MessageRepository
	Jobs          *JobProcessor
	Scheduled     *ScheduledProcessor
	Debouncer     domain.Debouncer
	Publisher     domain.InboxPublisher // optional
	Metrics       *metrics.WebhookMetrics
	Clock         clockwork.Clock
}

func NewInboundService(d InboundServiceDeps) *InboundService {
	return &InboundService{
		integrations:  d.Integrations,
		conversations: d.Conversations,
		messages:      d.Messages,
		jobs:          d.Jobs,
		scheduled:     d.Scheduled,
		debouncer:     d.Debouncer,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		clock:         d.Clock,
	}
}

// HandlePayload processes every messaging event of a webhook delivery.
// Entries for unknown or disconnected accounts are skipped; per-event failures
// are joined into the returned error.
func (s *InboundService) HandlePayload(ctx context.Context, payload *instagram.WebhookPayload) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		}
	}()

	var errs []error
	for _, entry := range payload.Entry {
		integration, err := s.integrations.GetActiveByInstagramUserID(ctx, entry.ID)
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			slog.DebugContext(ctx, "Webhook entry for unknown account", "instagram_user_id", entry.ID)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve integration %s: %w", entry.ID, err))
			continue
		}

		for i := range entry.Messaging {
			ev := &entry.Messaging[i]
			switch {
			case ev.Message != nil && ev.Message.IsEcho:
				s.count("echo")
			case ev.Message != nil:
				s.count("message")
				if err := s.handleMessage(ctx, integration, ev); err != nil {
					errs = append(errs, fmt.Errorf("message %s: %w", ev.Message.Mid, err))
				}
			case ev.Read != nil:
				s.count("read")
				if err := s.handleRead(ctx, integration, ev); err != nil {
					errs = append(errs, fmt.Errorf("read receipt: %w", err))
				}
			default:
				s.count("other")
			}
		}
	}
	return errors.Join(errs...)
}

func (s *InboundService) handleMessage(ctx context.Context, in *domain.InstagramIntegration, ev *instagram.MessagingEvent) error {
	participantID := ev.Sender.ID
	conv, err := s.findOrCreateConversation(ctx, in, participantID)
	if err != nil {
		return err
	}

	sentAt := ev.SentAt()
	msg := &domain.Message{
		ConversationID:     conv.ID,
		InstagramMessageID: ev.Message.Mid,
		MessageText:        ev.Message.Text,
		MessageType:        domain.MessageTypeText,
		Direction:          domain.DirectionInbound,
		Status:             domain.MessageDelivered,
		SenderInstagramID:  participantID,
		SentAt:             sentAt,
		DeliveredAt:        &sentAt,
	}
	if len(ev.Message.Attachments) > 0 {
		att := ev.Message.Attachments[0]
		msg.MessageType = domain.MessageTypeMedia
		msg.MediaURL = att.Payload.URL
		msg.MediaType = att.Type
		if att.Type == attachmentStoryMention {
			msg.MessageType = domain.MessageTypeStoryMention
			msg.StoryURL = att.Payload.URL
		}
	}

	stored, inserted, err := s.messages.Upsert(ctx, msg)
	if err != nil {
		return err
	}
	if !inserted {
		// Meta redelivers webhooks; the first delivery already did the rest.
		slog.DebugContext(ctx, "Skipping redelivered message", "mid", msg.InstagramMessageID, "message_id", stored.ID)
		return nil
	}

	preview := domain.Preview(ev.Message.Text)
	if preview == "" {
		preview = mediaPreview
	}
	updated, err := s.conversations.RecordInbound(ctx, conv.ID, sentAt, preview)
	if err != nil {
		return err
	}

	if msg.MediaURL != "" {
		payload := MessageMediaPayload{
			MessageID:      stored.ID,
			ConversationID: conv.ID,
			SourceURL:      msg.MediaURL,
			MediaType:      msg.MediaType,
		}
		if err := s.jobs.Enqueue(ctx, domain.JobDownloadMessageMedia, &in.ID, payload, 0); err != nil {
			slog.WarnContext(ctx, "Failed to enqueue media download", "message_id", stored.ID, "error", err)
		}
	}

	publishUpdate(ctx, s.publisher, in.UserID, domain.ConversationUpdate{
		ConversationID: conv.ID,
		Preview:        preview,
		Direction:      domain.DirectionInbound,
		UnreadCount:    updated.UnreadCount,
	})

	s.triggerPendingSends(ctx, conv.ID)
	return nil
}

func (s *InboundService) findOrCreateConversation(ctx context.Context, in *domain.InstagramIntegration, participantID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByParticipant(ctx, in.ID, participantID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return nil, err
	}

	conv, err = s.conversations.Create(ctx, &domain.Conversation{
		IntegrationID:           in.ID,
		InstagramConversationID: in.InstagramUserID + "_" + participantID,
		ParticipantInstagramID:  participantID,
		AutoReminderHours:       domain.DefaultAutoReminderHours,
	})
	if err != nil {
		return nil, err
	}

	payload := ParticipantMetadataPayload{ConversationID: conv.ID, ParticipantID: participantID}
	if err := s.jobs.Enqueue(ctx, domain.JobRefreshParticipantMetadata, &in.ID, payload, 0); err != nil {
		slog.WarnContext(ctx, "Failed to enqueue participant refresh", "conversation_id", conv.ID, "error", err)
	}
	return conv, nil
}

func (s *InboundService) handleRead(ctx context.Context, in *domain.InstagramIntegration, ev *instagram.MessagingEvent) error {
	conv, err := s.conversations.GetByParticipant(ctx, in.ID, ev.Sender.ID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	n, err := s.messages.MarkReadUpTo(ctx, conv.ID, ev.Read.WatermarkTime(), s.clock.Now())
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Applied read receipt", "conversation_id", conv.ID, "messages", n)
	return nil
}

// triggerPendingSends flushes scheduled messages waiting on this conversation.
// Bursts of webhook deliveries collapse into one run per debounce window.
func (s *InboundService) triggerPendingSends(ctx context.Context, conversationID uuid.UUID) {
	if s.scheduled == nil {
		return
	}
	if s.debouncer != nil {
		ok, err := s.debouncer.ShouldTrigger(ctx, "send-pending:"+conversationID.String(), pendingDebounce)
		if err != nil {
			slog.WarnContext(ctx, "Debounce check failed, sending anyway", "conversation_id", conversationID, "error", err)
		} else if !ok {
			return
		}
	}

	bg := correlation.Detach(ctx)
	s.background.Go(func() {
		ctx, cancel := context.WithTimeout(bg, pendingSendTimeout)
		defer cancel()
		res, err := s.scheduled.SendPendingForConversation(ctx, conversationID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to send pending messages", "conversation_id", conversationID, "error", err)
			return
		}
		if res.Sent+res.Failed > 0 {
			slog.InfoContext(ctx, "Sent pending messages after inbound", "conversation_id", conversationID, "sent", res.Sent, "failed", res.Failed)
		}
	})
}

// Wait blocks until background sends started by HandlePayload have finished.
func (s *InboundService) Wait() {
	s.background.Wait()
}

func (s *InboundService) count(kind string) {
	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(kind).Inc()
	}
}
