package app

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/pscheid92/commhub/internal/platform/crypto"
	"github.com/pscheid92/commhub/internal/platform/crypto/cryptotest"
	apperrors "github.com/pscheid92/commhub/internal/platform/errors"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func connectedInstagram(userID uuid.UUID) domain.InstagramIntegration {
	expires := testNow.Add(30 * 24 * time.Hour)
	return domain.InstagramIntegration{
		ID:                   uuid.New(),
		UserID:               userID,
		InstagramUserID:      "17841400000000001",
		InstagramUsername:    "agent.jane",
		AccessTokenEncrypted: "ig-token",
		TokenExpiresAt:       &expires,
		IntegrationStatus: domain.IntegrationStatus{
			ConnectionStatus: domain.StatusConnected,
			IsActive:         true,
		},
	}
}

func openConversation(integrationID uuid.UUID) domain.Conversation {
	until := testNow.Add(10 * time.Hour)
	return domain.Conversation{
		ID:                     uuid.New(),
		IntegrationID:          integrationID,
		ParticipantInstagramID: "participant-1",
		ParticipantUsername:    "client.bob",
		CanReplyUntil:          &until,
	}
}

func newMessagingMetrics() *metrics.MessagingMetrics {
	return metrics.NewMessagingMetrics(prometheus.NewRegistry())
}

// testDeps bundles the mocks most services share.
type testDeps struct {
	instagram     *mockInstagramRepo
	gmail         *mockGmailRepo
	slack         *mockSlackRepo
	conversations *mockConversationRepo
	messages      *mockMessageRepo
	scheduled     *mockScheduledRepo
	templates     *mockTemplateRepo
	jobs          *mockJobRepo
	graph         *mockGraph
	publisher     *mockPublisher
	metrics       *metrics.MessagingMetrics
	clock         *clockwork.FakeClock
	creds         *CredentialStore
	tokens        *TokenManager
}

func newTestDeps(c crypto.Service) *testDeps {
	d := &testDeps{
		instagram:     &mockInstagramRepo{},
		gmail:         &mockGmailRepo{},
		slack:         &mockSlackRepo{},
		conversations: &mockConversationRepo{},
		messages:      &mockMessageRepo{},
		scheduled:     &mockScheduledRepo{},
		templates:     &mockTemplateRepo{},
		jobs:          &mockJobRepo{},
		graph:         &mockGraph{},
		publisher:     &mockPublisher{},
		metrics:       newMessagingMetrics(),
		clock:         clockwork.NewFakeClockAt(testNow),
	}
	if c == nil {
		c = cryptotest.NoopService{}
	}
	d.creds = NewCredentialStore(CredentialStoreDeps{
		Crypto:    c,
		Instagram: d.instagram,
		Gmail:     d.gmail,
		Slack:     d.slack,
		Clock:     d.clock,
	})
	d.tokens = NewTokenManager(d.creds, d.gmail, d.instagram, d.graph, nil, nil, d.clock)
	return d
}

func (d *testDeps) scheduledProcessor() *ScheduledProcessor {
	return NewScheduledProcessor(ScheduledProcessorDeps{
		Scheduled:     d.scheduled,
		Conversations: d.conversations,
		Messages:      d.messages,
		Templates:     d.templates,
		Credentials:   d.creds,
		Tokens:        d.tokens,
		Graph:         d.graph,
		Publisher:     d.publisher,
		Metrics:       d.metrics,
		Clock:         d.clock,
	})
}

func requireAppError(t *testing.T, err error, typ apperrors.ErrorType, code string) *apperrors.Error {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.AsStructuredError(err)
	require.Equal(t, typ, appErr.Type, "unexpected error type: %v", err)
	if code != "" {
		require.Equal(t, code, appErr.Code)
	}
	return appErr
}
