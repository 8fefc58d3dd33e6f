package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstagramIntegration_UpsertReconnects(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewInstagramIntegrationRepo(pool)
	ctx := context.Background()

	first := createIntegration(t, pool, "1784")
	require.NoError(t, repo.SetStatus(ctx, first.ID, domain.StatusExpired, "Token refresh failed"))

	second, err := repo.Upsert(ctx, &domain.InstagramIntegration{
		UserID:               first.UserID,
		InstagramUserID:      "1784",
		InstagramUsername:    "renamed",
		AccessTokenEncrypted: "new-ciphertext",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "renamed", second.InstagramUsername)
	assert.Equal(t, domain.StatusConnected, second.ConnectionStatus)
	assert.Empty(t, second.LastError)
	assert.Nil(t, second.LastErrorAt)
}

func TestInstagramIntegration_GetActiveByInstagramUserID(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewInstagramIntegrationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")

	got, err := repo.GetActiveByInstagramUserID(ctx, "1784")
	require.NoError(t, err)
	assert.Equal(t, integration.ID, got.ID)

	require.NoError(t, repo.Deactivate(ctx, integration.ID))
	_, err = repo.GetActiveByInstagramUserID(ctx, "1784")
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
}

func TestInstagramIntegration_SetStatusRecordsErrorTime(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewInstagramIntegrationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	require.NoError(t, repo.SetStatus(ctx, integration.ID, domain.StatusError, "Failed to decrypt access token"))

	got, err := repo.GetByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.ConnectionStatus)
	assert.Equal(t, "Failed to decrypt access token", got.LastError)
	assert.NotNil(t, got.LastErrorAt)

	assert.ErrorIs(t, repo.SetStatus(ctx, uuid.New(), domain.StatusError, "x"), domain.ErrIntegrationNotFound)
}

func TestInstagramIntegration_ListExpiring(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewInstagramIntegrationRepo(pool)
	ctx := context.Background()

	soon := createIntegration(t, pool, "1")
	createIntegration(t, pool, "2")
	require.NoError(t, repo.UpdateToken(ctx, soon.ID, "ct", time.Now().Add(2*24*time.Hour), time.Now()))

	got, err := repo.ListExpiring(ctx, time.Now().Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, soon.ID, got[0].ID)
}

func TestConversation_CreateIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	integration := createIntegration(t, pool, "1784")

	a := createConversation(t, pool, integration, "p1")
	b := createConversation(t, pool, integration, "p1")
	assert.Equal(t, a.ID, b.ID)

	got, err := NewConversationRepo(pool).GetByParticipant(context.Background(), integration.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestConversation_RecordInboundOpensWindow(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	at := time.Now().Truncate(time.Millisecond)

	updated, err := repo.RecordInbound(ctx, conv.ID, at, "hello")
	require.NoError(t, err)
	updated, err = repo.RecordInbound(ctx, conv.ID, at, "hello again")
	require.NoError(t, err)

	assert.Equal(t, 2, updated.UnreadCount)
	assert.Equal(t, domain.DirectionInbound, updated.LastMessageDirection)
	assert.Equal(t, "hello again", updated.LastMessagePreview)
	require.NotNil(t, updated.CanReplyUntil)
	assert.WithinDuration(t, at.Add(24*time.Hour), *updated.CanReplyUntil, time.Millisecond)

	require.NoError(t, repo.ResetUnread(ctx, conv.ID))
	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}

func TestConversation_RecordInboundOutOfOrder(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	newer := time.Now().Truncate(time.Millisecond)
	older := newer.Add(-3 * time.Hour)

	_, err := repo.RecordInbound(ctx, conv.ID, newer, "newer")
	require.NoError(t, err)
	updated, err := repo.RecordInbound(ctx, conv.ID, older, "older")
	require.NoError(t, err)

	assert.Equal(t, 2, updated.UnreadCount)
	assert.Equal(t, "newer", updated.LastMessagePreview)
	require.NotNil(t, updated.LastMessageAt)
	assert.WithinDuration(t, newer, *updated.LastMessageAt, time.Millisecond)
	require.NotNil(t, updated.LastInboundAt)
	assert.WithinDuration(t, newer, *updated.LastInboundAt, time.Millisecond)
	assert.WithinDuration(t, newer.Add(24*time.Hour), *updated.CanReplyUntil, time.Millisecond)
}

func TestConversation_UpdateWindowNeverShrinks(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	recent := time.Now().Truncate(time.Millisecond)
	_, err := repo.RecordInbound(ctx, conv.ID, recent, "hi")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateWindow(ctx, conv.ID, recent.Add(-48*time.Hour)))

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, recent.Add(24*time.Hour), *got.CanReplyUntil, time.Millisecond)
}

func TestConversation_ListPagesByLastMessage(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	base := time.Now().Truncate(time.Millisecond)
	for i, p := range []string{"p1", "p2", "p3"} {
		conv := createConversation(t, pool, integration, p)
		require.NoError(t, repo.RecordOutbound(ctx, conv.ID, base.Add(time.Duration(i)*time.Minute), p))
	}

	first, err := repo.List(ctx, integration.ID, domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "p3", first[0].ParticipantInstagramID)
	assert.Equal(t, "p2", first[1].ParticipantInstagramID)

	rest, err := repo.List(ctx, integration.ID, domain.Page{Limit: 2, After: &domain.Cursor{At: first[1].LastMessageAt, ID: first[1].ID}})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "p1", rest[0].ParticipantInstagramID)
}

func TestConversation_ListPagesAcrossTiesAndUndated(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	at := time.Now().Truncate(time.Millisecond)
	want := map[uuid.UUID]bool{}
	for _, p := range []string{"t1", "t2", "t3", "u1", "u2"} {
		conv := createConversation(t, pool, integration, p)
		if p[0] == 't' {
			require.NoError(t, repo.RecordOutbound(ctx, conv.ID, at, p))
		}
		want[conv.ID] = true
	}

	seen := map[uuid.UUID]bool{}
	var after *domain.Cursor
	for range 5 {
		page, err := repo.List(ctx, integration.ID, domain.Page{Limit: 2, After: after})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			assert.False(t, seen[c.ID], "conversation %s returned twice", c.ID)
			seen[c.ID] = true
		}
		last := page[len(page)-1]
		after = &domain.Cursor{At: last.LastMessageAt, ID: last.ID}
	}
	assert.Equal(t, want, seen)
}

func TestConversation_UpsertSyncedKeepsLocalState(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	conv := createConversation(t, pool, integration, "p1")
	require.NoError(t, repo.SetPriority(ctx, conv.ID, domain.PrioritySettings{IsPriority: true}))

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.UpsertSynced(ctx, []*domain.Conversation{
		{
			IntegrationID:           integration.ID,
			InstagramConversationID: conv.InstagramConversationID,
			ParticipantInstagramID:  "p1",
			ParticipantUsername:     "jane",
			LastMessageAt:           &at,
			LastMessagePreview:      "synced",
			LastMessageDirection:    domain.DirectionOutbound,
		},
		{
			IntegrationID:           integration.ID,
			InstagramConversationID: "t_new",
			ParticipantInstagramID:  "p2",
		},
	}))

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPriority)
	assert.Equal(t, "jane", got.ParticipantUsername)
	assert.Equal(t, "synced", got.LastMessagePreview)

	_, err = repo.GetByParticipant(ctx, integration.ID, "p2")
	assert.NoError(t, err)
}

func TestConversation_ListReminderCandidates(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	scheduled := NewScheduledMessageRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	now := time.Now().Truncate(time.Millisecond)

	due := createConversation(t, pool, integration, "due")
	_, err := repo.RecordInbound(ctx, due.ID, now.Add(-14*time.Hour), "q")
	require.NoError(t, err)
	require.NoError(t, repo.RecordOutbound(ctx, due.ID, now.Add(-13*time.Hour), "a"))
	require.NoError(t, repo.SetPriority(ctx, due.ID, domain.PrioritySettings{IsPriority: true, AutoReminderEnabled: true}))

	tooRecent := createConversation(t, pool, integration, "recent")
	_, err = repo.RecordInbound(ctx, tooRecent.ID, now.Add(-2*time.Hour), "q")
	require.NoError(t, err)
	require.NoError(t, repo.RecordOutbound(ctx, tooRecent.ID, now.Add(-time.Hour), "a"))
	require.NoError(t, repo.SetPriority(ctx, tooRecent.ID, domain.PrioritySettings{IsPriority: true, AutoReminderEnabled: true}))

	got, err := repo.ListReminderCandidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ConversationID)
	assert.Equal(t, integration.UserID, got[0].UserID)
	assert.Empty(t, got[0].TemplateContent)

	_, err = scheduled.Create(ctx, &domain.ScheduledMessage{
		ConversationID:           due.ID,
		MessageText:              domain.DefaultReminderText,
		ScheduledFor:             now,
		ScheduledBy:              integration.UserID,
		MessagingWindowExpiresAt: got[0].CanReplyUntil,
		IsAutoReminder:           true,
	})
	require.NoError(t, err)

	got, err = repo.ListReminderCandidates(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConversation_ReminderCandidateKeepsInactiveTemplate(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewConversationRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	now := time.Now().Truncate(time.Millisecond)
	tmpl, err := NewTemplateRepo(pool).Create(ctx, &domain.Template{UserID: integration.UserID, Name: "Nudge", Content: "Still there?"})
	require.NoError(t, err)

	conv := createConversation(t, pool, integration, "p1")
	_, err = repo.RecordInbound(ctx, conv.ID, now.Add(-14*time.Hour), "q")
	require.NoError(t, err)
	require.NoError(t, repo.RecordOutbound(ctx, conv.ID, now.Add(-13*time.Hour), "a"))
	require.NoError(t, repo.SetPriority(ctx, conv.ID, domain.PrioritySettings{
		IsPriority: true, AutoReminderEnabled: true, AutoReminderTemplateID: &tmpl.ID,
	}))

	got, err := repo.ListReminderCandidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Still there?", got[0].TemplateContent)

	_, err = pool.Exec(ctx, `UPDATE instagram_message_templates SET is_active = false WHERE id = $1`, tmpl.ID)
	require.NoError(t, err)

	got, err = repo.ListReminderCandidates(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].TemplateID)
	assert.Equal(t, tmpl.ID, *got[0].TemplateID)
	assert.Empty(t, got[0].TemplateContent)
}

func TestMessage_UpsertIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewMessageRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	msg := &domain.Message{
		ConversationID:     conv.ID,
		InstagramMessageID: "mid.1",
		MessageText:        "hi",
		MessageType:        domain.MessageTypeText,
		Direction:          domain.DirectionInbound,
		Status:             domain.MessageDelivered,
		SentAt:             time.Now(),
	}

	a, inserted, err := repo.Upsert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	b, inserted, err := repo.Upsert(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, a.ID, b.ID)

	list, err := repo.List(ctx, conv.ID, domain.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMessage_ListPagesAcrossEqualTimestamps(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewMessageRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	sent := time.Now().Truncate(time.Millisecond)
	for _, mid := range []string{"burst.1", "burst.2", "burst.3"} {
		_, _, err := repo.Upsert(ctx, &domain.Message{
			ConversationID: conv.ID, InstagramMessageID: mid, MessageType: domain.MessageTypeText,
			Direction: domain.DirectionInbound, Status: domain.MessageDelivered, SentAt: sent,
		})
		require.NoError(t, err)
	}

	first, err := repo.List(ctx, conv.ID, domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[1]
	rest, err := repo.List(ctx, conv.ID, domain.Page{Limit: 2, After: &domain.Cursor{At: &last.SentAt, ID: last.ID}})
	require.NoError(t, err)
	require.Len(t, rest, 1)

	mids := []string{first[0].InstagramMessageID, first[1].InstagramMessageID, rest[0].InstagramMessageID}
	assert.ElementsMatch(t, []string{"burst.1", "burst.2", "burst.3"}, mids)
}

func TestMessage_MarkReadUpTo(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewMessageRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")
	base := time.Now().Truncate(time.Millisecond)
	for i, mid := range []string{"out.1", "out.2", "out.3"} {
		_, _, err := repo.Upsert(ctx, &domain.Message{
			ConversationID:     conv.ID,
			InstagramMessageID: mid,
			MessageType:        domain.MessageTypeText,
			Direction:          domain.DirectionOutbound,
			Status:             domain.MessageSent,
			SentAt:             base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	n, err := repo.MarkReadUpTo(ctx, conv.ID, base.Add(time.Minute), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.MarkReadUpTo(ctx, conv.ID, base.Add(time.Minute), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMessage_LatestInboundAt(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewMessageRepo(pool)
	ctx := context.Background()

	conv := createConversation(t, pool, createIntegration(t, pool, "1784"), "p1")

	at, err := repo.LatestInboundAt(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, at)

	sent := time.Now().Truncate(time.Millisecond)
	_, _, err = repo.Upsert(ctx, &domain.Message{
		ConversationID: conv.ID, InstagramMessageID: "in.1", MessageType: domain.MessageTypeText,
		Direction: domain.DirectionInbound, Status: domain.MessageDelivered, SentAt: sent,
	})
	require.NoError(t, err)

	at, err = repo.LatestInboundAt(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.WithinDuration(t, sent, *at, time.Millisecond)
}

func TestScheduled_ExpireAndListDue(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScheduledMessageRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	conv := createConversation(t, pool, integration, "p1")
	now := time.Now().Truncate(time.Millisecond)

	newScheduled := func(text string, scheduledFor, windowEnds time.Time) *domain.ScheduledMessage {
		s, err := repo.Create(ctx, &domain.ScheduledMessage{
			ConversationID: conv.ID, MessageText: text, ScheduledFor: scheduledFor,
			ScheduledBy: integration.UserID, MessagingWindowExpiresAt: windowEnds,
		})
		require.NoError(t, err)
		return s
	}

	stale := newScheduled("stale", now.Add(-2*time.Hour), now.Add(-time.Hour))
	due := newScheduled("due", now.Add(-time.Minute), now.Add(time.Hour))
	newScheduled("later", now.Add(time.Hour), now.Add(2*time.Hour))
	exhausted := newScheduled("exhausted", now.Add(-time.Minute), now.Add(time.Hour))
	require.NoError(t, repo.RecordFailure(ctx, exhausted.ID, 3, domain.ScheduledPending, "boom"))

	expired, err := repo.ExpirePastWindow(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	got, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledExpired, got.Status)
	assert.Equal(t, "Messaging window expired before scheduled send time", got.ErrorMessage)

	list, err := repo.ListDue(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].Scheduled.ID)
	assert.Equal(t, conv.ID, list[0].Conversation.ID)
	assert.Equal(t, integration.ID, list[0].Integration.ID)

	perConv, err := repo.ListDueForConversation(ctx, conv.ID, now)
	require.NoError(t, err)
	assert.Len(t, perConv, 1)
}

func TestScheduled_ClaimIsExclusive(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScheduledMessageRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	conv := createConversation(t, pool, integration, "p1")
	now := time.Now().Truncate(time.Millisecond)
	newScheduled := func(scheduledFor time.Time) *domain.ScheduledMessage {
		s, err := repo.Create(ctx, &domain.ScheduledMessage{
			ConversationID: conv.ID, MessageText: "x", ScheduledFor: scheduledFor,
			ScheduledBy: integration.UserID, MessagingWindowExpiresAt: now.Add(time.Hour),
		})
		require.NoError(t, err)
		return s
	}

	due := newScheduled(now.Add(-time.Minute))
	assert.ErrorIs(t, repo.MarkSent(ctx, due.ID, now, uuid.New()), domain.ErrScheduledNotPending, "unclaimed rows cannot be marked sent")

	ok, err := repo.Claim(ctx, due.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Claim(ctx, due.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := repo.ListDue(ctx, now, 50)
	require.NoError(t, err)
	assert.Empty(t, list, "claimed rows are not due")
	assert.ErrorIs(t, repo.Cancel(ctx, due.ID), domain.ErrScheduledNotPending)

	msg, _, err := NewMessageRepo(pool).Upsert(ctx, &domain.Message{
		ConversationID: conv.ID, InstagramMessageID: "mid.sched", MessageType: domain.MessageTypeText,
		Direction: domain.DirectionOutbound, Status: domain.MessageSent, SentAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, due.ID, now, msg.ID))
	assert.ErrorIs(t, repo.MarkSent(ctx, due.ID, now, msg.ID), domain.ErrScheduledNotPending)

	got, err := repo.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledSent, got.Status)

	later := newScheduled(now.Add(time.Hour))
	ok, err = repo.Claim(ctx, later.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "messages are not claimed before their time")
}

func TestScheduled_FailStaleClaims(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScheduledMessageRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	conv := createConversation(t, pool, integration, "p1")
	now := time.Now().Truncate(time.Millisecond)
	s, err := repo.Create(ctx, &domain.ScheduledMessage{
		ConversationID: conv.ID, MessageText: "x", ScheduledFor: now.Add(-time.Hour),
		ScheduledBy: integration.UserID, MessagingWindowExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	ok, err := repo.Claim(ctx, s.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.FailStaleClaims(ctx, now.Add(-time.Hour), "interrupted")
	require.NoError(t, err)
	assert.Zero(t, n, "recent claims are left alone")

	n, err = repo.FailStaleClaims(ctx, now.Add(-10*time.Minute), "interrupted")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledFailed, got.Status)
	assert.Equal(t, "interrupted", got.ErrorMessage)
}

func TestScheduled_Cancel(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewScheduledMessageRepo(pool)
	ctx := context.Background()

	integration := createIntegration(t, pool, "1784")
	conv := createConversation(t, pool, integration, "p1")
	s, err := repo.Create(ctx, &domain.ScheduledMessage{
		ConversationID: conv.ID, MessageText: "x", ScheduledFor: time.Now().Add(time.Hour),
		ScheduledBy: integration.UserID, MessagingWindowExpiresAt: time.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, repo.Cancel(ctx, s.ID))
	assert.ErrorIs(t, repo.Cancel(ctx, s.ID), domain.ErrScheduledNotPending)
	assert.ErrorIs(t, repo.Cancel(ctx, uuid.New()), domain.ErrScheduledMessageNotFound)

	_, err = repo.GetDue(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrScheduledMessageNotFound)
}

func TestTemplate_CreateListIncrement(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewTemplateRepo(pool)
	ctx := context.Background()

	userID := uuid.New()
	a, err := repo.Create(ctx, &domain.Template{UserID: userID, Name: "Follow up", Content: "Any questions?"})
	require.NoError(t, err)
	b, err := repo.Create(ctx, &domain.Template{UserID: userID, Name: "Thanks", Content: "Thank you!"})
	require.NoError(t, err)

	require.NoError(t, repo.IncrementUseCount(ctx, b.ID))

	list, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}
