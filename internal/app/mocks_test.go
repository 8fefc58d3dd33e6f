package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/commhub/internal/adapter/gmail"
	"github.com/pscheid92/commhub/internal/adapter/instagram"
	"github.com/pscheid92/commhub/internal/adapter/slack"
	"github.com/pscheid92/commhub/internal/domain"
	slackapi "github.com/slack-go/slack"
	gmailapi "google.golang.org/api/gmail/v1"
)

// --- Instagram repositories ---

type mockInstagramRepo struct {
	getByIDFn        func(ctx context.Context, id uuid.UUID) (*domain.InstagramIntegration, error)
	getActiveByIGFn  func(ctx context.Context, igUserID string) (*domain.InstagramIntegration, error)
	listExpiringFn   func(ctx context.Context, before time.Time) ([]*domain.InstagramIntegration, error)
	upsertFn         func(ctx context.Context, in *domain.InstagramIntegration) (*domain.InstagramIntegration, error)
	updateTokenFn    func(ctx context.Context, id uuid.UUID, token string, expiresAt, refreshedAt time.Time) error
	deactivateFn     func(ctx context.Context, id uuid.UUID) error
	recordAPICallsFn func(ctx context.Context, id uuid.UUID, count int, resetAt time.Time) error

	mu       sync.Mutex
	statuses map[uuid.UUID]statusChange
}

type statusChange struct {
	Status    domain.ConnectionStatus
	LastError string
}

func (m *mockInstagramRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InstagramIntegration, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrIntegrationNotFound
}

func (m *mockInstagramRepo) GetActiveByInstagramUserID(ctx context.Context, igUserID string) (*domain.InstagramIntegration, error) {
	if m.getActiveByIGFn != nil {
		return m.getActiveByIGFn(ctx, igUserID)
	}
	return nil, domain.ErrIntegrationNotFound
}

func (m *mockInstagramRepo) ListExpiring(ctx context.Context, before time.Time) ([]*domain.InstagramIntegration, error) {
	if m.listExpiringFn != nil {
		return m.listExpiringFn(ctx, before)
	}
	return nil, nil
}

func (m *mockInstagramRepo) Upsert(ctx context.Context, in *domain.InstagramIntegration) (*domain.InstagramIntegration, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, in)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockInstagramRepo) UpdateToken(ctx context.Context, id uuid.UUID, token string, expiresAt, refreshedAt time.Time) error {
	if m.updateTokenFn != nil {
		return m.updateTokenFn(ctx, id, token, expiresAt, refreshedAt)
	}
	return nil
}

func (m *mockInstagramRepo) SetStatus(_ context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[uuid.UUID]statusChange)
	}
	m.statuses[id] = statusChange{Status: status, LastError: lastError}
	return nil
}

func (m *mockInstagramRepo) status(id uuid.UUID) (statusChange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	return s, ok
}

func (m *mockInstagramRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, id)
	}
	return nil
}

func (m *mockInstagramRepo) RecordAPICalls(ctx context.Context, id uuid.UUID, count int, resetAt time.Time) error {
	if m.recordAPICallsFn != nil {
		return m.recordAPICallsFn(ctx, id, count, resetAt)
	}
	return nil
}

type mockConversationRepo struct {
	getByIDFn          func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	getByParticipantFn func(ctx context.Context, integrationID uuid.UUID, participantID string) (*domain.Conversation, error)
	createFn           func(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	upsertSyncedFn     func(ctx context.Context, convs []*domain.Conversation) error
	listFn             func(ctx context.Context, integrationID uuid.UUID, page domain.Page) ([]*domain.Conversation, error)
	recordInboundFn    func(ctx context.Context, id uuid.UUID, at time.Time, preview string) (*domain.Conversation, error)
	recordOutboundFn   func(ctx context.Context, id uuid.UUID, at time.Time, preview string) error
	updateWindowFn     func(ctx context.Context, id uuid.UUID, lastInboundAt time.Time) error
	resetUnreadFn      func(ctx context.Context, id uuid.UUID) error
	updateParticipant  func(ctx context.Context, id uuid.UUID, profile domain.ParticipantProfile) error
	setAvatarCacheFn   func(ctx context.Context, id uuid.UUID, url string, at time.Time) error
	setPriorityFn      func(ctx context.Context, id uuid.UUID, settings domain.PrioritySettings) error
	reminderFn         func(ctx context.Context, now time.Time) ([]domain.ReminderCandidate, error)
}

func (m *mockConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrConversationNotFound
}

func (m *mockConversationRepo) GetByParticipant(ctx context.Context, integrationID uuid.UUID, participantID string) (*domain.Conversation, error) {
	if m.getByParticipantFn != nil {
		return m.getByParticipantFn(ctx, integrationID, participantID)
	}
	return nil, domain.ErrConversationNotFound
}

func (m *mockConversationRepo) Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, conv)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockConversationRepo) UpsertSynced(ctx context.Context, convs []*domain.Conversation) error {
	if m.upsertSyncedFn != nil {
		return m.upsertSyncedFn(ctx, convs)
	}
	return nil
}

func (m *mockConversationRepo) List(ctx context.Context, integrationID uuid.UUID, page domain.Page) ([]*domain.Conversation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, integrationID, page)
	}
	return nil, nil
}

func (m *mockConversationRepo) RecordInbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) (*domain.Conversation, error) {
	if m.recordInboundFn != nil {
		return m.recordInboundFn(ctx, id, at, preview)
	}
	return &domain.Conversation{ID: id, UnreadCount: 1}, nil
}

func (m *mockConversationRepo) RecordOutbound(ctx context.Context, id uuid.UUID, at time.Time, preview string) error {
	if m.recordOutboundFn != nil {
		return m.recordOutboundFn(ctx, id, at, preview)
	}
	return nil
}

func (m *mockConversationRepo) UpdateWindow(ctx context.Context, id uuid.UUID, lastInboundAt time.Time) error {
	if m.updateWindowFn != nil {
		return m.updateWindowFn(ctx, id, lastInboundAt)
	}
	return nil
}

func (m *mockConversationRepo) ResetUnread(ctx context.Context, id uuid.UUID) error {
	if m.resetUnreadFn != nil {
		return m.resetUnreadFn(ctx, id)
	}
	return nil
}

func (m *mockConversationRepo) UpdateParticipant(ctx context.Context, id uuid.UUID, profile domain.ParticipantProfile) error {
	if m.updateParticipant != nil {
		return m.updateParticipant(ctx, id, profile)
	}
	return nil
}

func (m *mockConversationRepo) SetAvatarCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error {
	if m.setAvatarCacheFn != nil {
		return m.setAvatarCacheFn(ctx, id, url, at)
	}
	return nil
}

func (m *mockConversationRepo) SetPriority(ctx context.Context, id uuid.UUID, settings domain.PrioritySettings) error {
	if m.setPriorityFn != nil {
		return m.setPriorityFn(ctx, id, settings)
	}
	return nil
}

func (m *mockConversationRepo) ListReminderCandidates(ctx context.Context, now time.Time) ([]domain.ReminderCandidate, error) {
	if m.reminderFn != nil {
		return m.reminderFn(ctx, now)
	}
	return nil, nil
}

type mockMessageRepo struct {
	upsertFn          func(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	markReadUpToFn    func(ctx context.Context, conversationID uuid.UUID, watermark, readAt time.Time) (int64, error)
	listFn            func(ctx context.Context, conversationID uuid.UUID, page domain.Page) ([]*domain.Message, error)
	latestInboundAtFn func(ctx context.Context, conversationID uuid.UUID) (*time.Time, error)
	setMediaCacheFn   func(ctx context.Context, id uuid.UUID, url string, at time.Time) error

	mu       sync.Mutex
	upserted []*domain.Message
	byMID    map[string]*domain.Message
}

// Upsert mimics the unique provider id: a repeated InstagramMessageID returns
// the stored row with inserted=false.
func (m *mockMessageRepo) Upsert(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	m.upserted = append(m.upserted, msg)
	existing, seen := m.byMID[msg.InstagramMessageID]
	m.mu.Unlock()
	if seen {
		return existing, false, nil
	}

	var stored *domain.Message
	if m.upsertFn != nil {
		s, err := m.upsertFn(ctx, msg)
		if err != nil {
			return nil, false, err
		}
		stored = s
	} else {
		s := *msg
		s.ID = uuid.New()
		stored = &s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byMID == nil {
		m.byMID = make(map[string]*domain.Message)
	}
	m.byMID[msg.InstagramMessageID] = stored
	return stored, true, nil
}

func (m *mockMessageRepo) saved() []*domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Message(nil), m.upserted...)
}

func (m *mockMessageRepo) MarkReadUpTo(ctx context.Context, conversationID uuid.UUID, watermark, readAt time.Time) (int64, error) {
	if m.markReadUpToFn != nil {
		return m.markReadUpToFn(ctx, conversationID, watermark, readAt)
	}
	return 0, nil
}

func (m *mockMessageRepo) List(ctx context.Context, conversationID uuid.UUID, page domain.Page) ([]*domain.Message, error) {
	if m.listFn != nil {
		return m.listFn(ctx, conversationID, page)
	}
	return nil, nil
}

func (m *mockMessageRepo) LatestInboundAt(ctx context.Context, conversationID uuid.UUID) (*time.Time, error) {
	if m.latestInboundAtFn != nil {
		return m.latestInboundAtFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockMessageRepo) SetMediaCache(ctx context.Context, id uuid.UUID, url string, at time.Time) error {
	if m.setMediaCacheFn != nil {
		return m.setMediaCacheFn(ctx, id, url, at)
	}
	return nil
}

type failureRecord struct {
	RetryCount int
	Status     domain.ScheduledStatus
	Reason     string
}

type mockScheduledRepo struct {
	createFn           func(ctx context.Context, msg *domain.ScheduledMessage) (*domain.ScheduledMessage, error)
	getByIDFn          func(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error)
	expirePastWindowFn func(ctx context.Context, now time.Time) (int64, error)
	listDueFn          func(ctx context.Context, now time.Time, limit int) ([]*domain.DueMessage, error)
	listDueForConvFn   func(ctx context.Context, conversationID uuid.UUID, now time.Time) ([]*domain.DueMessage, error)
	getDueFn           func(ctx context.Context, id uuid.UUID) (*domain.DueMessage, error)
	claimFn            func(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	failStaleFn        func(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	cancelFn           func(ctx context.Context, id uuid.UUID) error

	mu       sync.Mutex
	claimed  map[uuid.UUID]bool
	sent     map[uuid.UUID]uuid.UUID
	expired  map[uuid.UUID]string
	failures map[uuid.UUID]failureRecord
	created  []*domain.ScheduledMessage
}

func (m *mockScheduledRepo) Create(ctx context.Context, msg *domain.ScheduledMessage) (*domain.ScheduledMessage, error) {
	m.mu.Lock()
	m.created = append(m.created, msg)
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, msg)
	}
	stored := *msg
	stored.ID = uuid.New()
	return &stored, nil
}

func (m *mockScheduledRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrScheduledMessageNotFound
}

func (m *mockScheduledRepo) ExpirePastWindow(ctx context.Context, now time.Time) (int64, error) {
	if m.expirePastWindowFn != nil {
		return m.expirePastWindowFn(ctx, now)
	}
	return 0, nil
}

func (m *mockScheduledRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.DueMessage, error) {
	if m.listDueFn != nil {
		return m.listDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockScheduledRepo) ListDueForConversation(ctx context.Context, conversationID uuid.UUID, now time.Time) ([]*domain.DueMessage, error) {
	if m.listDueForConvFn != nil {
		return m.listDueForConvFn(ctx, conversationID, now)
	}
	return nil, nil
}

func (m *mockScheduledRepo) GetDue(ctx context.Context, id uuid.UUID) (*domain.DueMessage, error) {
	if m.getDueFn != nil {
		return m.getDueFn(ctx, id)
	}
	return nil, domain.ErrScheduledMessageNotFound
}

// Claim succeeds once per id, like the pending-to-sending transition.
func (m *mockScheduledRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, id, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed == nil {
		m.claimed = make(map[uuid.UUID]bool)
	}
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *mockScheduledRepo) FailStaleClaims(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	if m.failStaleFn != nil {
		return m.failStaleFn(ctx, cutoff, reason)
	}
	return 0, nil
}

func (m *mockScheduledRepo) MarkSent(ctx context.Context, id uuid.UUID, _ time.Time, messageID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[uuid.UUID]uuid.UUID)
	}
	m.sent[id] = messageID
	return nil
}

func (m *mockScheduledRepo) MarkExpired(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired == nil {
		m.expired = make(map[uuid.UUID]string)
	}
	m.expired[id] = reason
	return nil
}

func (m *mockScheduledRepo) RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status domain.ScheduledStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[uuid.UUID]failureRecord)
	}
	m.failures[id] = failureRecord{RetryCount: retryCount, Status: status, Reason: reason}
	return nil
}

func (m *mockScheduledRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, id)
	}
	return nil
}

type mockTemplateRepo struct {
	getByIDFn    func(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	listByUserFn func(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error)
	createFn     func(ctx context.Context, tmpl *domain.Template) (*domain.Template, error)

	mu          sync.Mutex
	incremented []uuid.UUID
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrTemplateNotFound
}

func (m *mockTemplateRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Template, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockTemplateRepo) Create(ctx context.Context, tmpl *domain.Template) (*domain.Template, error) {
	if m.createFn != nil {
		return m.createFn(ctx, tmpl)
	}
	stored := *tmpl
	stored.ID = uuid.New()
	return &stored, nil
}

func (m *mockTemplateRepo) IncrementUseCount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incremented = append(m.incremented, id)
	return nil
}

type jobOutcome struct {
	Outcome   string
	RunAfter  time.Time
	LastError string
}

type mockJobRepo struct {
	claimFn func(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	mu       sync.Mutex
	enqueued []*domain.Job
	outcomes map[uuid.UUID]jobOutcome
	cleaned  time.Time
}

func (m *mockJobRepo) Enqueue(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockJobRepo) jobs() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Job(nil), m.enqueued...)
}

func (m *mockJobRepo) Claim(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockJobRepo) record(id uuid.UUID, o jobOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[uuid.UUID]jobOutcome)
	}
	m.outcomes[id] = o
}

func (m *mockJobRepo) Complete(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.record(id, jobOutcome{Outcome: "completed"})
	return nil
}

func (m *mockJobRepo) Retry(_ context.Context, id uuid.UUID, runAfter time.Time, lastError string) error {
	m.record(id, jobOutcome{Outcome: "retried", RunAfter: runAfter, LastError: lastError})
	return nil
}

func (m *mockJobRepo) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	m.record(id, jobOutcome{Outcome: "failed", LastError: lastError})
	return nil
}

func (m *mockJobRepo) CleanupFinished(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = olderThan
	return 2, nil
}

// --- Gmail repositories ---

type mockGmailRepo struct {
	getByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.GmailIntegration, error)
	getByUserFn    func(ctx context.Context, userID uuid.UUID) (*domain.GmailIntegration, error)
	listActiveFn   func(ctx context.Context) ([]*domain.GmailIntegration, error)
	listExpiringFn func(ctx context.Context, before time.Time) ([]*domain.GmailIntegration, error)
	upsertFn       func(ctx context.Context, in *domain.GmailIntegration) (*domain.GmailIntegration, error)

	mu         sync.Mutex
	statuses   map[uuid.UUID]statusChange
	tokens     map[uuid.UUID]string
	syncStates map[uuid.UUID]string
	apiCalls   int
}

func (m *mockGmailRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GmailIntegration, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrIntegrationNotFound
}

func (m *mockGmailRepo) GetByUser(ctx context.Context, userID uuid.UUID) (*domain.GmailIntegration, error) {
	if m.getByUserFn != nil {
		return m.getByUserFn(ctx, userID)
	}
	return nil, domain.ErrIntegrationNotFound
}

func (m *mockGmailRepo) ListActive(ctx context.Context) ([]*domain.GmailIntegration, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockGmailRepo) ListExpiring(ctx context.Context, before time.Time) ([]*domain.GmailIntegration, error) {
	if m.listExpiringFn != nil {
		return m.listExpiringFn(ctx, before)
	}
	return nil, nil
}

func (m *mockGmailRepo) Upsert(ctx context.Context, in *domain.GmailIntegration) (*domain.GmailIntegration, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, in)
	}
	stored := *in
	stored.ID = uuid.New()
	return &stored, nil
}

func (m *mockGmailRepo) UpdateAccessToken(_ context.Context, id uuid.UUID, token string, _, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[uuid.UUID]string)
	}
	m.tokens[id] = token
	return nil
}

func (m *mockGmailRepo) token(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[id]
}

func (m *mockGmailRepo) SetStatus(_ context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[uuid.UUID]statusChange)
	}
	m.statuses[id] = statusChange{Status: status, LastError: lastError}
	return nil
}

func (m *mockGmailRepo) UpdateSyncState(_ context.Context, id uuid.UUID, historyID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncStates == nil {
		m.syncStates = make(map[uuid.UUID]string)
	}
	m.syncStates[id] = historyID
	return nil
}

func (m *mockGmailRepo) IncrementAPICalls(_ context.Context, _ uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiCalls++
	return nil
}

type mockMailboxRepo struct {
	mu       sync.Mutex
	threads  map[string]*domain.GmailThread
	messages map[string]*domain.GmailMessage
	logs     []domain.SyncLog
}

func (m *mockMailboxRepo) UpsertThread(_ context.Context, t *domain.GmailThread) (*domain.GmailThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threads == nil {
		m.threads = make(map[string]*domain.GmailThread)
	}
	existing, ok := m.threads[t.GmailThreadID]
	if !ok {
		stored := *t
		stored.ID = uuid.New()
		m.threads[t.GmailThreadID] = &stored
		return &stored, nil
	}
	existing.MessageCount += t.MessageCount
	existing.UnreadCount += t.UnreadCount
	if !t.LastMessageAt.Before(existing.LastMessageAt) {
		existing.LastMessageAt = t.LastMessageAt
		existing.Snippet = t.Snippet
	}
	return existing, nil
}

func (m *mockMailboxRepo) InsertMessage(_ context.Context, msg *domain.GmailMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = make(map[string]*domain.GmailMessage)
	}
	if _, ok := m.messages[msg.GmailMessageID]; ok {
		return false, nil
	}
	m.messages[msg.GmailMessageID] = msg
	return true, nil
}

func (m *mockMailboxRepo) WriteSyncLog(_ context.Context, entry domain.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// --- Slack repositories ---

type mockSlackRepo struct {
	getActiveFn  func(ctx context.Context, imoID uuid.UUID) (*domain.SlackIntegration, error)
	upsertFn     func(ctx context.Context, in *domain.SlackIntegration) (*domain.SlackIntegration, error)
	listFn       func(ctx context.Context, imoID uuid.UUID, agencyID *uuid.UUID, notificationType string) ([]*domain.SlackChannelConfig, error)
	productionFn func(ctx context.Context, agencyID uuid.UUID) ([]domain.LeaderboardEntry, error)

	mu       sync.Mutex
	logged   []domain.SlackMessage
	statuses map[uuid.UUID]statusChange
}

func (m *mockSlackRepo) GetActiveByIMO(ctx context.Context, imoID uuid.UUID) (*domain.SlackIntegration, error) {
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx, imoID)
	}
	return nil, domain.ErrIntegrationNotFound
}

func (m *mockSlackRepo) Upsert(ctx context.Context, in *domain.SlackIntegration) (*domain.SlackIntegration, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, in)
	}
	stored := *in
	stored.ID = uuid.New()
	return &stored, nil
}

func (m *mockSlackRepo) SetStatus(_ context.Context, id uuid.UUID, status domain.ConnectionStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[uuid.UUID]statusChange)
	}
	m.statuses[id] = statusChange{Status: status, LastError: lastError}
	return nil
}

func (m *mockSlackRepo) ListForAgency(ctx context.Context, imoID uuid.UUID, agencyID *uuid.UUID, notificationType string) ([]*domain.SlackChannelConfig, error) {
	if m.listFn != nil {
		return m.listFn(ctx, imoID, agencyID, notificationType)
	}
	return nil, nil
}

func (m *mockSlackRepo) LogMessage(_ context.Context, msg domain.SlackMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logged = append(m.logged, msg)
	return nil
}

func (m *mockSlackRepo) AgencyProduction(ctx context.Context, agencyID uuid.UUID) ([]domain.LeaderboardEntry, error) {
	if m.productionFn != nil {
		return m.productionFn(ctx, agencyID)
	}
	return nil, nil
}

// --- Provider clients ---

type mockGraph struct {
	sendMessageFn       func(ctx context.Context, igUserID, token, recipientID, text string) (string, error)
	exchangeCodeFn      func(ctx context.Context, code string) (*instagram.ShortLivedToken, error)
	exchangeLongLivedFn func(ctx context.Context, short string) (*instagram.LongLivedToken, error)
	refreshLongLivedFn  func(ctx context.Context, token string) (*instagram.LongLivedToken, error)
	getProfileFn        func(ctx context.Context, token string) (*instagram.Profile, error)
	getParticipantFn    func(ctx context.Context, token, participantID string) (*domain.ParticipantProfile, error)
	listConversationsFn func(ctx context.Context, igUserID, token string, limit int, cursor string) (*instagram.ConversationPage, error)
	listMessagesFn      func(ctx context.Context, igConversationID, token string, limit int, cursor string) (*instagram.MessagePage, error)
	downloadFn          func(ctx context.Context, url string) ([]byte, string, error)

	mu    sync.Mutex
	sends int
}

func (m *mockGraph) SendMessage(ctx context.Context, igUserID, token, recipientID, text string) (string, error) {
	m.mu.Lock()
	m.sends++
	m.mu.Unlock()
	if m.sendMessageFn != nil {
		return m.sendMessageFn(ctx, igUserID, token, recipientID, text)
	}
	return "mid." + uuid.NewString(), nil
}

func (m *mockGraph) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

func (m *mockGraph) ExchangeCode(ctx context.Context, code string) (*instagram.ShortLivedToken, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGraph) ExchangeLongLived(ctx context.Context, short string) (*instagram.LongLivedToken, error) {
	if m.exchangeLongLivedFn != nil {
		return m.exchangeLongLivedFn(ctx, short)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGraph) RefreshLongLived(ctx context.Context, token string) (*instagram.LongLivedToken, error) {
	if m.refreshLongLivedFn != nil {
		return m.refreshLongLivedFn(ctx, token)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGraph) GetProfile(ctx context.Context, token string) (*instagram.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, token)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGraph) GetParticipant(ctx context.Context, token, participantID string) (*domain.ParticipantProfile, error) {
	if m.getParticipantFn != nil {
		return m.getParticipantFn(ctx, token, participantID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGraph) ListConversations(ctx context.Context, igUserID, token string, limit int, cursor string) (*instagram.ConversationPage, error) {
	if m.listConversationsFn != nil {
		return m.listConversationsFn(ctx, igUserID, token, limit, cursor)
	}
	return &instagram.ConversationPage{}, nil
}

func (m *mockGraph) ListMessages(ctx context.Context, igConversationID, token string, limit int, cursor string) (*instagram.MessagePage, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, igConversationID, token, limit, cursor)
	}
	return &instagram.MessagePage{}, nil
}

func (m *mockGraph) Download(ctx context.Context, url string) ([]byte, string, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, url)
	}
	return []byte("bytes"), "image/jpeg", nil
}

type mockMediaStore struct {
	putFn func(ctx context.Context, key string, body []byte, contentType string) (string, error)

	mu   sync.Mutex
	keys []string
}

func (m *mockMediaStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	if m.putFn != nil {
		return m.putFn(ctx, key, body, contentType)
	}
	return "https://cdn.example.com/" + key, nil
}

type mockGmailClient struct {
	profileFn    func(ctx context.Context) (*gmail.Profile, error)
	listInboxFn  func(ctx context.Context, limit int64) ([]string, error)
	historyFn    func(ctx context.Context, startHistoryID string) ([]string, string, error)
	getMessageFn func(ctx context.Context, id string) (*gmailapi.Message, error)
	sendFn       func(ctx context.Context, raw, threadID string) (*gmailapi.Message, error)
}

func (m *mockGmailClient) Profile(ctx context.Context) (*gmail.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx)
	}
	return &gmail.Profile{EmailAddress: "agent@example.com", HistoryID: "100"}, nil
}

func (m *mockGmailClient) ListInbox(ctx context.Context, limit int64) ([]string, error) {
	if m.listInboxFn != nil {
		return m.listInboxFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockGmailClient) History(ctx context.Context, startHistoryID string) ([]string, string, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, startHistoryID)
	}
	return nil, startHistoryID, nil
}

func (m *mockGmailClient) GetMessage(ctx context.Context, id string) (*gmailapi.Message, error) {
	if m.getMessageFn != nil {
		return m.getMessageFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockGmailClient) Send(ctx context.Context, raw, threadID string) (*gmailapi.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, raw, threadID)
	}
	return &gmailapi.Message{Id: "sent-1", ThreadId: threadID}, nil
}

type postedBlocks struct {
	Channel  string
	Text     string
	Blocks   []slackapi.Block
	ThreadTS string
}

type mockSlackAPI struct {
	postFn     func(ctx context.Context, token, channel, text string, blocks []slackapi.Block, threadTS string) (string, error)
	authTestFn func(ctx context.Context, token string) (*slack.AuthInfo, error)

	mu    sync.Mutex
	posts []postedBlocks
}

func (m *mockSlackAPI) PostBlocks(ctx context.Context, token, channel, text string, blocks []slackapi.Block, threadTS string) (string, error) {
	m.mu.Lock()
	m.posts = append(m.posts, postedBlocks{Channel: channel, Text: text, Blocks: blocks, ThreadTS: threadTS})
	m.mu.Unlock()
	if m.postFn != nil {
		return m.postFn(ctx, token, channel, text, blocks, threadTS)
	}
	return fmt.Sprintf("1700000000.%06d", len(m.posts)), nil
}

func (m *mockSlackAPI) AuthTest(ctx context.Context, token string) (*slack.AuthInfo, error) {
	if m.authTestFn != nil {
		return m.authTestFn(ctx, token)
	}
	return &slack.AuthInfo{TeamID: "T1", Team: "Acme", UserID: "U1", BotID: "B1"}, nil
}

// --- Platform ports ---

type mockPublisher struct {
	mu      sync.Mutex
	updates []domain.ConversationUpdate
}

func (m *mockPublisher) ConversationUpdated(_ context.Context, _ uuid.UUID, update domain.ConversationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *mockPublisher) published() []domain.ConversationUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ConversationUpdate(nil), m.updates...)
}

type mockDebouncer struct {
	shouldTriggerFn func(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

func (m *mockDebouncer) ShouldTrigger(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.shouldTriggerFn != nil {
		return m.shouldTriggerFn(ctx, key, ttl)
	}
	return true, nil
}

type mockLimiter struct {
	allowFn func(ctx context.Context, integrationID uuid.UUID) (bool, time.Time, error)
}

func (m *mockLimiter) Allow(ctx context.Context, integrationID uuid.UUID) (bool, time.Time, error) {
	if m.allowFn != nil {
		return m.allowFn(ctx, integrationID)
	}
	return true, time.Now().Add(time.Hour), nil
}
