package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/commhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobProcessor(d *testDeps, media *mockMediaStore) *JobProcessor {
	return NewJobProcessor(JobProcessorDeps{
		Jobs:          d.jobs,
		Integrations:  d.instagram,
		Conversations: d.conversations,
		Messages:      d.messages,
		Credentials:   d.creds,
		Graph:         d.graph,
		Media:         media,
		Scheduled:     d.scheduledProcessor(),
		Metrics:       d.metrics,
		Clock:         d.clock,
	})
}

func newJob(t *testing.T, jobType domain.JobType, integrationID *uuid.UUID, payload any, attempts int) *domain.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &domain.Job{
		ID:            uuid.New(),
		JobType:       jobType,
		Payload:       raw,
		IntegrationID: integrationID,
		Status:        domain.JobProcessing,
		Attempts:      attempts,
		MaxAttempts:   domain.DefaultJobMaxAttempts,
	}
}

func claimOnly(jobs ...*domain.Job) func(context.Context, time.Time, int) ([]*domain.Job, error) {
	return func(context.Context, time.Time, int) ([]*domain.Job, error) { return jobs, nil }
}

func TestJobEnqueue(t *testing.T) {
	d := newTestDeps(nil)
	p := newJobProcessor(d, &mockMediaStore{})
	integrationID, convID := uuid.New(), uuid.New()

	err := p.Enqueue(context.Background(), domain.JobRefreshParticipantMetadata, &integrationID,
		ParticipantMetadataPayload{ConversationID: convID, ParticipantID: "p-1"}, 0)
	require.NoError(t, err)

	jobs := d.jobs.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobPending, jobs[0].Status)
	assert.Equal(t, domain.DefaultJobMaxAttempts, jobs[0].MaxAttempts)
	assert.Equal(t, testNow, jobs[0].RunAfter)
	assert.JSONEq(t, `{"conversation_id":"`+convID.String()+`","participant_id":"p-1"}`, string(jobs[0].Payload))
}

func TestJobRun_DownloadProfilePicture(t *testing.T) {
	d := newTestDeps(nil)
	media := &mockMediaStore{}
	integrationID, convID := uuid.New(), uuid.New()

	var cached string
	d.conversations.setAvatarCacheFn = func(_ context.Context, id uuid.UUID, url string, at time.Time) error {
		assert.Equal(t, convID, id)
		assert.Equal(t, testNow, at)
		cached = url
		return nil
	}
	d.graph.downloadFn = func(_ context.Context, url string) ([]byte, string, error) {
		assert.Equal(t, "https://scontent.example.com/p.jpg", url)
		return []byte{0xff, 0xd8}, "image/jpeg", nil
	}
	job := newJob(t, domain.JobDownloadProfilePicture, &integrationID,
		ProfilePicturePayload{ConversationID: convID, ParticipantID: "p-1", SourceURL: "https://scontent.example.com/p.jpg"}, 1)
	d.jobs.claimFn = claimOnly(job)

	res, err := newJobProcessor(d, media).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, res.Cleaned)
	require.Len(t, media.keys, 1)
	assert.True(t, strings.HasPrefix(media.keys[0], "avatars/"+integrationID.String()+"/p-1"), media.keys[0])
	assert.Equal(t, "https://cdn.example.com/"+media.keys[0], cached)
	assert.Equal(t, "completed", d.jobs.outcomes[job.ID].Outcome)
	assert.Equal(t, testNow.Add(-jobRetention), d.jobs.cleaned)
	assert.InDelta(t, 1, testutil.ToFloat64(d.metrics.JobsProcessed.WithLabelValues(string(domain.JobDownloadProfilePicture), "completed")), 0)
}

func TestJobRun_DownloadMessageMedia(t *testing.T) {
	d := newTestDeps(nil)
	media := &mockMediaStore{}
	integrationID, convID, msgID := uuid.New(), uuid.New(), uuid.New()

	var cachedFor uuid.UUID
	d.messages.setMediaCacheFn = func(_ context.Context, id uuid.UUID, _ string, _ time.Time) error {
		cachedFor = id
		return nil
	}
	d.graph.downloadFn = func(context.Context, string) ([]byte, string, error) {
		return []byte("video"), "", nil
	}
	job := newJob(t, domain.JobDownloadMessageMedia, &integrationID,
		MessageMediaPayload{MessageID: msgID, ConversationID: convID, SourceURL: "https://lookaside.example.com/v", MediaType: "video"}, 1)
	d.jobs.claimFn = claimOnly(job)

	res, err := newJobProcessor(d, media).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, msgID, cachedFor)
	require.Len(t, media.keys, 1)
	assert.True(t, strings.HasPrefix(media.keys[0], "messages/"+convID.String()+"/"+msgID.String()), media.keys[0])
}

func TestJobRun_RefreshParticipantQueuesAvatar(t *testing.T) {
	d := newTestDeps(nil)
	in := connectedInstagram(uuid.New())
	convID := uuid.New()

	d.instagram.getByIDFn = func(_ context.Context, id uuid.UUID) (*domain.InstagramIntegration, error) {
		require.Equal(t, in.ID, id)
		return &in, nil
	}
	d.graph.getParticipantFn = func(_ context.Context, token, participantID string) (*domain.ParticipantProfile, error) {
		assert.Equal(t, "ig-token", token)
		assert.Equal(t, "p-1", participantID)
		return &domain.ParticipantProfile{Username: "client.bob", Name: "Bob", ProfilePicURL: "https://scontent.example.com/bob.jpg"}, nil
	}
	var updated domain.ParticipantProfile
	d.conversations.updateParticipant = func(_ context.Context, _ uuid.UUID, p domain.ParticipantProfile) error {
		updated = p
		return nil
	}
	job := newJob(t, domain.JobRefreshParticipantMetadata, &in.ID, ParticipantMetadataPayload{ConversationID: convID, ParticipantID: "p-1"}, 1)
	d.jobs.claimFn = claimOnly(job)

	res, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, "Bob", updated.Name)

	queued := d.jobs.jobs()
	require.Len(t, queued, 1)
	assert.Equal(t, domain.JobDownloadProfilePicture, queued[0].JobType)
	assert.Equal(t, avatarJobPriority, queued[0].Priority)
	assert.Equal(t, in.ID, *queued[0].IntegrationID)
}

func TestJobRun_SendScheduledMessage(t *testing.T) {
	d := newTestDeps(nil)
	due := dueFor(connectedInstagram(uuid.New()), "hello", 0)
	d.scheduled.getDueFn = func(context.Context, uuid.UUID) (*domain.DueMessage, error) { return due, nil }

	job := newJob(t, domain.JobSendScheduledMessage, nil, ScheduledMessagePayload{ScheduledMessageID: due.Scheduled.ID}, 1)
	d.jobs.claimFn = claimOnly(job)

	res, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, d.graph.sendCount())
	assert.Contains(t, d.scheduled.sent, due.Scheduled.ID)
}

func TestJobRun_RetryBackoff(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		wantOutcome  string
		wantRunAfter time.Time
	}{
		{name: "first attempt retries in two minutes", attempts: 1, wantOutcome: "retried", wantRunAfter: testNow.Add(2 * time.Minute)},
		{name: "second attempt retries in four minutes", attempts: 2, wantOutcome: "retried", wantRunAfter: testNow.Add(4 * time.Minute)},
		{name: "last attempt fails", attempts: 3, wantOutcome: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(nil)
			integrationID := uuid.New()
			d.graph.downloadFn = func(context.Context, string) ([]byte, string, error) {
				return nil, "", errors.New("cdn timeout")
			}
			job := newJob(t, domain.JobDownloadProfilePicture, &integrationID,
				ProfilePicturePayload{ConversationID: uuid.New(), ParticipantID: "p-1", SourceURL: "https://x"}, tt.attempts)
			d.jobs.claimFn = claimOnly(job)

			res, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, res.Failed)
			got := d.jobs.outcomes[job.ID]
			assert.Equal(t, tt.wantOutcome, got.Outcome)
			assert.Contains(t, got.LastError, "cdn timeout")
			if !tt.wantRunAfter.IsZero() {
				assert.Equal(t, tt.wantRunAfter, got.RunAfter)
			}
		})
	}
}

func TestJobRun_InvalidJobs(t *testing.T) {
	integrationID := uuid.New()
	tests := []struct {
		name    string
		job     func(t *testing.T) *domain.Job
		wantErr string
	}{
		{
			name: "unknown type",
			job: func(t *testing.T) *domain.Job {
				return newJob(t, domain.JobType("reindex_everything"), nil, map[string]string{}, 1)
			},
			wantErr: "unknown job type",
		},
		{
			name: "missing payload fields",
			job: func(t *testing.T) *domain.Job {
				return newJob(t, domain.JobDownloadMessageMedia, &integrationID, MessageMediaPayload{MessageID: uuid.New()}, 1)
			},
			wantErr: "missing required fields",
		},
		{
			name: "missing integration",
			job: func(t *testing.T) *domain.Job {
				return newJob(t, domain.JobDownloadProfilePicture, nil,
					ProfilePicturePayload{ConversationID: uuid.New(), ParticipantID: "p", SourceURL: "https://x"}, 1)
			},
			wantErr: errMissingIntegration.Error(),
		},
		{
			name: "empty payload",
			job: func(*testing.T) *domain.Job {
				return &domain.Job{ID: uuid.New(), JobType: domain.JobSendScheduledMessage, Attempts: 1, MaxAttempts: 3}
			},
			wantErr: "missing required fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(nil)
			job := tt.job(t)
			d.jobs.claimFn = claimOnly(job)

			res, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, res.Failed)
			require.Len(t, res.Errors, 1)
			assert.Contains(t, res.Errors[0], tt.wantErr)
			assert.Contains(t, d.jobs.outcomes[job.ID].LastError, tt.wantErr)
		})
	}
}

func TestJobRun_ClaimFailure(t *testing.T) {
	d := newTestDeps(nil)
	d.jobs.claimFn = func(context.Context, time.Time, int) ([]*domain.Job, error) {
		return nil, errors.New("deadlock detected")
	}

	_, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
	require.ErrorContains(t, err, "deadlock detected")
}

func TestJobRun_BoundsConcurrentJobs(t *testing.T) {
	d := newTestDeps(nil)
	integrationID := uuid.New()

	jobs := make([]*domain.Job, jobClaimLimit)
	for i := range jobs {
		jobs[i] = newJob(t, domain.JobDownloadMessageMedia, &integrationID,
			MessageMediaPayload{MessageID: uuid.New(), ConversationID: uuid.New(), SourceURL: "https://lookaside.example.com/m", MediaType: "image"}, 1)
	}
	d.jobs.claimFn = func(_ context.Context, _ time.Time, limit int) ([]*domain.Job, error) {
		assert.Equal(t, jobClaimLimit, limit)
		return jobs, nil
	}

	var inFlight, peak atomic.Int32
	d.graph.downloadFn = func(context.Context, string) ([]byte, string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return []byte("img"), "image/jpeg", nil
	}

	res, err := newJobProcessor(d, &mockMediaStore{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, jobClaimLimit, res.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(jobConcurrency))
	assert.Positive(t, peak.Load())
}
