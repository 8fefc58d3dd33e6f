package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/adapter/mediastore"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	jobClaimLimit  = 20
	jobConcurrency = 5
	jobRetention   = 7 * 24 * time.Hour

	// Avatar downloads run after everything queued at default priority.
	avatarJobPriority = -1
)

var (
	errMissingIntegration = errors.New("job has no integration_id")
	errUnknownJobType     = errors.New("unknown job type")
)

type JobResult struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Cleaned   int      `json:"cleaned"`
	Errors    []string `json:"errors"`
}

type ProfilePicturePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	SourceURL      string    `json:"source_url"`
}

type MessageMediaPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SourceURL      string    `json:"source_url"`
	MediaType      string    `json:"media_type"`
}

type ScheduledMessagePayload struct {
	ScheduledMessageID uuid.UUID `json:"scheduled_message_id"`
}

type ParticipantMetadataPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
}

// JobProcessor drains the Postgres-backed job queue.
type JobProcessor struct {
	jobs          domain.JobRepository
	integrations  domain.InstagramIntegrationRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	creds         *CredentialStore
	graph         InstagramAPI
	media         MediaStore
	scheduled     *ScheduledProcessor
	metrics       *metrics.MessagingMetrics
	clock         clockwork.Clock
}

type JobProcessorDeps struct {
	Jobs          domain.JobRepository
	Integrations  domain.InstagramIntegrationRepository
	Conversations domain.ConversationRepository
	Messages      domain.MessageRepository
	Credentials   *CredentialStore
	Graph         InstagramAPI
	Media         MediaStore
	Scheduled     *ScheduledProcessor
	Metrics       *metrics.MessagingMetrics
	Clock         clockwork.Clock
}

func NewJobProcessor(d JobProcessorDeps) *JobProcessor {
	return &JobProcessor{
		jobs:          d.Jobs,
		integrations:  d.Integrations,
		conversations: d.Conversations,
		messages:      d.Messages,
		creds:         d.Credentials,
		graph:         d.Graph,
		media:         d.Media,
		scheduled:     d.Scheduled,
		metrics:       d.Metrics,
		clock:         d.Clock,
	}
}

// Enqueue adds a job that is runnable immediately.
func (p *JobProcessor) Enqueue(ctx context.Context, jobType domain.JobType, integrationID *uuid.UUID, payload any, priority int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	job := &domain.Job{
		JobType:       jobType,
		Payload:       raw,
		IntegrationID: integrationID,
		Status:        domain.JobPending,
		MaxAttempts:   domain.DefaultJobMaxAttempts,
		Priority:      priority,
		RunAfter:      p.clock.Now(),
	}
	if err := p.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

// Run claims a batch of jobs, processes them concurrently, and prunes
// finished jobs older than a week.
func (p *JobProcessor) Run(ctx context.Context) (*JobResult, error) {
	res := &JobResult{Errors: []string{}}

	jobs, err := p.jobs.Claim(ctx, p.clock.Now(), jobClaimLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	res.Total = len(jobs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			err := p.process(gctx, job)
			p.finish(gctx, job, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("Job %s (%s): %v", job.ID, job.JobType, err))
				return nil
			}
			res.Completed++
			return nil
		})
	}
	_ = g.Wait()

	cleaned, err := p.jobs.CleanupFinished(ctx, p.clock.Now().Add(-jobRetention))
	if err != nil {
		res.Errors = append(res.Errors, "cleanup: "+err.Error())
	}
	res.Cleaned = int(cleaned)

	if res.Total > 0 {
		slog.InfoContext(ctx, "Jobs processed", "total", res.Total, "completed", res.Completed, "failed", res.Failed, "cleaned", res.Cleaned)
	}
	return res, nil
}

func (p *JobProcessor) process(ctx context.Context, job *domain.Job) error {
	switch job.JobType {
	case domain.JobDownloadProfilePicture:
		var pl ProfilePicturePayload
		if err := decodePayload(job, &pl); err != nil {
			return err
		}
		if pl.ConversationID == uuid.Nil || pl.ParticipantID == "" || pl.SourceURL == "" {
			return missingField(job)
		}
		return p.downloadProfilePicture(ctx, job, pl)

	case domain.JobDownloadMessageMedia:
		var pl MessageMediaPayload
		if err := decodePayload(job, &pl); err != nil {
			return err
		}
		if pl.MessageID == uuid.Nil || pl.ConversationID == uuid.Nil || pl.SourceURL == "" {
			return missingField(job)
		}
		return p.downloadMessageMedia(ctx, job, pl)

	case domain.JobSendScheduledMessage:
		var pl ScheduledMessagePayload
		if err := decodePayload(job, &pl); err != nil {
			return err
		}
		if pl.ScheduledMessageID == uuid.Nil {
			return missingField(job)
		}
		return p.scheduled.SendOne(ctx, pl.ScheduledMessageID)

	case domain.JobRefreshParticipantMetadata:
		var pl ParticipantMetadataPayload
		if err := decodePayload(job, &pl); err != nil {
			return err
		}
		if pl.ConversationID == uuid.Nil || pl.ParticipantID == "" {
			return missingField(job)
		}
		return p.refreshParticipant(ctx, job, pl)

	default:
		return fmt.Errorf("%w: %s", errUnknownJobType, job.JobType)
	}
}

func (p *JobProcessor) downloadProfilePicture(ctx context.Context, job *domain.Job, pl ProfilePicturePayload) error {
	if job.IntegrationID == nil {
		return errMissingIntegration
	}

	body, contentType, err := p.graph.Download(ctx, pl.SourceURL)
	if err != nil {
		return fmt.Errorf("download profile picture: %w", err)
	}
	if contentType == "" {
		contentType = mediastore.FallbackContentType("image")
	}

	key := mediastore.AvatarKey(job.IntegrationID.String(), pl.ParticipantID, contentType)
	url, err := p.media.Put(ctx, key, body, contentType)
	if err != nil {
		return err
	}
	return p.conversations.SetAvatarCache(ctx, pl.ConversationID, url, p.clock.Now())
}

func (p *JobProcessor) downloadMessageMedia(ctx context.Context, job *domain.Job, pl MessageMediaPayload) error {
	if job.IntegrationID == nil {
		return errMissingIntegration
	}

	body, contentType, err := p.graph.Download(ctx, pl.SourceURL)
	if err != nil {
		return fmt.Errorf("download message media: %w", err)
	}
	if contentType == "" {
		contentType = mediastore.FallbackContentType(pl.MediaType)
	}

	key := mediastore.MessageMediaKey(pl.ConversationID.String(), pl.MessageID.String(), contentType)
	url, err := p.media.Put(ctx, key, body, contentType)
	if err != nil {
		return err
	}
	return p.messages.SetMediaCache(ctx, pl.MessageID, url, p.clock.Now())
}

func (p *JobProcessor) refreshParticipant(ctx context.Context, job *domain.Job, pl ParticipantMetadataPayload) error {
	if job.IntegrationID == nil {
		return errMissingIntegration
	}

	integration, err := p.integrations.GetByID(ctx, *job.IntegrationID)
	if err != nil {
		return err
	}
	token, err := p.creds.InstagramAccessToken(ctx, integration)
	if err != nil {
		return err
	}

	profile, err := p.graph.GetParticipant(ctx, token, pl.ParticipantID)
	if err != nil {
		return fmt.Errorf("fetch participant: %w", err)
	}
	if err := p.conversations.UpdateParticipant(ctx, pl.ConversationID, *profile); err != nil {
		return err
	}

	if profile.ProfilePicURL == "" {
		return nil
	}
	return p.Enqueue(ctx, domain.JobDownloadProfilePicture, job.IntegrationID, ProfilePicturePayload{
		ConversationID: pl.ConversationID,
		ParticipantID:  pl.ParticipantID,
		SourceURL:      profile.ProfilePicURL,
	}, avatarJobPriority)
}

// finish completes the job or schedules a retry with exponential backoff
// (2^attempts minutes) until MaxAttempts is reached.
func (p *JobProcessor) finish(ctx context.Context, job *domain.Job, jobErr error) {
	now := p.clock.Now()
	outcome := "completed"

	var err error
	switch {
	case jobErr == nil:
		err = p.jobs.Complete(ctx, job.ID, now)
	case job.Attempts < job.MaxAttempts:
		outcome = "retried"
		runAfter := now.Add(time.Duration(1<<job.Attempts) * time.Minute)
		err = p.jobs.Retry(ctx, job.ID, runAfter, jobErr.Error())
	default:
		outcome = "failed"
		err = p.jobs.MarkFailed(ctx, job.ID, jobErr.Error())
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record job outcome", "job_id", job.ID, "outcome", outcome, "error", err)
	}
	if jobErr != nil {
		slog.WarnContext(ctx, "Job failed", "job_id", job.ID, "type", job.JobType, "attempts", job.Attempts, "error", jobErr)
	}
	if p.metrics != nil {
		p.metrics.JobsProcessed.WithLabelValues(string(job.JobType), outcome).Inc()
	}
}

func decodePayload(job *domain.Job, dst any) error {
	if len(job.Payload) == 0 {
		return missingField(job)
	}
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.JobType, err)
	}
	return nil
}

func missingField(job *domain.Job) error {
	return fmt.Errorf("%s payload is missing required fields", job.JobType)
}
