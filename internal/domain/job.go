package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobDownloadProfilePicture     JobType = "download_profile_picture"
	JobDownloadMessageMedia       JobType = "download_message_media"
	JobSendScheduledMessage       JobType = "send_scheduled_message"
	JobRefreshParticipantMetadata JobType = "refresh_participant_metadata"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

const DefaultJobMaxAttempts = 3

type Job struct {
	ID            uuid.UUID
	JobType       JobType
	Payload       json.RawMessage
	IntegrationID *uuid.UUID
	Status        JobStatus
	Attempts      int
	MaxAttempts   int
	Priority      int
	RunAfter      time.Time
	LastError     string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

type JobRepository interface {
	Enqueue(ctx context.Context, job *Job) error
	// Claim moves up to limit runnable jobs to processing and bumps their attempts.
	Claim(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	Retry(ctx context.Context, id uuid.UUID, runAfter time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	CleanupFinished(ctx context.Context, olderThan time.Time) (int64, error)
}
