package domain

import "errors"

var (
	ErrIntegrationNotFound      = errors.New("integration not found")
	ErrConversationNotFound     = errors.New("conversation not found")
	ErrMessageNotFound          = errors.New("message not found")
	ErrScheduledMessageNotFound = errors.New("scheduled message not found")
	ErrTemplateNotFound         = errors.New("template not found")
	ErrJobNotFound              = errors.New("job not found")
	ErrNotConnected             = errors.New("integration not connected")
	ErrScheduledNotPending      = errors.New("scheduled message is not pending")
	ErrScheduledNotDue          = errors.New("scheduled message is not due yet")
	ErrWindowClosed             = errors.New("messaging window closed")
)
