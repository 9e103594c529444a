package workflow

import "errors"

var (
	// ErrTaskNotFound indicates no task is registered under the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEmptyRequirement indicates the requirement text was empty after
	// trimming. Missing requirements are unrecoverable, not retried.
	ErrEmptyRequirement = errors.New("requirements validation failed: requirement text is empty")

	// ErrRepoNotConfigured indicates no repository URL is configured for the
	// requested target service.
	ErrRepoNotConfigured = errors.New("no repository configured for target service")

	// ErrReviewNotConfigured indicates the remote-repository collaborator is
	// not available (e.g. missing token).
	ErrReviewNotConfigured = errors.New("review service not configured")
)
