// internal/errors/errors.go
package errors

import (
	"fmt"
	"time"
)

// ErrInvalidRepoURL is returned when a repository URL does not match the
// 'https://github.com/{owner}/{name}' pattern.
type ErrInvalidRepoURL struct {
	URL string
}

func (e *ErrInvalidRepoURL) Error() string {
	return fmt.Sprintf("invalid repository URL: %q, expected 'https://github.com/{owner}/{name}'", e.URL)
}

// AuthError indicates a bad or expired credential. It is fatal for the whole
// batch and never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PermissionOrRateLimitError is an ambiguous 403: either missing permissions
// or a tripped rate limit. Retried via backoff-and-wait before surfacing.
type PermissionOrRateLimitError struct {
	Err error
}

func (e *PermissionOrRateLimitError) Error() string {
	return fmt.Sprintf("permission denied or rate limited: %v", e.Err)
}

func (e *PermissionOrRateLimitError) Unwrap() error { return e.Err }

// NotFoundError indicates a missing or inaccessible repository. Fatal for
// that one item only.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s: %v", e.Resource, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RateLimitExceededError is raised when retries against a rate-limited API
// are exhausted.
type RateLimitExceededError struct {
	Attempts int
	ResetAt  time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts, quota resets at %s", e.Attempts, e.ResetAt.Format(time.RFC3339))
}

// DecodeError indicates a blob whose content could not be decoded. The file
// is skipped; the repository fetch continues.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode content of %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// GradingError indicates an agent failure or malformed agent output. The
// item's outcome is a failure; the batch continues.
type GradingError struct {
	Repo string
	Err  error
}

func (e *GradingError) Error() string {
	if e.Repo == "" {
		return fmt.Sprintf("grading failed: %v", e.Err)
	}
	return fmt.Sprintf("grading failed for %s: %v", e.Repo, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }

// SchemaMigrationError is fatal for the sync run: no partial schema state is
// assumed safe to continue from.
type SchemaMigrationError struct {
	DatabaseID string
	Err        error
}

func (e *SchemaMigrationError) Error() string {
	return fmt.Sprintf("schema migration failed for database %s: %v", e.DatabaseID, e.Err)
}

func (e *SchemaMigrationError) Unwrap() error { return e.Err }

// RowWriteError indicates a single row write that failed. The row is counted
// as failed; the sync continues.
type RowWriteError struct {
	RepoURL string
	Err     error
}

func (e *RowWriteError) Error() string {
	return fmt.Sprintf("failed to write row for %s: %v", e.RepoURL, e.Err)
}

func (e *RowWriteError) Unwrap() error { return e.Err }
