// internal/model/models.go
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	custom_errors "repo-grader/internal/errors"
)

// ProcessingMode selects which result categories a schema and its rows must
// support.
type ProcessingMode string

const (
	ModeCode    ProcessingMode = "code"
	ModeBrowser ProcessingMode = "browser"
	ModeBoth    ProcessingMode = "both"
)

// ParseProcessingMode validates a mode string from config or an API request.
func ParseProcessingMode(s string) (ProcessingMode, error) {
	switch ProcessingMode(s) {
	case ModeCode, ModeBrowser, ModeBoth:
		return ProcessingMode(s), nil
	case "":
		return ModeCode, nil
	}
	return "", fmt.Errorf("invalid processing mode: %q, expected 'code', 'browser' or 'both'", s)
}

// IncludesCode reports whether code-grading columns apply to this mode.
func (m ProcessingMode) IncludesCode() bool { return m == ModeCode || m == ModeBoth }

// IncludesBrowser reports whether browser-test columns apply to this mode.
func (m ProcessingMode) IncludesBrowser() bool { return m == ModeBrowser || m == ModeBoth }

// RepositoryReference identifies one GitHub repository in a batch.
// It is immutable once created; invalid URLs never produce a reference.
type RepositoryReference struct {
	Owner     string
	Name      string
	SourceURL string
}

func (r RepositoryReference) String() string {
	return r.Owner + "/" + r.Name
}

var repoURLPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseRepositoryURL derives a RepositoryReference from a GitHub URL.
func ParseRepositoryURL(rawURL string) (RepositoryReference, error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return RepositoryReference{}, &custom_errors.ErrInvalidRepoURL{URL: rawURL}
	}
	return RepositoryReference{
		Owner:     m[1],
		Name:      m[2],
		SourceURL: rawURL,
	}, nil
}

// FileContent is one non-ignored file from a repository tree.
type FileContent struct {
	Path    string
	Content string
}

// RepositoryContent is the fetched input for a single grading run. It is
// owned by one orchestrator task for its lifetime and never shared across
// concurrent items.
type RepositoryContent struct {
	Reference    RepositoryReference
	Files        []FileContent
	RenderedText string
}

// TokenUsage is the token accounting reported by the grading agent for a
// single repository.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// GradingOutcome is the terminal result for one repository. Exactly one of
// the success fields or FailureReason is populated; Succeeded discriminates.
type GradingOutcome struct {
	Reference       RepositoryReference `json:"reference"`
	Succeeded       bool                `json:"succeeded"`
	FeedbackSummary string              `json:"feedback_summary,omitempty"`
	FeedbackDetail  string              `json:"feedback_detail,omitempty"`
	TokenUsage      TokenUsage          `json:"token_usage"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	Elapsed         time.Duration       `json:"elapsed"`
}

// CloneFailure records a repository that never reached grading.
type CloneFailure struct {
	Reference RepositoryReference `json:"reference"`
	Reason    string              `json:"reason"`
}

// BatchReport is the aggregate result of one batch run. Built once, never
// mutated after return.
type BatchReport struct {
	Outcomes        []GradingOutcome `json:"outcomes"`
	CloneFailures   []CloneFailure   `json:"clone_failures"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	SuccessCount    int              `json:"success_count"`
	FailureCount    int              `json:"failure_count"`
	TotalTokenUsage TokenUsage       `json:"total_token_usage"`
}

// BrowserTestResult holds the optional browser-test fields synced for modes
// browser/both.
type BrowserTestResult struct {
	Conducted       bool
	URL             string
	Success         bool
	DurationSeconds float64
	ActionCount     int
	ScreenshotCount int
	Errors          string
	PageTitle       string
}

// GradingResult is the sync engine's input: one graded repository plus the
// optional browser-test payload.
type GradingResult struct {
	Reference RepositoryReference
	Outcome   GradingOutcome
	Browser   *BrowserTestResult
}

// SyncStats are the aggregate counts returned by a sync run.
// Success+Failed+Skipped always equals the number of input results.
type SyncStats struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
