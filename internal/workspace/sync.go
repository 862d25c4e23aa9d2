// internal/workspace/sync.go
package workspace

import (
	"context"
	"log/slog"
	"strings"
	"time"

	custom_errors "repo-grader/internal/errors"
	"repo-grader/internal/model"
)

// Decision is a conflict policy's verdict for one existing row.
type Decision string

const (
	DecisionOverride Decision = "override"
	DecisionSkip     Decision = "skip"
)

// Conflict describes an incoming result that matched an existing row.
type Conflict struct {
	ExistingRowID string
	Incoming      model.GradingResult
}

// ConflictPolicy decides what to do when a result's repository already has a
// row in the database.
type ConflictPolicy interface {
	Decide(c Conflict) Decision
}

// PolicyFunc adapts a function to the ConflictPolicy interface.
type PolicyFunc func(c Conflict) Decision

func (f PolicyFunc) Decide(c Conflict) Decision { return f(c) }

// OverrideAll updates every conflicting row in place.
func OverrideAll() ConflictPolicy {
	return PolicyFunc(func(Conflict) Decision { return DecisionOverride })
}

// SkipExisting leaves every conflicting row untouched.
func SkipExisting() ConflictPolicy {
	return PolicyFunc(func(Conflict) Decision { return DecisionSkip })
}

// NormalizeRepoURL canonicalizes a repository URL for conflict matching:
// lowercased, trailing slash and ".git" suffix stripped. GitHub treats these
// variants as the same repository, so the sync engine must too.
func NormalizeRepoURL(rawURL string) string {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	return u
}

// RowClient is the slice of the workspace API the sync engine needs.
type RowClient interface {
	QueryRowsByURL(ctx context.Context, databaseID, urlColumn string) (map[string]string, error)
	CreateRow(ctx context.Context, databaseID string, props Properties) (string, error)
	UpdateRow(ctx context.Context, rowID string, props Properties) error
}

// SyncEngine writes grading results into a workspace database, creating rows
// for new repositories and applying a conflict policy to existing ones.
type SyncEngine struct {
	client RowClient
	schema *SchemaManager
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncEngine creates a SyncEngine that manages schema through the given
// manager.
func NewSyncEngine(client RowClient, schema *SchemaManager, logger *slog.Logger) *SyncEngine {
	return &SyncEngine{
		client: client,
		schema: schema,
		logger: logger,
		now:    time.Now,
	}
}

// mapResultToRow converts one grading result into a row payload.
//
// Identity columns (title, URL) are written only on create: an update must
// never rewrite them, so user edits to row names survive re-grading. The
// Graded At timestamp is always refreshed. The Error column is populated on
// failure and explicitly cleared on success so a previously failed row does
// not keep a stale error after a successful re-run.
func (e *SyncEngine) mapResultToRow(result model.GradingResult, titleCol string, isUpdate, skipURLColumn bool, mode model.ProcessingMode) Properties {
	props := Properties{
		ColGradedAt: {Date: &DateValue{Start: e.now().UTC().Format(time.RFC3339)}},
	}

	if !isUpdate {
		props[titleCol] = TitleValue(result.Reference.Name)
		if !skipURLColumn {
			props[ColGitHubURL] = PropertyValue{URL: result.Reference.SourceURL}
		}
	}

	if mode.IncludesCode() {
		props[ColSummary] = TextValue(result.Outcome.FeedbackSummary)
		props[ColFeedback] = TextValue(result.Outcome.FeedbackDetail)
		if result.Outcome.Succeeded {
			props[ColError] = TextValue("")
		} else {
			props[ColError] = TextValue(result.Outcome.FailureReason)
		}
	}

	if mode.IncludesBrowser() && result.Browser != nil {
		b := result.Browser
		props[ColBrowserConducted] = CheckboxValue(b.Conducted)
		props[ColBrowserURL] = PropertyValue{URL: b.URL}
		props[ColBrowserSuccess] = CheckboxValue(b.Success)
		props[ColBrowserDuration] = NumberValue(b.DurationSeconds)
		props[ColBrowserActions] = NumberValue(float64(b.ActionCount))
		props[ColBrowserScreenshots] = NumberValue(float64(b.ScreenshotCount))
		props[ColBrowserErrors] = TextValue(b.Errors)
		props[ColBrowserPageTitle] = TextValue(b.PageTitle)
	}

	return props
}

// SyncBatch upserts all results into the database. The schema is reconciled
// first, then existing rows are indexed by normalized URL and each result is
// created, updated or skipped per the conflict policy. A failed row write is
// counted and logged, never retried, and never aborts the batch.
func (e *SyncEngine) SyncBatch(ctx context.Context, databaseID string, results []model.GradingResult, policy ConflictPolicy, mode model.ProcessingMode, skipURLColumn bool) (model.SyncStats, error) {
	var stats model.SyncStats

	schema, err := e.schema.EnsureSchema(ctx, databaseID, mode, skipURLColumn)
	if err != nil {
		return stats, err
	}
	titleCol := schema.TitleColumn()

	existing, err := e.client.QueryRowsByURL(ctx, databaseID, schema.URLColumn())
	if err != nil {
		return stats, err
	}
	index := make(map[string]string, len(existing))
	for url, rowID := range existing {
		index[NormalizeRepoURL(url)] = rowID
	}

	for _, result := range results {
		logger := e.logger.With("repo", result.Reference.String())

		rowID, found := index[NormalizeRepoURL(result.Reference.SourceURL)]
		if found {
			decision := policy.Decide(Conflict{ExistingRowID: rowID, Incoming: result})
			if decision == DecisionSkip {
				logger.Info("Skipping existing row", "row_id", rowID)
				stats.Skipped++
				continue
			}

			props := e.mapResultToRow(result, titleCol, true, skipURLColumn, mode)
			if err := e.client.UpdateRow(ctx, rowID, props); err != nil {
				writeErr := &custom_errors.RowWriteError{RepoURL: result.Reference.SourceURL, Err: err}
				logger.Error("Failed to update row", "row_id", rowID, "error", writeErr)
				stats.Failed++
				continue
			}
			logger.Info("Updated existing row", "row_id", rowID)
			stats.Success++
			continue
		}

		props := e.mapResultToRow(result, titleCol, false, skipURLColumn, mode)
		newID, err := e.client.CreateRow(ctx, databaseID, props)
		if err != nil {
			writeErr := &custom_errors.RowWriteError{RepoURL: result.Reference.SourceURL, Err: err}
			logger.Error("Failed to create row", "error", writeErr)
			stats.Failed++
			continue
		}
		logger.Info("Created row", "row_id", newID)
		stats.Success++
	}

	e.logger.Info("Sync complete",
		"total", len(results),
		"success", stats.Success,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	return stats, nil
}
