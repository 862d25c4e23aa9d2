// internal/grader/orchestrator.go
package grader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"repo-grader/internal/model"
)

// cancelledReason marks items that were never dispatched because the batch
// was cancelled.
const cancelledReason = "cancelled"

// ContentFetcher retrieves a repository's full content. Satisfied by the
// rate-limited GitHub client.
type ContentFetcher interface {
	FetchAllFiles(ctx context.Context, ref model.RepositoryReference) (*model.RepositoryContent, error)
}

// Orchestrator drives N independent fetch-then-grade pipelines under a
// concurrency cap. One item's failure never aborts the batch.
type Orchestrator struct {
	fetcher     ContentFetcher
	task        Task
	prompt      string
	concurrency int
	itemTimeout time.Duration
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. concurrency values below 1 are
// clamped to 1; itemTimeout zero means no per-item deadline.
func NewOrchestrator(fetcher ContentFetcher, task Task, prompt string, concurrency int, itemTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		fetcher:     fetcher,
		task:        task,
		prompt:      prompt,
		concurrency: concurrency,
		itemTimeout: itemTimeout,
		logger:      logger,
	}
}

// itemResult is the terminal state of one batch item: either a grading
// outcome or a fetch failure, never both.
type itemResult struct {
	outcome      *model.GradingOutcome
	cloneFailure *model.CloneFailure
}

// RunBatch processes all references and returns an aggregate report whose
// outcomes preserve the input order. Cancellation is cooperative: it is
// checked before each dispatch, in-flight items are allowed to finish, and
// undispatched items are reported as failed with reason "cancelled".
func (o *Orchestrator) RunBatch(ctx context.Context, refs []model.RepositoryReference) *model.BatchReport {
	start := time.Now()
	o.logger.Info("Starting batch run", "items", len(refs), "concurrency", o.concurrency)

	// Work runs on a cancel-insulated context so that cancelling the batch
	// does not hard-kill items already in flight.
	workCtx := context.WithoutCancel(ctx)

	results := make([]itemResult, len(refs))
	sem := semaphore.NewWeighted(int64(o.concurrency))
	var wg sync.WaitGroup

	for i, ref := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			o.logger.Warn("Batch cancelled, skipping remaining items", "skipped_from", ref.String())
			for j := i; j < len(refs); j++ {
				results[j] = itemResult{outcome: &model.GradingOutcome{
					Reference:     refs[j],
					FailureReason: cancelledReason,
				}}
			}
			break
		}

		i, ref := i, ref
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.processItem(workCtx, ref)
		}()
	}
	wg.Wait()

	return buildReport(refs, results, time.Since(start))
}

// processItem runs the Fetching -> Grading pipeline for a single reference.
func (o *Orchestrator) processItem(ctx context.Context, ref model.RepositoryReference) itemResult {
	logger := o.logger.With("repo", ref.String())
	start := time.Now()

	if o.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.itemTimeout)
		defer cancel()
	}

	logger.Info("Fetching repository content")
	content, err := o.fetcher.FetchAllFiles(ctx, ref)
	if err != nil {
		logger.Error("Failed to fetch repository", "error", err)
		return itemResult{cloneFailure: &model.CloneFailure{
			Reference: ref,
			Reason:    failureReason(err),
		}}
	}

	logger.Info("Grading repository", "files", len(content.Files))
	feedback, err := o.task.Grade(ctx, o.prompt, content.RenderedText)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Grading failed", "error", err, "elapsed", elapsed)
		return itemResult{outcome: &model.GradingOutcome{
			Reference:     ref,
			FailureReason: failureReason(err),
			Elapsed:       elapsed,
		}}
	}

	logger.Info("Grading succeeded", "elapsed", elapsed, "tokens", feedback.Usage.TotalTokens)
	return itemResult{outcome: &model.GradingOutcome{
		Reference:       ref,
		Succeeded:       true,
		FeedbackSummary: feedback.Summary,
		FeedbackDetail:  feedback.Detail,
		TokenUsage:      feedback.Usage,
		Elapsed:         elapsed,
	}}
}

// failureReason renders an error for the report, normalizing deadline errors
// so callers can recognize timeouts.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

// buildReport aggregates per-item results in input order. Token usage is
// summed here, once, to avoid shared counters during the run.
func buildReport(refs []model.RepositoryReference, results []itemResult, total time.Duration) *model.BatchReport {
	report := &model.BatchReport{
		Outcomes:        make([]model.GradingOutcome, 0, len(refs)),
		CloneFailures:   make([]model.CloneFailure, 0),
		TotalDurationMs: total.Milliseconds(),
	}

	for _, r := range results {
		switch {
		case r.cloneFailure != nil:
			report.CloneFailures = append(report.CloneFailures, *r.cloneFailure)
			report.FailureCount++
		case r.outcome != nil:
			report.Outcomes = append(report.Outcomes, *r.outcome)
			if r.outcome.Succeeded {
				report.SuccessCount++
				report.TotalTokenUsage = report.TotalTokenUsage.Add(r.outcome.TokenUsage)
			} else {
				report.FailureCount++
			}
		}
	}
	return report
}
