// cmd/service/service.go
package main

import (
	"context"
	"log/slog"

	"repo-grader/internal/api"
	"repo-grader/internal/grader"
	"repo-grader/internal/model"
	"repo-grader/internal/workspace"
)

// batchOrchestrator is the grading pipeline as the service consumes it.
type batchOrchestrator interface {
	RunBatch(ctx context.Context, refs []model.RepositoryReference) *model.BatchReport
}

// resultSyncer writes a batch's results into the workspace database.
type resultSyncer interface {
	SyncBatch(ctx context.Context, databaseID string, results []model.GradingResult, policy workspace.ConflictPolicy, mode model.ProcessingMode, skipURLColumn bool) (model.SyncStats, error)
}

// batchService runs a grading batch end to end: orchestrate, then sync.
// It implements api.BatchRunner.
type batchService struct {
	orchestrator  batchOrchestrator
	syncer        resultSyncer
	databaseID    string
	skipURLColumn bool
	logger        *slog.Logger
}

func (s *batchService) RunBatch(ctx context.Context, refs []model.RepositoryReference, mode model.ProcessingMode, policy workspace.ConflictPolicy) (*model.BatchReport, model.SyncStats, error) {
	report := s.orchestrator.RunBatch(ctx, refs)

	results := resultsForSync(report)
	stats, err := s.syncer.SyncBatch(ctx, s.databaseID, results, policy, mode, s.skipURLColumn)
	if err != nil {
		return report, stats, err
	}

	s.logger.Info("Batch finished",
		"graded", report.SuccessCount,
		"failed", report.FailureCount,
		"synced", stats.Success,
		"sync_failed", stats.Failed,
		"sync_skipped", stats.Skipped,
	)
	return report, stats, nil
}

// resultsForSync flattens a batch report into sync rows. Repositories that
// never reached grading still get a row, carrying the fetch failure in the
// error column.
func resultsForSync(report *model.BatchReport) []model.GradingResult {
	results := make([]model.GradingResult, 0, len(report.Outcomes)+len(report.CloneFailures))
	for _, outcome := range report.Outcomes {
		results = append(results, model.GradingResult{
			Reference: outcome.Reference,
			Outcome:   outcome,
		})
	}
	for _, failure := range report.CloneFailures {
		results = append(results, model.GradingResult{
			Reference: failure.Reference,
			Outcome: model.GradingOutcome{
				Reference:     failure.Reference,
				FailureReason: failure.Reason,
			},
		})
	}
	return results
}

var (
	_ api.BatchRunner   = (*batchService)(nil)
	_ batchOrchestrator = (*grader.Orchestrator)(nil)
	_ resultSyncer      = (*workspace.SyncEngine)(nil)
)
