// internal/grader/task.go

// Package grader runs AI grading tasks across a batch of repositories with
// bounded concurrency and per-item failure isolation.
package grader

import (
	"context"

	"repo-grader/internal/model"
)

// Feedback is the structured result of one grading invocation.
type Feedback struct {
	Summary string
	Detail  string
	Usage   model.TokenUsage
}

// Task is the AI grading agent, consumed as an opaque async operation. The
// orchestrator only needs the terminal result and token-usage totals;
// streaming updates belong to the presentation layer.
type Task interface {
	Grade(ctx context.Context, prompt, repositoryContent string) (*Feedback, error)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, prompt, repositoryContent string) (*Feedback, error)

func (f TaskFunc) Grade(ctx context.Context, prompt, repositoryContent string) (*Feedback, error) {
	return f(ctx, prompt, repositoryContent)
}
