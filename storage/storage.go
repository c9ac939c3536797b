package storage

import (
	"context"

	"github.com/formflow/formflow-engine/types"
)

// Storage defines the interface for persisting and retrieving workflow
// definitions, form submissions, and workflow executions.
type Storage interface {
	// SaveDefinition saves a workflow definition.
	SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error

	// GetDefinition retrieves a workflow definition by ID.
	GetDefinition(ctx context.Context, id uint64) (types.WorkflowDefinition, error)

	// DeleteDefinition removes a workflow definition by ID.
	DeleteDefinition(ctx context.Context, id uint64) error

	// ListDefinitionsByForm returns all definitions bound to a form, in the
	// order they were first saved.
	ListDefinitionsByForm(ctx context.Context, formID uint64) ([]types.WorkflowDefinition, error)

	// SaveSubmission saves a form submission.
	SaveSubmission(ctx context.Context, sub types.FormSubmission) error

	// GetSubmission retrieves a form submission by ID.
	GetSubmission(ctx context.Context, id uint64) (types.FormSubmission, error)

	// SaveExecution saves a workflow execution.
	SaveExecution(ctx context.Context, exec types.WorkflowExecution) error

	// GetExecution retrieves a workflow execution by ID.
	GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error)

	// ListExecutionsBySubmission returns all executions recorded for the
	// submission, in the order they were first saved.
	ListExecutionsBySubmission(ctx context.Context, submissionID uint64) ([]types.WorkflowExecution, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
