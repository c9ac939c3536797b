package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/formflow/formflow-engine/types"
)

// Errors
var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrSubmissionNotFound = errors.New("form submission not found")
	ErrExecutionNotFound  = errors.New("workflow execution not found")
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Listing order follows first-save order, which callers rely on when picking
// among multiple active definitions for one form.
type MemoryStorage struct {
	definitions map[uint64]types.WorkflowDefinition
	submissions map[uint64]types.FormSubmission
	executions  map[uint64]types.WorkflowExecution

	// first-save order indexes
	formDefinitions      map[uint64][]uint64
	submissionExecutions map[uint64][]uint64

	mu sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		definitions:          make(map[uint64]types.WorkflowDefinition),
		submissions:          make(map[uint64]types.FormSubmission),
		executions:           make(map[uint64]types.WorkflowExecution),
		formDefinitions:      make(map[uint64][]uint64),
		submissionExecutions: make(map[uint64][]uint64),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[uint64]T, id uint64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%d", errNotFound, id)
		}
		return item, nil
	})
}

// SaveDefinition saves a workflow definition to memory.
func (s *MemoryStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.definitions[def.ID]; !exists {
			s.formDefinitions[def.FormID] = append(s.formDefinitions[def.FormID], def.ID)
		}
		s.definitions[def.ID] = def
		return nil
	})
}

// GetDefinition retrieves a workflow definition from memory.
func (s *MemoryStorage) GetDefinition(ctx context.Context, id uint64) (types.WorkflowDefinition, error) {
	return getItem(ctx, &s.mu, s.definitions, id, ErrDefinitionNotFound)
}

// DeleteDefinition removes a workflow definition from memory.
func (s *MemoryStorage) DeleteDefinition(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		def, ok := s.definitions[id]
		if !ok {
			return fmt.Errorf("%w: id=%d", ErrDefinitionNotFound, id)
		}
		delete(s.definitions, id)
		ids := s.formDefinitions[def.FormID]
		for i, defID := range ids {
			if defID == id {
				s.formDefinitions[def.FormID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		return nil
	})
}

// ListDefinitionsByForm returns all definitions for a form in first-save order.
func (s *MemoryStorage) ListDefinitionsByForm(ctx context.Context, formID uint64) ([]types.WorkflowDefinition, error) {
	return withContext(ctx, func() ([]types.WorkflowDefinition, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := s.formDefinitions[formID]
		defs := make([]types.WorkflowDefinition, 0, len(ids))
		for _, id := range ids {
			if def, ok := s.definitions[id]; ok {
				defs = append(defs, def)
			}
		}
		return defs, nil
	})
}

// SaveSubmission saves a form submission to memory.
func (s *MemoryStorage) SaveSubmission(ctx context.Context, sub types.FormSubmission) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.submissions[sub.ID] = sub
		return nil
	})
}

// GetSubmission retrieves a form submission from memory.
func (s *MemoryStorage) GetSubmission(ctx context.Context, id uint64) (types.FormSubmission, error) {
	return getItem(ctx, &s.mu, s.submissions, id, ErrSubmissionNotFound)
}

// SaveExecution saves a workflow execution to memory.
func (s *MemoryStorage) SaveExecution(ctx context.Context, exec types.WorkflowExecution) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.executions[exec.ID]; !exists {
			s.submissionExecutions[exec.SubmissionID] = append(s.submissionExecutions[exec.SubmissionID], exec.ID)
		}
		s.executions[exec.ID] = exec
		return nil
	})
}

// GetExecution retrieves a workflow execution from memory.
func (s *MemoryStorage) GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error) {
	return getItem(ctx, &s.mu, s.executions, id, ErrExecutionNotFound)
}

// ListExecutionsBySubmission returns all executions for a submission in first-save order.
func (s *MemoryStorage) ListExecutionsBySubmission(ctx context.Context, submissionID uint64) ([]types.WorkflowExecution, error) {
	return withContext(ctx, func() ([]types.WorkflowExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := s.submissionExecutions[submissionID]
		execs := make([]types.WorkflowExecution, 0, len(ids))
		for _, id := range ids {
			if exec, ok := s.executions[id]; ok {
				execs = append(execs, exec)
			}
		}
		return execs, nil
	})
}

// SaveDefinitions saves multiple definitions in a single lock.
func (s *MemoryStorage) SaveDefinitions(ctx context.Context, defs []types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, def := range defs {
			if _, exists := s.definitions[def.ID]; !exists {
				s.formDefinitions[def.FormID] = append(s.formDefinitions[def.FormID], def.ID)
			}
			s.definitions[def.ID] = def
		}
		return nil
	})
}

// PurgeFinishedExecutions removes completed or failed executions.
func (s *MemoryStorage) PurgeFinishedExecutions(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, exec := range s.executions {
			if exec.Status == "COMPLETED" || exec.Status == "FAILED" {
				delete(s.executions, id)
				ids := s.submissionExecutions[exec.SubmissionID]
				for i, execID := range ids {
					if execID == id {
						s.submissionExecutions[exec.SubmissionID] = append(ids[:i], ids[i+1:]...)
						break
					}
				}
			}
		}
		return nil
	})
}
