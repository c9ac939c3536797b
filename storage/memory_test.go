package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/formflow/formflow-engine/types"
)

// Helper function to create a sample definition
func newDefinition(id, formID uint64) types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:     id,
		Name:   fmt.Sprintf("definition-%d", id),
		FormID: formID,
		Active: true,
		Steps: []types.WorkflowStep{
			{Order: 1, Type: "noop"},
		},
		CreatedAt: time.Now().UnixMilli(),
		UpdatedAt: time.Now().UnixMilli(),
	}
}

// Helper function to create a sample execution
func newExecution(id, submissionID uint64, status string) types.WorkflowExecution {
	return types.WorkflowExecution{
		ID:           id,
		DefinitionID: 1,
		SubmissionID: submissionID,
		Status:       status,
		StepResults:  map[string]map[string]interface{}{},
		StartTime:    time.Now().UnixMilli(),
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveAndGetDefinition", func(t *testing.T) {
		store := NewMemoryStorage()
		def := newDefinition(1, 10)
		assert.NoError(t, store.SaveDefinition(ctx, def))

		got, err := store.GetDefinition(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, def, got)

		_, err = store.GetDefinition(ctx, 2)
		assert.ErrorIs(t, err, ErrDefinitionNotFound)
	})

	t.Run("DeleteDefinition", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NoError(t, store.SaveDefinition(ctx, newDefinition(1, 10)))
		assert.NoError(t, store.DeleteDefinition(ctx, 1))

		_, err := store.GetDefinition(ctx, 1)
		assert.ErrorIs(t, err, ErrDefinitionNotFound)
		assert.ErrorIs(t, store.DeleteDefinition(ctx, 1), ErrDefinitionNotFound)

		defs, err := store.ListDefinitionsByForm(ctx, 10)
		assert.NoError(t, err)
		assert.Empty(t, defs)
	})

	t.Run("ListDefinitionsByFormPreservesSaveOrder", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NoError(t, store.SaveDefinition(ctx, newDefinition(3, 10)))
		assert.NoError(t, store.SaveDefinition(ctx, newDefinition(1, 10)))
		assert.NoError(t, store.SaveDefinition(ctx, newDefinition(2, 20)))

		// updating must not change the order
		updated := newDefinition(3, 10)
		updated.Name = "renamed"
		assert.NoError(t, store.SaveDefinition(ctx, updated))

		defs, err := store.ListDefinitionsByForm(ctx, 10)
		assert.NoError(t, err)
		assert.Len(t, defs, 2)
		assert.Equal(t, uint64(3), defs[0].ID)
		assert.Equal(t, "renamed", defs[0].Name)
		assert.Equal(t, uint64(1), defs[1].ID)
	})

	t.Run("SaveAndGetSubmission", func(t *testing.T) {
		store := NewMemoryStorage()
		sub := types.FormSubmission{
			ID:     5,
			FormID: 10,
			Data:   map[string]interface{}{"k": "v"},
			Status: "SUBMITTED",
		}
		assert.NoError(t, store.SaveSubmission(ctx, sub))

		got, err := store.GetSubmission(ctx, 5)
		assert.NoError(t, err)
		assert.Equal(t, sub, got)

		_, err = store.GetSubmission(ctx, 6)
		assert.ErrorIs(t, err, ErrSubmissionNotFound)
	})

	t.Run("SaveAndGetExecution", func(t *testing.T) {
		store := NewMemoryStorage()
		exec := newExecution(1, 5, "RUNNING")
		assert.NoError(t, store.SaveExecution(ctx, exec))

		got, err := store.GetExecution(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, exec, got)

		_, err = store.GetExecution(ctx, 2)
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("ListExecutionsBySubmissionPreservesSaveOrder", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NoError(t, store.SaveExecution(ctx, newExecution(2, 5, "COMPLETED")))
		assert.NoError(t, store.SaveExecution(ctx, newExecution(1, 5, "FAILED")))
		assert.NoError(t, store.SaveExecution(ctx, newExecution(3, 6, "COMPLETED")))

		// re-save (finalization) must not duplicate the index entry
		assert.NoError(t, store.SaveExecution(ctx, newExecution(1, 5, "COMPLETED")))

		execs, err := store.ListExecutionsBySubmission(ctx, 5)
		assert.NoError(t, err)
		assert.Len(t, execs, 2)
		assert.Equal(t, uint64(2), execs[0].ID)
		assert.Equal(t, uint64(1), execs[1].ID)
	})

	t.Run("SaveDefinitions", func(t *testing.T) {
		store := NewMemoryStorage()
		defs := []types.WorkflowDefinition{
			newDefinition(1, 10),
			newDefinition(2, 10),
		}
		assert.NoError(t, store.SaveDefinitions(ctx, defs))

		listed, err := store.ListDefinitionsByForm(ctx, 10)
		assert.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("PurgeFinishedExecutions", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NoError(t, store.SaveExecution(ctx, newExecution(1, 5, "COMPLETED")))
		assert.NoError(t, store.SaveExecution(ctx, newExecution(2, 5, "FAILED")))
		assert.NoError(t, store.SaveExecution(ctx, newExecution(3, 5, "RUNNING")))

		assert.NoError(t, store.PurgeFinishedExecutions(ctx))

		execs, err := store.ListExecutionsBySubmission(ctx, 5)
		assert.NoError(t, err)
		assert.Len(t, execs, 1)
		assert.Equal(t, uint64(3), execs[0].ID)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		store := NewMemoryStorage()
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, store.SaveDefinition(canceled, newDefinition(1, 10)), context.Canceled)
		_, err := store.GetDefinition(canceled, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		store := NewMemoryStorage()
		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				assert.NoError(t, store.SaveExecution(ctx, newExecution(id, 5, "RUNNING")))
				_, err := store.ListExecutionsBySubmission(ctx, 5)
				assert.NoError(t, err)
			}(uint64(i))
		}
		wg.Wait()

		execs, err := store.ListExecutionsBySubmission(ctx, 5)
		assert.NoError(t, err)
		assert.Len(t, execs, 20)
	})
}
