package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/formflow/formflow-engine/events"
	"github.com/formflow/formflow-engine/storage"
	"github.com/formflow/formflow-engine/types"
)

// Standard error definitions
var (
	ErrSubmissionNotFound = errors.New("form submission not found")
	ErrExecutionNotFound  = errors.New("workflow execution not found")
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrNoActiveWorkflow   = errors.New("no active workflow found for form")
	ErrHandlerNotFound    = errors.New("no handler found for step type")
	ErrInvalidDefinition  = errors.New("invalid workflow definition")
)

// Status and event constants
const (
	// Execution statuses
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"

	// Per-step result statuses
	StepStatusSuccess = "SUCCESS"
	StepStatusSkipped = "SKIPPED"
	StepStatusError   = "ERROR"

	// Submission statuses
	SubmissionStatusSubmitted = "SUBMITTED"
	SubmissionStatusProcessed = "PROCESSED"

	// Event types
	EventExecutionStarted   = "execution_started"
	EventStepCompleted      = "step_completed"
	EventStepSkipped        = "step_skipped"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
)

// Engine runs workflow definitions against form submissions. It exclusively
// owns the lifecycle of each WorkflowExecution from creation to
// finalization; it never mutates a definition and touches the submission
// only at the end of a fully successful run.
type Engine struct {
	storage   storage.Storage
	registry  *Registry
	validator *Validator
	evaluator *ConditionEvaluator
	eventBus  *events.EventBus
	generate  generator.Generator

	// opt-in per-submission serialization
	serializeSubmissions bool
	submissionLocks      sync.Map // submission ID -> *sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSubmissionSerialization makes concurrent ExecuteWorkflow calls for the
// same submission run one at a time. Off by default: without it, two
// simultaneous runs for one submission both proceed and both may write the
// final submission update.
func WithSubmissionSerialization() EngineOption {
	return func(e *Engine) {
		e.serializeSubmissions = true
	}
}

// WithEventBus replaces the engine's event bus.
func WithEventBus(bus *events.EventBus) EngineOption {
	return func(e *Engine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewEngine creates a new Engine with the given ID generator, storage and
// step handler registry.
func NewEngine(generate generator.Generator, store storage.Storage, registry *Registry, opts ...EngineOption) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		storage:   store,
		registry:  registry,
		evaluator: NewConditionEvaluator(),
		eventBus:  events.NewEventBus(),
		generate:  generate,
	}
	e.validator = NewValidator(registry)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// Stop gracefully stops the engine's event processing.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

// publishEvent publishes an event asynchronously to the event bus.
func (e *Engine) publishEvent(ctx context.Context, eventType string, executionID, submissionID uint64, data map[string]interface{}) {
	go e.eventBus.Publish(ctx, events.Event{
		Type:         eventType,
		ExecutionID:  executionID,
		SubmissionID: submissionID,
		Data:         data,
	})
}

// CreateDefinition validates and persists a new workflow definition. A zero
// ID is assigned from the engine's generator.
func (e *Engine) CreateDefinition(ctx context.Context, def types.WorkflowDefinition) (*types.WorkflowDefinition, error) {
	if err := e.validator.Validate(def); err != nil {
		return nil, err
	}

	if def.ID == 0 {
		id, err := e.generate.NextID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate definition ID: %w", err)
		}
		def.ID = id
	}

	now := time.Now().UnixMilli()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := e.storage.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}
	return &def, nil
}

// UpdateDefinition validates and persists changes to an existing definition.
func (e *Engine) UpdateDefinition(ctx context.Context, def types.WorkflowDefinition) (*types.WorkflowDefinition, error) {
	existing, err := e.storage.GetDefinition(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrDefinitionNotFound, def.ID)
	}
	if err := e.validator.Validate(def); err != nil {
		return nil, err
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UnixMilli()

	if err := e.storage.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}
	return &def, nil
}

// DeleteDefinition removes a workflow definition.
func (e *Engine) DeleteDefinition(ctx context.Context, definitionID uint64) error {
	if err := e.storage.DeleteDefinition(ctx, definitionID); err != nil {
		return fmt.Errorf("%w: id=%d", ErrDefinitionNotFound, definitionID)
	}
	return nil
}

// SetDefinitionActive toggles a definition's active flag. The definition is
// re-validated before the change is persisted.
func (e *Engine) SetDefinitionActive(ctx context.Context, definitionID uint64, active bool) (*types.WorkflowDefinition, error) {
	def, err := e.storage.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrDefinitionNotFound, definitionID)
	}
	if err := e.validator.Validate(def); err != nil {
		return nil, err
	}

	def.Active = active
	def.UpdatedAt = time.Now().UnixMilli()

	if err := e.storage.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}
	return &def, nil
}

// GetDefinition retrieves a workflow definition by ID.
func (e *Engine) GetDefinition(ctx context.Context, definitionID uint64) (*types.WorkflowDefinition, error) {
	def, err := e.storage.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrDefinitionNotFound, definitionID)
	}
	return &def, nil
}

// ExecuteWorkflow runs the first active workflow bound to the submission's
// form. It fails without creating an execution record when the submission is
// unknown or no active workflow exists; in every other case the caller
// receives a persisted execution whose status communicates the outcome. Step
// failures are contained: they finalize the execution as FAILED and are
// never re-raised.
func (e *Engine) ExecuteWorkflow(ctx context.Context, submissionID uint64) (*types.WorkflowExecution, error) {
	if e.serializeSubmissions {
		mu := e.submissionLock(submissionID)
		mu.Lock()
		defer mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sub, err := e.storage.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrSubmissionNotFound, submissionID)
	}

	defs, err := e.storage.ListDefinitionsByForm(ctx, sub.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	// first active definition in storage order wins
	var def types.WorkflowDefinition
	found := false
	for _, d := range defs {
		if d.Active && len(d.Steps) > 0 {
			def = d
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: form=%d", ErrNoActiveWorkflow, sub.FormID)
	}

	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	exec := types.WorkflowExecution{
		ID:           id,
		DefinitionID: def.ID,
		SubmissionID: sub.ID,
		InitiatedBy:  sub.SubmittedBy,
		Status:       StatusRunning,
		StepResults:  make(map[string]map[string]interface{}),
		StartTime:    time.Now().UnixMilli(),
	}

	// persisted before any step runs, so a crash mid-run leaves a
	// detectable RUNNING record
	if err := e.storage.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}
	e.publishEvent(ctx, EventExecutionStarted, exec.ID, sub.ID, map[string]interface{}{
		"definition_id": def.ID,
	})

	execCtx := map[string]interface{}{
		"submission": sub,
	}

	failed := false
	for _, step := range def.Steps {
		key := strconv.Itoa(step.Order)

		if !e.evaluator.ShouldRun(step, execCtx) {
			exec.StepResults[key] = map[string]interface{}{"status": StepStatusSkipped}
			e.publishEvent(ctx, EventStepSkipped, exec.ID, sub.ID, map[string]interface{}{
				"step_order": step.Order,
				"step_type":  step.Type,
			})
			continue
		}

		result, err := e.dispatchStep(ctx, step, execCtx)
		if err != nil {
			exec.StepResults[key] = map[string]interface{}{
				"status":  StepStatusError,
				"message": err.Error(),
			}
			exec.Status = StatusFailed
			exec.ErrorMessage = fmt.Sprintf("step %d failed: %v", step.Order, err)
			failed = true
			break
		}

		exec.StepResults[key] = result
		execCtx[stepResultKey(step.Order)] = result
		e.publishEvent(ctx, EventStepCompleted, exec.ID, sub.ID, map[string]interface{}{
			"step_order": step.Order,
			"step_type":  step.Type,
		})
	}

	exec.EndTime = time.Now().UnixMilli()
	if !failed {
		exec.Status = StatusCompleted
	}

	if err := e.storage.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	if failed {
		e.publishEvent(ctx, EventExecutionFailed, exec.ID, sub.ID, map[string]interface{}{
			"error": exec.ErrorMessage,
		})
		return &exec, nil
	}

	sub.Status = SubmissionStatusProcessed
	sub.ProcessedAt = exec.EndTime
	if err := e.storage.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update submission: %w", err)
	}

	e.publishEvent(ctx, EventExecutionCompleted, exec.ID, sub.ID, nil)
	return &exec, nil
}

// dispatchStep looks up and runs the handler for a step. Validation already
// guarantees the handler exists; a miss here is still reported as an error
// rather than assumed impossible. Handler panics are contained as step
// failures.
func (e *Engine) dispatchStep(ctx context.Context, step types.WorkflowStep, execCtx map[string]interface{}) (result map[string]interface{}, err error) {
	handler, ok := e.registry.Lookup(step.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, step.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("step handler panic: %v", r)
		}
	}()

	return handler.Execute(ctx, step.Config, execCtx)
}

// GetExecution retrieves a workflow execution by ID.
func (e *Engine) GetExecution(ctx context.Context, executionID uint64) (*types.WorkflowExecution, error) {
	exec, err := e.storage.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: id=%d", ErrExecutionNotFound, executionID)
	}
	return &exec, nil
}

// GetExecutionHistory returns all executions recorded for the submission,
// most recent first.
func (e *Engine) GetExecutionHistory(ctx context.Context, submissionID uint64) ([]types.WorkflowExecution, error) {
	execs, err := e.storage.ListExecutionsBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].StartTime > execs[j].StartTime
	})
	return execs, nil
}

// submissionLock returns the mutex guarding one submission's runs.
func (e *Engine) submissionLock(submissionID uint64) *sync.Mutex {
	mu, _ := e.submissionLocks.LoadOrStore(submissionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
