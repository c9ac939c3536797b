package workflow

import (
	"fmt"
	"strings"

	"github.com/formflow/formflow-engine/types"
)

// Validator checks a workflow definition's structural and handler-level
// validity before it becomes runnable. Validation is fail-fast: the first
// failing check is reported and the rest are not evaluated.
type Validator struct {
	registry *Registry
}

// NewValidator creates a Validator backed by the given handler registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks the definition. It is a pure check with no side effects;
// all failures are reported as ErrInvalidDefinition.
func (v *Validator) Validate(def types.WorkflowDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidDefinition)
	}
	if def.FormID == 0 {
		return fmt.Errorf("%w: form id must be set", ErrInvalidDefinition)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: definition must have at least one step", ErrInvalidDefinition)
	}
	for i, step := range def.Steps {
		if step.Order != i+1 {
			return fmt.Errorf("%w: steps must be in sequential order", ErrInvalidDefinition)
		}
		if strings.TrimSpace(step.Type) == "" {
			return fmt.Errorf("%w: step %d has no type", ErrInvalidDefinition, step.Order)
		}
		handler, ok := v.registry.Lookup(step.Type)
		if !ok {
			return fmt.Errorf("%w: unsupported step type: %s", ErrInvalidDefinition, step.Type)
		}
		if err := handler.ValidateConfig(step.Config); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidDefinition, step.Order, err)
		}
	}
	return nil
}
