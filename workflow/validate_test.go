package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/formflow/formflow-engine/types"
)

func TestValidator(t *testing.T) {
	registry := NewRegistry()
	registry.Register("noop", &MockHandler{})
	registry.Register("picky", &MockHandler{validateErr: errors.New("'target' is required")})
	validator := NewValidator(registry)

	valid := func() types.WorkflowDefinition {
		return types.WorkflowDefinition{
			Name:   "valid",
			FormID: 1,
			Steps: []types.WorkflowStep{
				{Order: 1, Type: "noop"},
				{Order: 2, Type: "noop"},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*types.WorkflowDefinition)
		errMsg string
	}{
		{
			name:   "valid definition",
			mutate: func(*types.WorkflowDefinition) {},
		},
		{
			name:   "blank name",
			mutate: func(def *types.WorkflowDefinition) { def.Name = "   " },
			errMsg: "name must not be blank",
		},
		{
			name:   "missing form id",
			mutate: func(def *types.WorkflowDefinition) { def.FormID = 0 },
			errMsg: "form id must be set",
		},
		{
			name:   "no steps",
			mutate: func(def *types.WorkflowDefinition) { def.Steps = nil },
			errMsg: "at least one step",
		},
		{
			name: "gap in step order",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[1].Order = 3
			},
			errMsg: "steps must be in sequential order",
		},
		{
			name: "duplicate step order",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[1].Order = 1
			},
			errMsg: "steps must be in sequential order",
		},
		{
			name: "zero-based order",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[0].Order = 0
				def.Steps[1].Order = 1
			},
			errMsg: "steps must be in sequential order",
		},
		{
			name: "blank step type",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[0].Type = ""
			},
			errMsg: "step 1 has no type",
		},
		{
			name: "unregistered step type",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[1].Type = "teleport"
			},
			errMsg: "unsupported step type: teleport",
		},
		{
			name: "handler rejects config",
			mutate: func(def *types.WorkflowDefinition) {
				def.Steps[1].Type = "picky"
			},
			errMsg: "step 2: 'target' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(&def)
			err := validator.Validate(def)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

// Validation stops at the first failing check.
func TestValidatorFailFast(t *testing.T) {
	registry := NewRegistry()
	registry.Register("noop", &MockHandler{})
	validator := NewValidator(registry)

	err := validator.Validate(types.WorkflowDefinition{
		Name:   " ",
		FormID: 0,
		Steps:  []types.WorkflowStep{{Order: 2, Type: "teleport"}},
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "name must not be blank")
	assert.NotContains(t, err.Error(), "form id")
	assert.NotContains(t, err.Error(), "sequential")
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register("", &MockHandler{}))
	assert.Error(t, registry.Register("noop", nil))

	assert.NoError(t, registry.Register("noop", &MockHandler{}))
	assert.NoError(t, registry.Register("notify", &MockHandler{}))

	assert.True(t, registry.Has("noop"))
	assert.False(t, registry.Has("teleport"))

	handler, ok := registry.Lookup("notify")
	assert.True(t, ok)
	assert.NotNil(t, handler)

	assert.Equal(t, []string{"noop", "notify"}, registry.Types())
}
