package workflow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/formflow/formflow-engine/types"
)

// ConditionEvaluator decides whether a step should run, given the execution
// context accumulated so far. Compiled expression programs are cached by
// source.
type ConditionEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates a new ConditionEvaluator with an initialized cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{cache: make(map[string]*vm.Program)}
}

// ShouldRun reports whether the step should execute. A step without a
// condition always runs; when multiple condition kinds are set, all must
// pass.
//
// Any error or panic during evaluation makes the condition FAIL OPEN: the
// step runs anyway. This mirrors the long-standing behavior callers depend
// on; switching to fail-closed would silently change which steps execute.
func (e *ConditionEvaluator) ShouldRun(step types.WorkflowStep, execCtx map[string]interface{}) (run bool) {
	cond := step.Condition
	if cond == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			run = true
		}
	}()

	if len(cond.FieldEquals) > 0 {
		sub, ok := execCtx["submission"].(types.FormSubmission)
		if !ok {
			// missing submission context is an evaluation failure, not a skip
			return true
		}
		for field, want := range cond.FieldEquals {
			actual, present := sub.Data[field]
			if !present || actual == nil {
				return false
			}
			if fmt.Sprintf("%v", actual) != want {
				return false
			}
		}
	}

	if cond.PreviousStepStatus != "" {
		prev, ok := execCtx[stepResultKey(step.Order-1)].(map[string]interface{})
		if !ok {
			return false
		}
		status, ok := prev["status"].(string)
		if !ok || status != cond.PreviousStepStatus {
			return false
		}
	}

	if cond.Expression != "" {
		pass, err := e.evalExpression(cond.Expression, execCtx)
		if err != nil {
			return true
		}
		if !pass {
			return false
		}
	}

	return true
}

// evalExpression compiles (or reuses) and runs a boolean expression against
// the execution context.
func (e *ConditionEvaluator) evalExpression(expression string, execCtx map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(execCtx))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, execCtx)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// stepResultKey is the context key under which a step's result is stored.
func stepResultKey(order int) string {
	return fmt.Sprintf("step%dResult", order)
}
