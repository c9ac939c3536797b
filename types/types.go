package types

// WorkflowDefinition is an ordered, named set of steps bound to a form.
// A definition is only executable when it is active and has at least one step.
type WorkflowDefinition struct {
	ID        uint64         `json:"id"`
	Name      string         `json:"name"`
	FormID    uint64         `json:"form_id"`
	Steps     []WorkflowStep `json:"steps"`
	Active    bool           `json:"active"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// WorkflowStep is one unit of work in a definition. Order is 1-based and
// contiguous within a definition. Type names a registered step handler;
// Config is an opaque payload interpreted only by that handler.
type WorkflowStep struct {
	Order     int                    `json:"order"`
	Type      string                 `json:"type"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Condition *StepCondition         `json:"condition,omitempty"`
}

// StepCondition gates a step. All set fields must pass (implicit AND); a
// step without a condition always runs.
type StepCondition struct {
	// FieldEquals compares submission data fields (string form) against
	// expected values.
	FieldEquals map[string]string `json:"field_equals,omitempty"`

	// PreviousStepStatus requires the immediately preceding step's recorded
	// status to match exactly.
	PreviousStepStatus string `json:"previous_step_status,omitempty"`

	// Expression is a boolean expr-lang expression evaluated against the
	// execution context.
	Expression string `json:"expression,omitempty"`
}

// WorkflowExecution is one run of a definition against one submission.
// StepResults maps the step order (as a decimal string) to that step's
// recorded result; EndTime is zero while the execution is still running.
type WorkflowExecution struct {
	ID           uint64                            `json:"id"`
	DefinitionID uint64                            `json:"definition_id"`
	SubmissionID uint64                            `json:"submission_id"`
	InitiatedBy  uint64                            `json:"initiated_by"`
	Status       string                            `json:"status"` // "RUNNING", "COMPLETED", "FAILED"
	StepResults  map[string]map[string]interface{} `json:"step_results"`
	StartTime    int64                             `json:"start_time"`
	EndTime      int64                             `json:"end_time,omitempty"`
	ErrorMessage string                            `json:"error_message,omitempty"`
}

// FormSubmission is the record the engine processes. It is owned outside the
// engine; the engine reads Data to build context and writes Status and
// ProcessedAt only when a run completes.
type FormSubmission struct {
	ID          uint64                 `json:"id"`
	FormID      uint64                 `json:"form_id"`
	SubmittedBy uint64                 `json:"submitted_by"`
	Data        map[string]interface{} `json:"data"`
	Status      string                 `json:"status"` // "SUBMITTED", "PROCESSED"
	ProcessedAt int64                  `json:"processed_at,omitempty"`
}
