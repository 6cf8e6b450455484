// Package workflow implements the step-graph interpreter: step
// validation and dependency ordering, per-step lifecycle with
// timeout/retry/compensation, pause/resume/cancel, and the typed step
// executors (action, condition, parallel, sequential, loop, wait,
// sub-workflow). Grounded on orchestration/workflow_engine.go's
// definition/execution model and orchestration/workflow_dag.go's
// cycle-detection shape, adapted from a concurrent ready-queue
// scheduler to the declared-order-with-dependency-skip model this
// system requires.
package workflow

import "time"

// StepKind is the closed set of step executor types.
type StepKind string

const (
	StepAction      StepKind = "action"
	StepCondition   StepKind = "condition"
	StepParallel    StepKind = "parallel"
	StepSequential  StepKind = "sequential"
	StepLoop        StepKind = "loop"
	StepWait        StepKind = "wait"
	StepSubWorkflow StepKind = "sub-workflow"
)

// OnErrorPolicy governs how the interpreter reacts to a failed step.
type OnErrorPolicy string

const (
	OnErrorStop       OnErrorPolicy = "stop"
	OnErrorContinue   OnErrorPolicy = "continue"
	OnErrorRetry      OnErrorPolicy = "retry"
	OnErrorCompensate OnErrorPolicy = "compensate"
)

// ActionConfig configures a StepAction step: either a built-in name
// (log, setVariable, httpRequest) or a caller-registered function name,
// both resolved through the interpreter's action registry.
type ActionConfig struct {
	Function string                 `yaml:"function" json:"function"`
	Args     map[string]interface{} `yaml:"args" json:"args"`
}

// ConditionConfig configures a StepCondition step.
type ConditionConfig struct {
	Expression string `yaml:"expression" json:"expression"`
	TruePath   string `yaml:"truePath" json:"truePath"`
	FalsePath  string `yaml:"falsePath" json:"falsePath"`
}

// ParallelConfig configures a StepParallel step.
type ParallelConfig struct {
	Steps          []Step `yaml:"steps" json:"steps"`
	MaxConcurrency int    `yaml:"maxConcurrency" json:"maxConcurrency"` // 0 = unbounded
}

// SequentialConfig configures a StepSequential step.
type SequentialConfig struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// LoopConfig configures a StepLoop step.
type LoopConfig struct {
	Collection string `yaml:"collection" json:"collection"` // dotted path into context
	ItemVar    string `yaml:"itemVar" json:"itemVar"`
	IndexVar   string `yaml:"indexVar" json:"indexVar"`
	Body       *Step  `yaml:"body" json:"body"`
}

// WaitConfig configures a StepWait step. Exactly one of Duration or
// Until should be set.
type WaitConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Until    *time.Time    `yaml:"until" json:"until"`
}

// SubWorkflowConfig configures a StepSubWorkflow step.
type SubWorkflowConfig struct {
	WorkflowID string            `yaml:"workflowId" json:"workflowId"`
	InputMap   map[string]string `yaml:"inputMap" json:"inputMap"`   // dest ctx key -> dotted source path
	OutputMap  map[string]string `yaml:"outputMap" json:"outputMap"` // dest ctx key -> dotted sub-workflow output path
}

// Step is one node in a workflow's step graph.
type Step struct {
	ID         string        `yaml:"id" json:"id"`
	Name       string        `yaml:"name" json:"name"`
	Kind       StepKind      `yaml:"kind" json:"kind"`
	DependsOn  []string      `yaml:"dependsOn" json:"dependsOn"`
	MaxRetries int           `yaml:"maxRetries" json:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay" json:"retryDelay"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	OnError    OnErrorPolicy `yaml:"onError" json:"onError"`
	Compensate string        `yaml:"compensate" json:"compensate"` // referenced step id

	Action      *ActionConfig      `yaml:"action,omitempty" json:"action,omitempty"`
	Condition   *ConditionConfig   `yaml:"condition,omitempty" json:"condition,omitempty"`
	Parallel    *ParallelConfig    `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Sequential  *SequentialConfig  `yaml:"sequential,omitempty" json:"sequential,omitempty"`
	Loop        *LoopConfig        `yaml:"loop,omitempty" json:"loop,omitempty"`
	Wait        *WaitConfig        `yaml:"wait,omitempty" json:"wait,omitempty"`
	SubWorkflow *SubWorkflowConfig `yaml:"subWorkflow,omitempty" json:"subWorkflow,omitempty"`
}

// Definition is a complete workflow: steps plus a variable bag and
// top-level error handling.
type Definition struct {
	ID          string                 `yaml:"id" json:"id"`
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	Steps       []Step                 `yaml:"steps" json:"steps"`
	Variables   map[string]interface{} `yaml:"variables" json:"variables"`
	ErrorHandling string               `yaml:"errorHandling" json:"errorHandling"` // "", "compensate"
}

// ValidationResult is the synchronous, pre-run check of a Definition.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ExecutionStatus is a WorkflowExecution's lifecycle state.
type ExecutionStatus string

const (
	ExecutionIdle      ExecutionStatus = "idle"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepStatus is a single step's lifecycle state within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// HistoryEntry is one append-only record of a step's terminal outcome.
type HistoryEntry struct {
	StepID    string
	Status    StepStatus
	Timestamp time.Time
	Duration  time.Duration
	Result    interface{}
	Err       string
}

// Execution is the mutable run-state of one workflow invocation.
type Execution struct {
	ID         string
	WorkflowID string
	Status     ExecutionStatus
	CurrentStep string
	History    []HistoryEntry
	StepStatus map[string]StepStatus
	Context    map[string]interface{}
	StartTime  time.Time
	EndTime    *time.Time
	Err        string
}
