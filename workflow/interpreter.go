package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
)

// runState is the control-plane half of a running execution: the
// public Execution is the data snapshot callers read, runState is the
// goroutine-private handle Pause/Resume/Cancel signal.
type runState struct {
	exec *Execution

	mu        sync.Mutex
	paused    bool
	cancelled bool
	resumeCh  chan struct{}

	done chan struct{}
}

// Interpreter runs Definitions declared-order-with-dependency-skip, per
// spec.md §4.6, grounded on orchestration/workflow_engine.go's
// WorkflowEngine but trading its concurrent ready-queue scheduler for
// the declared-order model this system specifies.
type Interpreter struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	running     map[string]string // workflowID -> executionID, Busy guard
	states      map[string]*runState

	actions     map[string]ActionFunc
	subWorkflow SubWorkflowRunner

	logger core.Logger
	sink   events.Sink
	clock  func() time.Time
}

// InterpreterOption configures an Interpreter at construction.
type InterpreterOption func(*Interpreter)

func WithLogger(l core.Logger) InterpreterOption { return func(i *Interpreter) { i.logger = l } }
func WithSink(s events.Sink) InterpreterOption    { return func(i *Interpreter) { i.sink = s } }
func WithClock(c func() time.Time) InterpreterOption {
	return func(i *Interpreter) { i.clock = c }
}
func WithActionFunc(name string, fn ActionFunc) InterpreterOption {
	return func(i *Interpreter) { i.actions[name] = fn }
}
func WithSubWorkflowRunner(run SubWorkflowRunner) InterpreterOption {
	return func(i *Interpreter) { i.subWorkflow = run }
}

// NewInterpreter constructs an Interpreter with an empty definition set.
func NewInterpreter(opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		definitions: make(map[string]*Definition),
		running:     make(map[string]string),
		states:      make(map[string]*runState),
		actions:     make(map[string]ActionFunc),
		logger:      &core.NoOpLogger{},
		sink:        events.NoOpSink{},
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.subWorkflow == nil {
		i.subWorkflow = i.runSubWorkflow
	}
	return i
}

// RegisterDefinition validates and stores a Definition under its id.
func (i *Interpreter) RegisterDefinition(def *Definition) error {
	result := Validate(def)
	if !result.Valid {
		return fmt.Errorf("workflow: %s: invalid definition: %v", def.ID, result.Errors)
	}
	i.mu.Lock()
	i.definitions[def.ID] = def
	i.mu.Unlock()
	return nil
}

func (i *Interpreter) definition(workflowID string) (*Definition, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	def, ok := i.definitions[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow: %s: %w", workflowID, core.ErrWorkflowNotFound)
	}
	return def, nil
}

// Execute runs workflowID synchronously to a terminal state.
func (i *Interpreter) Execute(ctx context.Context, workflowID string, inputs map[string]interface{}) (*Execution, error) {
	executionID, done, err := i.start(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}
	<-done
	return i.Status(executionID)
}

// start launches the execution goroutine and returns immediately with
// the new execution id and its completion channel.
func (i *Interpreter) start(ctx context.Context, workflowID string, inputs map[string]interface{}) (string, <-chan struct{}, error) {
	def, err := i.definition(workflowID)
	if err != nil {
		return "", nil, err
	}

	i.mu.Lock()
	if _, busy := i.running[workflowID]; busy {
		i.mu.Unlock()
		return "", nil, fmt.Errorf("workflow: %s: %w", workflowID, core.ErrWorkflowBusy)
	}
	executionID := uuid.NewString()
	i.running[workflowID] = executionID
	i.mu.Unlock()

	ctxVars := make(map[string]interface{}, len(def.Variables)+len(inputs))
	for k, v := range def.Variables {
		ctxVars[k] = v
	}
	for k, v := range inputs {
		ctxVars[k] = v
	}

	exec := &Execution{
		ID:         executionID,
		WorkflowID: workflowID,
		Status:     ExecutionRunning,
		StepStatus: make(map[string]StepStatus, len(def.Steps)),
		Context:    ctxVars,
		StartTime:  i.clock(),
	}
	state := &runState{exec: exec, resumeCh: make(chan struct{}), done: make(chan struct{})}

	i.mu.Lock()
	i.states[executionID] = state
	i.mu.Unlock()

	i.sink.Publish(ctx, "workflow:created", map[string]interface{}{"execution_id": executionID, "workflow_id": workflowID})
	i.sink.Publish(ctx, "workflow:start", map[string]interface{}{"execution_id": executionID})

	go i.run(ctx, state, def)

	return executionID, state.done, nil
}

func (i *Interpreter) run(ctx context.Context, state *runState, def *Definition) {
	exec := state.exec
	defer func() {
		i.mu.Lock()
		delete(i.running, exec.WorkflowID)
		i.mu.Unlock()
		close(state.done)
	}()

	var failure error
	for _, step := range def.Steps {
		if state.isCancelled() {
			exec.Status = ExecutionCancelled
			i.sink.Publish(ctx, "workflow:cancelled", map[string]interface{}{"execution_id": exec.ID})
			recordExecutionMetrics(exec.WorkflowID, ExecutionCancelled)
			return
		}
		state.waitIfPaused(ctx)

		if !i.dependenciesSatisfied(exec, step) {
			exec.StepStatus[step.ID] = StepSkipped
			exec.History = append(exec.History, HistoryEntry{StepID: step.ID, Status: StepSkipped, Timestamp: i.clock()})
			i.sink.Publish(ctx, "step:skipped", map[string]interface{}{"execution_id": exec.ID, "step_id": step.ID})
			continue
		}

		exec.CurrentStep = step.ID
		result, err := i.runStepLifecycle(ctx, exec, step)
		if err != nil {
			failure = err
			break
		}
		_ = result
	}

	if failure == nil && state.isCancelled() {
		exec.Status = ExecutionCancelled
		i.sink.Publish(ctx, "workflow:cancelled", map[string]interface{}{"execution_id": exec.ID})
		recordExecutionMetrics(exec.WorkflowID, ExecutionCancelled)
		return
	}

	if failure != nil {
		exec.Status = ExecutionFailed
		exec.Err = failure.Error()
		i.sink.Publish(ctx, "workflow:error", map[string]interface{}{"execution_id": exec.ID, "error": failure.Error()})
		recordExecutionMetrics(exec.WorkflowID, ExecutionFailed)
		if def.ErrorHandling == "compensate" {
			i.runCompensationPass(ctx, exec, def)
		}
		return
	}

	exec.Status = ExecutionCompleted
	end := i.clock()
	exec.EndTime = &end
	i.sink.Publish(ctx, "workflow:complete", map[string]interface{}{"execution_id": exec.ID})
	recordExecutionMetrics(exec.WorkflowID, ExecutionCompleted)
}

func (i *Interpreter) dependenciesSatisfied(exec *Execution, step Step) bool {
	for _, dep := range step.DependsOn {
		if exec.StepStatus[dep] != StepCompleted {
			return false
		}
	}
	return true
}

// runStepLifecycle executes one top-level step, applying timeout and
// on-error policy, per spec.md §4.6.
func (i *Interpreter) runStepLifecycle(ctx context.Context, exec *Execution, step Step) (interface{}, error) {
	exec.StepStatus[step.ID] = StepRunning
	start := i.clock()
	i.sink.Publish(ctx, "step:start", map[string]interface{}{"execution_id": exec.ID, "step_id": step.ID})

	maxAttempts := 1
	if step.OnError == OnErrorRetry {
		maxAttempts = step.MaxRetries
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
	}

	var result interface{}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = i.runStepWithTimeout(ctx, exec, step)
		if err == nil {
			break
		}
		if attempt < maxAttempts {
			i.sink.Publish(ctx, "step:retry", map[string]interface{}{"execution_id": exec.ID, "step_id": step.ID, "attempt": attempt, "error": err.Error()})
			delay := step.RetryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = maxAttempts
			}
		}
	}

	duration := i.clock().Sub(start)

	if err == nil {
		exec.StepStatus[step.ID] = StepCompleted
		exec.Context[fmt.Sprintf("steps.%s.output", step.ID)] = result
		exec.History = append(exec.History, HistoryEntry{StepID: step.ID, Status: StepCompleted, Timestamp: i.clock(), Duration: duration, Result: result})
		i.sink.Publish(ctx, "step:complete", map[string]interface{}{"execution_id": exec.ID, "step_id": step.ID})
		recordStepMetrics(step, StepCompleted, duration.Seconds())
		return result, nil
	}

	exec.StepStatus[step.ID] = StepFailed
	exec.History = append(exec.History, HistoryEntry{StepID: step.ID, Status: StepFailed, Timestamp: i.clock(), Duration: duration, Err: err.Error()})
	i.sink.Publish(ctx, "step:error", map[string]interface{}{"execution_id": exec.ID, "step_id": step.ID, "error": err.Error()})
	recordStepMetrics(step, StepFailed, duration.Seconds())

	switch step.OnError {
	case OnErrorContinue:
		exec.Context[step.ID] = map[string]interface{}{"error": err.Error()}
		return nil, nil
	case OnErrorCompensate:
		i.runStepCompensation(ctx, exec, step)
		return nil, fmt.Errorf("workflow: step %q failed: %w", step.ID, err)
	default: // OnErrorStop, OnErrorRetry-exhausted
		return nil, fmt.Errorf("workflow: step %q failed: %w", step.ID, err)
	}
}

// runStepWithTimeout races step execution against a timer, per the
// "timeout-by-Promise.race" idiom: on timer expiry the step's own
// goroutine is abandoned, never cancelled, and a timeout error is
// surfaced to the on-error policy above.
func (i *Interpreter) runStepWithTimeout(ctx context.Context, exec *Execution, step Step) (interface{}, error) {
	if step.Timeout <= 0 {
		return i.runStep(ctx, exec, step)
	}

	type outcome struct {
		result interface{}
		err    error
	}
	out := make(chan outcome, 1)
	go func() {
		r, err := i.runStep(ctx, exec, step)
		out <- outcome{result: r, err: err}
	}()

	timer := time.NewTimer(step.Timeout)
	defer timer.Stop()
	select {
	case o := <-out:
		return o.result, o.err
	case <-timer.C:
		return nil, fmt.Errorf("workflow: step %q: %w", step.ID, core.ErrStepTimedOut)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runStep dispatches a step to its typed executor. It satisfies
// stepRunner so the parallel/sequential/loop executors can recurse into
// sub-steps without importing the Interpreter type.
func (i *Interpreter) runStep(ctx context.Context, exec *Execution, step Step) (interface{}, error) {
	switch step.Kind {
	case StepAction:
		return executeAction(ctx, step, exec, i.actions)
	case StepCondition:
		return executeCondition(step, exec)
	case StepParallel:
		return executeParallel(ctx, step, exec, i)
	case StepSequential:
		return executeSequential(ctx, step, exec, i)
	case StepLoop:
		return executeLoop(ctx, step, exec, i)
	case StepWait:
		return nil, executeWait(ctx, step)
	case StepSubWorkflow:
		return executeSubWorkflow(ctx, step, exec, i.subWorkflow)
	default:
		return nil, fmt.Errorf("workflow: %w: %q", core.ErrUnknownStepKind, step.Kind)
	}
}

func (i *Interpreter) runSubWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}) (map[string]interface{}, error) {
	exec, err := i.Execute(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}
	if exec.Status != ExecutionCompleted {
		return nil, fmt.Errorf("workflow: sub-workflow %q ended in status %s", workflowID, exec.Status)
	}
	return exec.Context, nil
}

// runStepCompensation invokes a single step's own compensation
// reference immediately after it fails with onError=compensate.
func (i *Interpreter) runStepCompensation(ctx context.Context, exec *Execution, step Step) {
	if step.Compensate == "" {
		return
	}
	def, err := i.definition(exec.WorkflowID)
	if err != nil {
		return
	}
	compStep, ok := findStep(def, step.Compensate)
	if !ok {
		return
	}
	i.sink.Publish(ctx, "workflow:compensation-step", map[string]interface{}{"execution_id": exec.ID, "step_id": step.Compensate, "for_step": step.ID})
	if _, err := i.runStep(ctx, exec, compStep); err != nil {
		i.logger.Warn("workflow: step compensation failed", map[string]interface{}{"step_id": step.Compensate, "error": err.Error()})
	}
}

// runCompensationPass iterates completed steps in reverse declaration
// order, invoking each one's compensation reference (spec.md §4.6).
// Compensation failures are recorded but do not reabort the workflow.
func (i *Interpreter) runCompensationPass(ctx context.Context, exec *Execution, def *Definition) {
	i.sink.Publish(ctx, "workflow:compensation-start", map[string]interface{}{"execution_id": exec.ID})
	for idx := len(def.Steps) - 1; idx >= 0; idx-- {
		step := def.Steps[idx]
		if exec.StepStatus[step.ID] != StepCompleted || step.Compensate == "" {
			continue
		}
		compStep, ok := findStep(def, step.Compensate)
		if !ok {
			continue
		}
		i.sink.Publish(ctx, "workflow:compensation-step", map[string]interface{}{"execution_id": exec.ID, "step_id": compStep.ID})
		if _, err := i.runStep(ctx, exec, compStep); err != nil {
			i.sink.Publish(ctx, "workflow:compensation-error", map[string]interface{}{"execution_id": exec.ID, "step_id": compStep.ID, "error": err.Error()})
		}
	}
	i.sink.Publish(ctx, "workflow:compensation-complete", map[string]interface{}{"execution_id": exec.ID})
}

func findStep(def *Definition, id string) (Step, bool) {
	for _, s := range def.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Pause stops the launch of further steps; the currently executing step
// runs to completion.
func (i *Interpreter) Pause(executionID string) error {
	state, err := i.state(executionID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.exec.Status != ExecutionRunning {
		return fmt.Errorf("workflow: %s: %w", executionID, core.ErrExecutionNotPausable)
	}
	state.paused = true
	state.exec.Status = ExecutionPaused
	i.sink.Publish(context.Background(), "workflow:pause", map[string]interface{}{"execution_id": executionID})
	return nil
}

// Resume continues a paused execution from its recorded current step.
func (i *Interpreter) Resume(executionID string) error {
	state, err := i.state(executionID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.paused {
		return fmt.Errorf("workflow: %s: %w", executionID, core.ErrExecutionNotResumable)
	}
	state.paused = false
	state.exec.Status = ExecutionRunning
	close(state.resumeCh)
	state.resumeCh = make(chan struct{})
	i.sink.Publish(context.Background(), "workflow:resume", map[string]interface{}{"execution_id": executionID})
	return nil
}

// Cancel marks the execution for cancellation; any further steps are
// dropped, but the in-flight step is advisory-only and finishes on its
// own, after which the status becomes cancelled.
func (i *Interpreter) Cancel(executionID string) error {
	state, err := i.state(executionID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	wasPaused := state.paused
	state.cancelled = true
	state.paused = false
	state.mu.Unlock()
	if wasPaused {
		close(state.resumeCh)
	}
	return nil
}

// Status returns a copy of the execution's current data snapshot.
func (i *Interpreter) Status(executionID string) (*Execution, error) {
	state, err := i.state(executionID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	cp := *state.exec
	return &cp, nil
}

func (i *Interpreter) state(executionID string) (*runState, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	state, ok := i.states[executionID]
	if !ok {
		return nil, fmt.Errorf("workflow: %s: %w", executionID, core.ErrExecutionNotFound)
	}
	return state, nil
}

func (s *runState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *runState) waitIfPaused(ctx context.Context) {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	ch := s.resumeCh
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}
