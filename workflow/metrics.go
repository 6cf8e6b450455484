package workflow

import "github.com/hiveforge/swarmcore/telemetry"

// recordStepMetrics emits the step-execution counters/duration
// histogram the teacher's own workflow engine publishes per step,
// grounded on telemetry's global-function API (Counter/Histogram use
// process-wide registration, not an injected instance).
func recordStepMetrics(step Step, status StepStatus, seconds float64) {
	telemetry.Counter("workflow_step_total", "kind", string(step.Kind), "status", string(status))
	telemetry.Histogram("workflow_step_duration_seconds", seconds, "kind", string(step.Kind))
	if status == StepFailed {
		telemetry.RecordError("workflow_step", string(step.Kind))
	} else if status == StepCompleted {
		telemetry.RecordSuccess("workflow_step")
	}
}

// recordExecutionMetrics emits the terminal workflow-level counter.
func recordExecutionMetrics(workflowID string, status ExecutionStatus) {
	telemetry.Counter("workflow_execution_total", "workflow_id", workflowID, "status", string(status))
}
