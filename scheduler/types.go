// Package scheduler drives workflow executions on cron, interval, and
// one-shot timers, with single-flight-per-schedule queuing, grounded on
// the teacher's timer-driven heartbeat idiom in core/redis_discovery.go
// and the pack's robfig/cron/v3 usage.
package scheduler

import "time"

// RecurrenceKind is the closed set of trigger types.
type RecurrenceKind string

const (
	RecurrenceOnce     RecurrenceKind = "once"
	RecurrenceInterval RecurrenceKind = "interval"
	RecurrenceCron     RecurrenceKind = "cron"
)

// Recurrence configures when a schedule fires.
type Recurrence struct {
	Kind     RecurrenceKind
	At       time.Time     // Kind == once
	Interval time.Duration // Kind == interval
	Cron     string        // Kind == cron
	Timezone string        // Kind == cron; IANA name, defaults to UTC
}

// ScheduleStatus is a Schedule's lifecycle state.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Schedule is one registered recurrence targeting a workflow.
type Schedule struct {
	ID         string
	WorkflowID string
	Recurrence Recurrence
	Context    map[string]interface{}
	Status     ScheduleStatus
	NextRun    *time.Time
	CreatedAt  time.Time
}

// FiringStatus is the terminal outcome of one schedule firing.
type FiringStatus string

const (
	FiringSuccess   FiringStatus = "success"
	FiringFailed    FiringStatus = "failed"
	FiringCancelled FiringStatus = "cancelled"
)

// FiringRecord is one history entry produced by a schedule firing,
// per spec.md §4.7.
type FiringRecord struct {
	ScheduleID  string
	WorkflowID  string
	ExecutionID string
	Start       time.Time
	End         time.Time
	Status      FiringStatus
	Err         string
}

// WorkflowRunner is the callback the Scheduler invokes on each firing;
// Interpreter.Execute satisfies this signature.
type WorkflowRunner func(workflowID string, inputs map[string]interface{}) (executionID string, status string, err error)
