package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
	"github.com/hiveforge/swarmcore/telemetry"
)

// scheduleState is the engine-private run state backing a public
// Schedule: its trigger machinery and single-flight firing queue.
type scheduleState struct {
	mu      sync.Mutex
	sched   Schedule
	history []FiringRecord

	fireCh chan struct{}
	stopCh chan struct{}

	timer  *time.Timer
	ticker *time.Ticker
	cronRt *cron.Cron
}

// Engine is the Scheduler: schedule/cancel/pause/resume/update/list
// /status/history over once/interval/cron triggers, each backed by its
// own single-flight firing queue (spec.md §4.7).
type Engine struct {
	mu        sync.RWMutex
	schedules map[string]*scheduleState

	runner WorkflowRunner
	logger core.Logger
	sink   events.Sink
	clock  func() time.Time
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

func WithEngineLogger(l core.Logger) EngineOption { return func(e *Engine) { e.logger = l } }
func WithEngineSink(s events.Sink) EngineOption    { return func(e *Engine) { e.sink = s } }
func WithEngineClock(c func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// NewEngine wires a Scheduler to the callback it invokes on each firing.
func NewEngine(runner WorkflowRunner, opts ...EngineOption) *Engine {
	e := &Engine{
		schedules: make(map[string]*scheduleState),
		runner:    runner,
		logger:    &core.NoOpLogger{},
		sink:      events.NoOpSink{},
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule registers a new trigger for workflowID. Invalid cron
// expressions fail synchronously, per spec.md §4.7.
func (e *Engine) Schedule(workflowID string, recurrence Recurrence, context_ map[string]interface{}) (string, error) {
	var nextRun *time.Time
	var cronSpec cron.Schedule
	var loc *time.Location

	switch recurrence.Kind {
	case RecurrenceOnce:
		t := recurrence.At
		nextRun = &t
	case RecurrenceInterval:
		if recurrence.Interval <= 0 {
			return "", fmt.Errorf("scheduler: %w: interval must be positive", core.ErrInvalidConfiguration)
		}
		t := e.clock().Add(recurrence.Interval)
		nextRun = &t
	case RecurrenceCron:
		var err error
		loc = time.UTC
		if recurrence.Timezone != "" {
			loc, err = time.LoadLocation(recurrence.Timezone)
			if err != nil {
				return "", fmt.Errorf("scheduler: invalid timezone %q: %w", recurrence.Timezone, core.ErrInvalidCron)
			}
		}
		cronSpec, err = cron.ParseStandard(recurrence.Cron)
		if err != nil {
			return "", fmt.Errorf("scheduler: invalid cron expression %q: %w", recurrence.Cron, core.ErrInvalidCron)
		}
		t := cronSpec.Next(e.clock().In(loc))
		nextRun = &t
	default:
		return "", fmt.Errorf("scheduler: %w: unknown recurrence kind %q", core.ErrInvalidConfiguration, recurrence.Kind)
	}

	id := uuid.NewString()
	state := &scheduleState{
		sched: Schedule{
			ID:         id,
			WorkflowID: workflowID,
			Recurrence: recurrence,
			Context:    context_,
			Status:     ScheduleScheduled,
			NextRun:    nextRun,
			CreatedAt:  e.clock(),
		},
		fireCh: make(chan struct{}),
		stopCh: make(chan struct{}),
	}

	e.mu.Lock()
	e.schedules[id] = state
	e.mu.Unlock()

	go e.worker(state)
	e.arm(state, loc, cronSpec)

	e.sink.Publish(context.Background(), "schedule:created", map[string]interface{}{"schedule_id": id, "workflow_id": workflowID})
	return id, nil
}

// arm starts the underlying timer/ticker/cron runner for state. Callers
// must hold no lock; arm acquires state.mu itself.
func (e *Engine) arm(state *scheduleState, loc *time.Location, cronSpec cron.Schedule) {
	state.mu.Lock()
	rec := state.sched.Recurrence
	state.mu.Unlock()

	switch rec.Kind {
	case RecurrenceOnce:
		delay := time.Until(rec.At)
		if delay < 0 {
			delay = 0
		}
		state.timer = time.AfterFunc(delay, func() { e.signal(state) })

	case RecurrenceInterval:
		state.ticker = time.NewTicker(rec.Interval)
		go func() {
			for {
				select {
				case <-state.ticker.C:
					e.signal(state)
				case <-state.stopCh:
					return
				}
			}
		}()

	case RecurrenceCron:
		state.cronRt = cron.New(cron.WithLocation(loc))
		state.cronRt.Schedule(cronSpec, cron.FuncJob(func() { e.signal(state) }))
		state.cronRt.Start()
	}
}

// signal sends a firing request. The channel is unbuffered, so a firing
// that arrives while the worker is still processing the previous one
// blocks until that firing completes — the "queued behind the previous"
// single-flight rule from spec.md §4.7.
func (e *Engine) signal(state *scheduleState) {
	state.mu.Lock()
	paused := state.sched.Status != ScheduleScheduled
	state.mu.Unlock()
	if paused {
		return
	}
	select {
	case state.fireCh <- struct{}{}:
	case <-state.stopCh:
	}
}

// worker is the single goroutine that actually executes firings for one
// schedule, guaranteeing at most one in-flight run at a time.
func (e *Engine) worker(state *scheduleState) {
	for {
		select {
		case <-state.fireCh:
			e.fire(state)
		case <-state.stopCh:
			return
		}
	}
}

func (e *Engine) fire(state *scheduleState) {
	state.mu.Lock()
	workflowID := state.sched.WorkflowID
	context_ := state.sched.Context
	scheduleID := state.sched.ID
	once := state.sched.Recurrence.Kind == RecurrenceOnce
	state.mu.Unlock()

	start := e.clock()
	e.sink.Publish(context.Background(), "schedule:fire", map[string]interface{}{"schedule_id": scheduleID, "workflow_id": workflowID})
	telemetry.Counter("scheduler_fire_total", "schedule_id", scheduleID, "workflow_id", workflowID)

	executionID, status, err := e.runner(workflowID, context_)

	record := FiringRecord{
		ScheduleID:  scheduleID,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Start:       start,
		End:         e.clock(),
		Status:      FiringSuccess,
	}
	if err != nil {
		record.Status = FiringFailed
		record.Err = err.Error()
	} else if status == "cancelled" {
		record.Status = FiringCancelled
	}
	telemetry.Histogram("scheduler_fire_duration_ms", float64(record.End.Sub(start).Milliseconds()), "schedule_id", scheduleID)
	if record.Status == FiringFailed {
		telemetry.RecordError("scheduler_fire", "runner_error", "schedule_id", scheduleID)
	} else {
		telemetry.RecordSuccess("scheduler_fire", "schedule_id", scheduleID)
	}

	state.mu.Lock()
	state.history = append(state.history, record)
	if once {
		state.sched.Status = ScheduleCompleted
		state.sched.NextRun = nil
	} else if cronSched, ok := cronNextRun(state); ok {
		state.sched.NextRun = &cronSched
	} else if state.sched.Recurrence.Kind == RecurrenceInterval {
		next := e.clock().Add(state.sched.Recurrence.Interval)
		state.sched.NextRun = &next
	}
	state.mu.Unlock()

	e.sink.Publish(context.Background(), "schedule:complete", map[string]interface{}{"schedule_id": scheduleID, "status": string(record.Status)})

	if once {
		e.stop(state)
	}
}

func cronNextRun(state *scheduleState) (time.Time, bool) {
	if state.cronRt == nil {
		return time.Time{}, false
	}
	entries := state.cronRt.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

func (e *Engine) stop(state *scheduleState) {
	if state.timer != nil {
		state.timer.Stop()
	}
	if state.ticker != nil {
		state.ticker.Stop()
	}
	if state.cronRt != nil {
		state.cronRt.Stop()
	}
	close(state.stopCh)
}

// Cancel stops future firings; an in-flight firing is not killed.
func (e *Engine) Cancel(scheduleID string) error {
	state, err := e.lookup(scheduleID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	state.sched.Status = ScheduleCancelled
	state.mu.Unlock()
	e.stop(state)
	e.sink.Publish(context.Background(), "schedule:cancelled", map[string]interface{}{"schedule_id": scheduleID})
	return nil
}

// Pause suspends future firings without discarding the schedule.
func (e *Engine) Pause(scheduleID string) error {
	state, err := e.lookup(scheduleID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.sched.Status != ScheduleScheduled {
		return fmt.Errorf("scheduler: %s: %w", scheduleID, core.ErrScheduleDisabled)
	}
	state.sched.Status = SchedulePaused
	return nil
}

// Resume lets a paused schedule fire again. Its trigger keeps running
// while paused; firings that came due during the pause were dropped and
// are not replayed.
func (e *Engine) Resume(scheduleID string) error {
	state, err := e.lookup(scheduleID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.sched.Status != SchedulePaused {
		return fmt.Errorf("scheduler: %s: %w", scheduleID, core.ErrScheduleDisabled)
	}
	state.sched.Status = ScheduleScheduled
	return nil
}

// Update replaces a schedule's recurrence and context, rearming its
// trigger from scratch.
func (e *Engine) Update(scheduleID string, recurrence Recurrence, context_ map[string]interface{}) error {
	workflowID := e.workflowIDFor(scheduleID)
	if workflowID == "" {
		return fmt.Errorf("scheduler: %s: %w", scheduleID, core.ErrScheduleNotFound)
	}
	if err := e.Cancel(scheduleID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.schedules, scheduleID)
	e.mu.Unlock()

	newID, err := e.Schedule(workflowID, recurrence, context_)
	if err != nil {
		return err
	}
	// Preserve the original id so callers don't need to track a new one.
	e.mu.Lock()
	state := e.schedules[newID]
	delete(e.schedules, newID)
	state.mu.Lock()
	state.sched.ID = scheduleID
	state.mu.Unlock()
	e.schedules[scheduleID] = state
	e.mu.Unlock()
	return nil
}

func (e *Engine) workflowIDFor(scheduleID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if state, ok := e.schedules[scheduleID]; ok {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.sched.WorkflowID
	}
	return ""
}

// List returns a snapshot of every registered schedule.
func (e *Engine) List() []Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Schedule, 0, len(e.schedules))
	for _, state := range e.schedules {
		state.mu.Lock()
		out = append(out, state.sched)
		state.mu.Unlock()
	}
	return out
}

// Status returns the current snapshot of one schedule.
func (e *Engine) Status(scheduleID string) (Schedule, error) {
	state, err := e.lookup(scheduleID)
	if err != nil {
		return Schedule{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.sched, nil
}

// History returns the firing records for one schedule, oldest first.
func (e *Engine) History(scheduleID string) ([]FiringRecord, error) {
	state, err := e.lookup(scheduleID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]FiringRecord, len(state.history))
	copy(out, state.history)
	return out, nil
}

func (e *Engine) lookup(scheduleID string) (*scheduleState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("scheduler: %s: %w", scheduleID, core.ErrScheduleNotFound)
	}
	return state, nil
}
