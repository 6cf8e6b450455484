package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingRunner(n *int32) WorkflowRunner {
	return func(workflowID string, inputs map[string]interface{}) (string, string, error) {
		atomic.AddInt32(n, 1)
		return "exec-" + workflowID, "completed", nil
	}
}

func TestOnceScheduleFiresAndCompletes(t *testing.T) {
	var fires int32
	e := NewEngine(countingRunner(&fires))

	id, err := e.Schedule("wf-1", Recurrence{Kind: RecurrenceOnce, At: time.Now().Add(10 * time.Millisecond)}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fires) == 1 }, time.Second, 5*time.Millisecond)

	sched, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCompleted, sched.Status)

	history, err := e.History(id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, FiringSuccess, history[0].Status)
}

func TestOncePastTimestampFiresImmediately(t *testing.T) {
	var fires int32
	e := NewEngine(countingRunner(&fires))

	_, err := e.Schedule("wf-past", Recurrence{Kind: RecurrenceOnce, At: time.Now().Add(-time.Hour)}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fires) == 1 }, time.Second, 5*time.Millisecond)
}

func TestIntervalScheduleFiresRepeatedly(t *testing.T) {
	var fires int32
	e := NewEngine(countingRunner(&fires))

	id, err := e.Schedule("wf-interval", Recurrence{Kind: RecurrenceInterval, Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fires) >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(id))
	sched, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCancelled, sched.Status)
}

func TestCronScheduleRejectsInvalidExpression(t *testing.T) {
	e := NewEngine(countingRunner(new(int32)))
	_, err := e.Schedule("wf-cron", Recurrence{Kind: RecurrenceCron, Cron: "not a cron expression"}, nil)
	assert.Error(t, err)
}

func TestCronScheduleComputesNextRun(t *testing.T) {
	var fires int32
	e := NewEngine(countingRunner(&fires))

	_, err := e.Schedule("wf-cron-ok", Recurrence{Kind: RecurrenceCron, Cron: "* * * * *"}, nil)
	require.NoError(t, err)
	// A standard 5-field cron's finest granularity is a minute; just
	// assert the schedule was accepted and has a computed NextRun.
	schedules := e.List()
	require.Len(t, schedules, 1)
	assert.NotNil(t, schedules[0].NextRun)
}

func TestPauseSuppressesFiring(t *testing.T) {
	var fires int32
	e := NewEngine(countingRunner(&fires))

	id, err := e.Schedule("wf-pause", Recurrence{Kind: RecurrenceInterval, Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Pause(id))

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&fires), int32(1))

	require.NoError(t, e.Resume(id))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fires) >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(id))
}

func TestOverlappingFiringsQueueBehindPrevious(t *testing.T) {
	release := make(chan struct{})
	var started, finished int32
	runner := func(workflowID string, inputs map[string]interface{}) (string, string, error) {
		atomic.AddInt32(&started, 1)
		<-release
		atomic.AddInt32(&finished, 1)
		return "exec", "completed", nil
	}
	e := NewEngine(runner)

	id, err := e.Schedule("wf-slow", Recurrence{Kind: RecurrenceInterval, Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond) // additional ticks queue up behind the blocked firing
	assert.EqualValues(t, 1, atomic.LoadInt32(&started))
	assert.EqualValues(t, 0, atomic.LoadInt32(&finished))

	close(release)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&finished) >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, e.Cancel(id))
}

func TestUpdatePreservesScheduleID(t *testing.T) {
	e := NewEngine(countingRunner(new(int32)))
	id, err := e.Schedule("wf-update", Recurrence{Kind: RecurrenceInterval, Interval: time.Hour}, nil)
	require.NoError(t, err)

	err = e.Update(id, Recurrence{Kind: RecurrenceInterval, Interval: 2 * time.Hour}, map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	sched, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "wf-update", sched.WorkflowID)
	assert.Equal(t, 2*time.Hour, sched.Recurrence.Interval)
}

func TestCancelUnknownScheduleFails(t *testing.T) {
	e := NewEngine(countingRunner(new(int32)))
	assert.Error(t, e.Cancel("does-not-exist"))
}
