package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
)

const (
	maxQueueDepth        = 5
	maxTaskHistoryLength = 50
)

// taskHistoryEntry records one completed task for rolling-average
// bookkeeping.
type taskHistoryEntry struct {
	success      bool
	confidence   float64
	responseTime time.Duration
}

// Runtime is the base agent runtime: identity, capability set, queue,
// and performance bookkeeping, driven by a caller-supplied Behavior —
// the same "carry the mechanics, delegate the domain-specific work"
// split the teacher's discovery-registration agents use, generalized
// from HTTP capability handlers to the analyze/recommend/execute trio.
type Runtime struct {
	mu sync.Mutex

	ID           string
	Name         string
	Kind         Kind
	Capabilities []Capability
	State        State

	queue       []Task
	currentTask *Task
	history     []taskHistoryEntry
	performance Performance

	behavior Behavior
	logger   core.Logger
	sink     events.Sink
	clock    func() time.Time
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

func WithLogger(l core.Logger) Option { return func(r *Runtime) { r.logger = l } }
func WithSink(s events.Sink) Option   { return func(r *Runtime) { r.sink = s } }
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) { r.clock = clock }
}

// NewRuntime creates an idle Runtime for the given identity/kind/
// capabilities, delegating domain behavior to behavior.
func NewRuntime(id, name string, kind Kind, capabilities []Capability, behavior Behavior, opts ...Option) *Runtime {
	r := &Runtime{
		ID:           id,
		Name:         name,
		Kind:         kind,
		Capabilities: capabilities,
		State:        StateIdle,
		behavior:     behavior,
		logger:       &core.NoOpLogger{},
		sink:         events.NoOpSink{},
		clock:        time.Now,
	}
	r.sink.Publish(context.Background(), "agent:initialized", map[string]interface{}{"agent_id": id, "kind": string(kind)})
	return r
}

// RelevanceScore averages proficiency over capabilities whose normalized
// name tokens appear in topic or context, per spec.md §4.3.
func (r *Runtime) RelevanceScore(topic string, context_ map[string]interface{}) float64 {
	haystack := strings.ToLower(topic)
	for k, v := range context_ {
		haystack += " " + strings.ToLower(fmt.Sprintf("%s %v", k, v))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Capabilities) == 0 {
		return 0
	}

	var sum float64
	var matched int
	for _, cap := range r.Capabilities {
		token := strings.ToLower(cap.Name)
		if strings.Contains(haystack, token) {
			sum += cap.Proficiency
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return sum / float64(matched)
}

// AverageProficiency averages proficiency across all declared
// capabilities, independent of any topic match.
func (r *Runtime) AverageProficiency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Capabilities) == 0 {
		return 0
	}
	var sum float64
	for _, cap := range r.Capabilities {
		sum += cap.Proficiency
	}
	return sum / float64(len(r.Capabilities))
}

// Confidence implements
// confidence = 0.7·relevance + min(tasksCompleted/100, 0.2) + 0.1·successRate
// clipped to [0,1], per spec.md §4.3.
func (r *Runtime) Confidence(topic string, context_ map[string]interface{}) float64 {
	relevance := r.RelevanceScore(topic, context_)

	r.mu.Lock()
	tasksCompleted := r.performance.TasksCompleted
	successRate := r.performance.SuccessRate
	r.mu.Unlock()

	experienceBonus := float64(tasksCompleted) / 100.0
	if experienceBonus > 0.2 {
		experienceBonus = 0.2
	}

	c := 0.7*relevance + experienceBonus + 0.1*successRate
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// GenerateReport runs analyze then formulateRecommendation, the
// Queen-facing operation that turns a topic+context into a Report.
func (r *Runtime) GenerateReport(ctx context.Context, topic string, context_ map[string]interface{}) (Report, error) {
	r.setState(StateActive)
	defer r.setStateIfNotBusy(StateIdle)

	analysis, err := r.behavior.Analyze(ctx, topic, context_)
	if err != nil {
		r.setState(StateError)
		r.sink.Publish(ctx, "agent:error", map[string]interface{}{"agent_id": r.ID, "error": err.Error()})
		return Report{}, fmt.Errorf("agent %s: analyze: %w", r.ID, err)
	}

	report, err := r.behavior.FormulateRecommendation(ctx, topic, context_, analysis)
	if err != nil {
		r.setState(StateError)
		r.sink.Publish(ctx, "agent:error", map[string]interface{}{"agent_id": r.ID, "error": err.Error()})
		return Report{}, fmt.Errorf("agent %s: formulateRecommendation: %w", r.ID, err)
	}
	report.AgentID = r.ID
	if report.Confidence == 0 {
		report.Confidence = r.Confidence(topic, context_)
	}

	r.sink.Publish(ctx, "agent:report-generated", map[string]interface{}{"agent_id": r.ID, "confidence": report.Confidence})
	return report, nil
}

// Enqueue inserts a task into the bounded priority queue: "critical"
// priority prepends, else appends (spec.md §4.3).
func (r *Runtime) Enqueue(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) >= maxQueueDepth {
		return fmt.Errorf("agent %s: %w", r.ID, core.ErrAgentBusy)
	}

	if task.Priority == "critical" {
		r.queue = append([]Task{task}, r.queue...)
	} else {
		r.queue = append(r.queue, task)
	}
	return nil
}

// QueueDepth returns the current number of queued (not current) tasks.
func (r *Runtime) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// ProcessNext dequeues and executes the next task, maintaining the
// exactly-one-current-task invariant (state=busy ⇔ current task exists).
func (r *Runtime) ProcessNext(ctx context.Context) (TaskResult, bool, error) {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return TaskResult{}, false, nil
	}
	task := r.queue[0]
	r.queue = r.queue[1:]
	r.currentTask = &task
	r.State = StateBusy
	r.mu.Unlock()

	r.sink.Publish(ctx, "agent:processing-task", map[string]interface{}{"agent_id": r.ID, "task_id": task.ID})
	start := r.clock()
	result, err := r.behavior.ExecuteTask(ctx, task)
	elapsed := r.clock().Sub(start)

	r.mu.Lock()
	r.currentTask = nil
	if err != nil || !result.Success {
		r.State = StateError
	} else {
		r.State = StateIdle
	}
	r.recordCompletion(result.Success, result.Confidence, elapsed, result.Accuracy, task)
	r.mu.Unlock()

	if err != nil {
		r.sink.Publish(ctx, "agent:error", map[string]interface{}{"agent_id": r.ID, "task_id": task.ID, "error": err.Error()})
		return result, true, fmt.Errorf("agent %s: execute task %s: %w", r.ID, task.ID, err)
	}
	r.sink.Publish(ctx, "agent:learning", map[string]interface{}{"agent_id": r.ID, "task_id": task.ID, "success": result.Success})
	return result, true, nil
}

// recordCompletion appends to the bounded task history and recomputes
// rolling averages and per-capability proficiency. Caller holds r.mu.
func (r *Runtime) recordCompletion(success bool, confidence float64, responseTime time.Duration, accuracy float64, task Task) {
	r.history = append(r.history, taskHistoryEntry{success: success, confidence: confidence, responseTime: responseTime})
	if len(r.history) > maxTaskHistoryLength {
		r.history = r.history[len(r.history)-maxTaskHistoryLength:]
	}

	r.performance.TasksTotal++
	if success {
		r.performance.TasksCompleted++
	}

	var successes int
	var totalConfidence float64
	var totalResponse time.Duration
	for _, h := range r.history {
		if h.success {
			successes++
		}
		totalConfidence += h.confidence
		totalResponse += h.responseTime
	}
	n := len(r.history)
	r.performance.SuccessRate = float64(successes) / float64(n)
	r.performance.MeanConfidence = totalConfidence / float64(n)
	r.performance.MeanResponseTime = totalResponse / time.Duration(n)

	if accuracy > 0 {
		for i := range r.Capabilities {
			token := strings.ToLower(r.Capabilities[i].Name)
			if strings.Contains(strings.ToLower(task.Topic), token) {
				r.Capabilities[i].Experience++
				// blend existing proficiency with observed accuracy, weighted
				// toward accumulated experience so a single outlier task
				// cannot swing a well-established capability.
				weight := 1.0 / float64(r.Capabilities[i].Experience+1)
				r.Capabilities[i].Proficiency = r.Capabilities[i].Proficiency*(1-weight) + accuracy*weight
			}
		}
	}
}

// ApplyFeedback adjusts the rolling success rate from an external
// feedback signal (spec.md §4.3's "feedback messages adjust success
// rate").
func (r *Runtime) ApplyFeedback(ctx context.Context, positive bool) {
	r.mu.Lock()
	if positive {
		r.performance.SuccessRate = r.performance.SuccessRate*0.9 + 0.1
	} else {
		r.performance.SuccessRate = r.performance.SuccessRate * 0.9
	}
	r.mu.Unlock()
	r.sink.Publish(ctx, "agent:feedback-processed", map[string]interface{}{"agent_id": r.ID, "positive": positive})
}

// AcceptCollaboration reports whether this agent can take on a
// collaboration request: state != busy and queue < 5 (spec.md §4.3).
func (r *Runtime) AcceptCollaboration(ctx context.Context) bool {
	r.mu.Lock()
	accept := r.State != StateBusy && len(r.queue) < maxQueueDepth
	r.mu.Unlock()

	r.sink.Publish(ctx, "agent:collaboration-requested", map[string]interface{}{"agent_id": r.ID})
	if accept {
		r.sink.Publish(ctx, "agent:collaboration-response", map[string]interface{}{"agent_id": r.ID, "accepted": true})
	} else {
		r.sink.Publish(ctx, "agent:collaboration-response", map[string]interface{}{"agent_id": r.ID, "accepted": false})
	}
	return accept
}

// Snapshot returns a read-only copy of the current performance record.
func (r *Runtime) Snapshot() Performance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.performance
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.State = s
	r.mu.Unlock()
}

// setStateIfNotBusy avoids clobbering a busy state set concurrently by
// ProcessNext while GenerateReport's defer is unwinding.
func (r *Runtime) setStateIfNotBusy(s State) {
	r.mu.Lock()
	if r.State != StateBusy && r.State != StateError {
		r.State = s
	}
	r.mu.Unlock()
}
