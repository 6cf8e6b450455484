// Package agent implements the per-worker lifecycle: capability
// registration and relevance scoring, report generation via a
// three-method behavior interface, a bounded priority task queue, and
// learning from completed-task/feedback signals. Generalized from the
// teacher's HTTP-capability registration pattern to an
// analyze/recommend/execute behavior set.
package agent

import (
	"context"
	"time"
)

// Kind is the closed set of agent specializations spec.md §3 names.
type Kind string

const (
	KindCRM       Kind = "crm"
	KindMarketing Kind = "marketing"
	KindAnalytics Kind = "analytics"
	KindProcess   Kind = "process"
)

// State is an agent's current lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateBusy    State = "busy"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Capability is a named proficiency an agent declares.
type Capability struct {
	Name        string
	Proficiency float64 // [0,1]
	Experience  int      // accumulated experience counter
}

// Task is one unit of work an agent executes.
type Task struct {
	ID       string
	Priority string // "critical" prepends the queue, else appends
	Topic    string
	Context  map[string]interface{}
}

// TaskResult is the outcome of ExecuteTask.
type TaskResult struct {
	Success    bool
	Output     interface{}
	Confidence float64
	Accuracy   float64 // used to update per-capability proficiency
	Err        error
}

// Performance is an agent's rolling performance record.
type Performance struct {
	TasksCompleted   int
	TasksTotal       int
	SuccessRate      float64
	MeanResponseTime time.Duration
	MeanConfidence   float64
}

// Analysis is the result of Analyzer.Analyze, opaque to the runtime.
type Analysis struct {
	Payload map[string]interface{}
}

// Report is produced in response to a topic+context (spec.md §3).
type Report struct {
	AgentID        string
	Recommendation interface{}
	Confidence     float64
	Reasoning      string
	Citations      []string
}

// Analyzer, Recommender and Executor are the three behaviors each
// concrete agent kind supplies (spec.md §4.3/§9's capability-set
// interface, replacing dynamic dispatch over agent kinds with a tagged
// Kind plus this small interface, registered per kind at init).
type Analyzer interface {
	Analyze(ctx context.Context, topic string, context_ map[string]interface{}) (Analysis, error)
}

type Recommender interface {
	FormulateRecommendation(ctx context.Context, topic string, context_ map[string]interface{}, analysis Analysis) (Report, error)
}

type Executor interface {
	ExecuteTask(ctx context.Context, task Task) (TaskResult, error)
}

// Behavior bundles the three methods a concrete agent kind must supply.
type Behavior interface {
	Analyzer
	Recommender
	Executor
}
