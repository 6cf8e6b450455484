// Package queen implements the Queen Coordinator: capability-keyword
// agent selection, bounded-timeout parallel report fan-out, vote-option
// synthesis, the human-approval threshold, and write-back to the
// pattern store. Grounded on orchestration/orchestrator.go's
// ExecutePlanWithSynthesis fan-out/telemetry shape and
// orchestration/hitl_controller.go's pending-checkpoint/ProcessCommand
// approve-or-reject flow, generalized from LLM routing plans to the
// swarm's report/vote/decide cycle.
package queen

import (
	"time"

	"github.com/hiveforge/swarmcore/agent"
)

// DecisionRequest is the input to a single coordination round.
type DecisionRequest struct {
	ID      string
	Topic   string
	Context map[string]interface{}
}

// AgentReport pairs a responding agent's identity with its generated
// report, or an error if the fan-out call failed or timed out.
type AgentReport struct {
	AgentID string
	Report  agent.Report
	Err     error
}

// DecisionStatus is the lifecycle state of a Decision.
type DecisionStatus string

const (
	DecisionPendingReports  DecisionStatus = "pending-reports"
	DecisionPendingApproval DecisionStatus = "pending-approval"
	DecisionApproved        DecisionStatus = "approved"
	DecisionRejected        DecisionStatus = "rejected"
	DecisionExecuted        DecisionStatus = "executed"
)

// Decision is the Queen's full record of one coordination round: the
// request, the reports it gathered, the vote it ran, and how it was
// ultimately resolved.
type Decision struct {
	ID               string
	Request          DecisionRequest
	Reports          []AgentReport
	VotingID         string
	AverageConfidence float64
	Status           DecisionStatus
	CreatedAt        time.Time
	Deadline         *time.Time
	RejectionReason  string
}

// Config carries the Queen's tunable knobs (spec.md §6).
type Config struct {
	AutoExecutionThreshold float64
	VotingThreshold        float64
	Quorum                 float64
	MaxAgentsPerSwarm      int
	ReportTimeout          time.Duration
	VotingTimeout          time.Duration
	ApprovalTimeout        time.Duration
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		AutoExecutionThreshold: 0.7,
		VotingThreshold:        0.5,
		Quorum:                 0.5,
		MaxAgentsPerSwarm:      10,
		ReportTimeout:          5 * time.Second,
		VotingTimeout:          30 * time.Second,
		ApprovalTimeout:        10 * time.Minute,
	}
}
