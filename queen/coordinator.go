package queen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hiveforge/swarmcore/agent"
	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/events"
	"github.com/hiveforge/swarmcore/pattern"
	"github.com/hiveforge/swarmcore/resilience"
	"github.com/hiveforge/swarmcore/telemetry"
	"github.com/hiveforge/swarmcore/voting"
)

// registeredAgent is the registry entry for one agent; it holds the
// agent's Runtime.
type registeredAgent struct {
	runtime *agent.Runtime
}

// Coordinator is the Queen: it owns an agent registry, a Voting Engine,
// and a Pattern Store, and drives the five-step decision flow from
// spec.md §4.2.
type Coordinator struct {
	cfg Config

	mu     sync.RWMutex
	agents map[string]*registeredAgent

	decisionsMu sync.Mutex
	decisions   map[string]*Decision

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	engine  *voting.Engine
	patterns *pattern.Store

	logger core.Logger
	sink   events.Sink
}

// CoordinatorOption configures a Coordinator at construction.
type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(l core.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func WithCoordinatorSink(s events.Sink) CoordinatorOption {
	return func(c *Coordinator) { c.sink = s }
}

// NewCoordinator wires a Coordinator to its Voting Engine and Pattern
// Store. Agents are kept in a registry keyed by agent id that holds each
// agent's *agent.Runtime; a Runtime holds no reference back to the
// Coordinator, so the agent/Queen reference graph stays acyclic.
func NewCoordinator(cfg Config, engine *voting.Engine, patterns *pattern.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		agents:    make(map[string]*registeredAgent),
		decisions: make(map[string]*Decision),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		engine:    engine,
		patterns:  patterns,
		logger:    &core.NoOpLogger{},
		sink:      events.NoOpSink{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds an agent to the swarm's registry, enforcing
// MaxAgentsPerSwarm.
func (c *Coordinator) Register(runtime *agent.Runtime) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.agents) >= c.cfg.MaxAgentsPerSwarm {
		return fmt.Errorf("queen: register agent %s: %w", runtime.ID, core.ErrSwarmAtCapacity)
	}
	c.agents[runtime.ID] = &registeredAgent{runtime: runtime}
	return nil
}

// Unregister removes an agent from the swarm.
func (c *Coordinator) Unregister(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, agentID)
}

// selectAgents matches capability keywords against lower-cased topic
// and context tokens (spec.md §4.2 step 1).
func (c *Coordinator) selectAgents(req DecisionRequest) []*registeredAgent {
	haystack := strings.ToLower(req.Topic)
	for k, v := range req.Context {
		haystack += " " + strings.ToLower(fmt.Sprintf("%s %v", k, v))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var selected []*registeredAgent
	for _, a := range c.agents {
		for _, cap := range a.runtime.Capabilities {
			if strings.Contains(haystack, strings.ToLower(cap.Name)) {
				selected = append(selected, a)
				break
			}
		}
	}
	return selected
}

// breakerFor returns the per-agent circuit breaker, creating one on
// first use. Each agent gets its own breaker so one misbehaving agent
// can't trip reporting for the rest of the swarm.
func (c *Coordinator) breakerFor(agentID string) *resilience.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if cb, ok := c.breakers[agentID]; ok {
		return cb
	}
	cfg := resilience.DefaultConfig()
	cfg.Name = "queen-report:" + agentID
	cfg.Logger = c.logger
	cb, err := resilience.NewCircuitBreaker(cfg)
	if err != nil {
		// DefaultConfig is always valid; this is unreachable in practice.
		cb, _ = resilience.NewCircuitBreaker(resilience.DefaultConfig())
	}
	c.breakers[agentID] = cb
	return cb
}

// fanOutReports requests reports from each selected agent in parallel,
// each bounded by cfg.ReportTimeout and guarded by a per-agent circuit
// breaker (spec.md §4.2 step 2).
func (c *Coordinator) fanOutReports(ctx context.Context, agents []*registeredAgent, req DecisionRequest) []AgentReport {
	results := make([]AgentReport, len(agents))
	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a *registeredAgent) {
			defer wg.Done()

			var report agent.Report
			cb := c.breakerFor(a.runtime.ID)
			err := cb.ExecuteWithTimeout(ctx, c.cfg.ReportTimeout, func() error {
				var innerErr error
				report, innerErr = a.runtime.GenerateReport(ctx, req.Topic, req.Context)
				return innerErr
			})
			if err != nil {
				telemetry.RecordError("queen_agent_report", "fanout_failed", "agent_id", a.runtime.ID)
				results[i] = AgentReport{AgentID: a.runtime.ID, Err: fmt.Errorf("agent %s: %w", a.runtime.ID, err)}
				return
			}
			telemetry.RecordSuccess("queen_agent_report", "agent_id", a.runtime.ID)
			results[i] = AgentReport{AgentID: a.runtime.ID, Report: report}
		}(i, a)
	}
	wg.Wait()
	return results
}

// synthesizeOptions maps distinct recommendations to vote options,
// per spec.md §4.2 step 3.
func synthesizeOptions(reports []AgentReport) []voting.Option {
	seen := make(map[string]bool)
	var options []voting.Option
	for _, r := range reports {
		if r.Err != nil {
			continue
		}
		id := fmt.Sprintf("%v", r.Report.Recommendation)
		if seen[id] {
			continue
		}
		seen[id] = true
		options = append(options, voting.Option{ID: id, Value: id, Description: r.Report.Reasoning})
	}
	return options
}

// Decide runs the full five-step coordination flow: select, fan out,
// vote, threshold-check, and write back to the Pattern Store.
func (c *Coordinator) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	start := time.Now()
	telemetry.Counter("queen_decision_started_total", "topic", req.Topic)
	defer func() {
		telemetry.Histogram("queen_decision_duration_ms", float64(time.Since(start).Milliseconds()), "topic", req.Topic)
	}()

	decision := &Decision{
		ID:        req.ID,
		Request:   req,
		Status:    DecisionPendingReports,
		CreatedAt: time.Now(),
	}
	c.putDecision(decision)

	selected := c.selectAgents(req)
	if len(selected) == 0 {
		telemetry.RecordError("queen_decision", "no_eligible_agents")
		return nil, fmt.Errorf("queen: decide %s: %w", req.ID, core.ErrNoEligibleAgents)
	}

	reports := c.fanOutReports(ctx, selected, req)
	decision.Reports = reports

	options := synthesizeOptions(reports)
	if len(options) == 0 {
		return nil, fmt.Errorf("queen: decide %s: %w", req.ID, core.ErrNoEligibleAgents)
	}

	topic := voting.Topic{ID: req.ID, Options: options, Context: req.Context}
	eligible := make([]string, 0, len(selected))
	for _, a := range selected {
		eligible = append(eligible, a.runtime.ID)
	}

	votingID, err := c.engine.Open(ctx, topic, eligible)
	if err != nil {
		return nil, fmt.Errorf("queen: open voting for %s: %w", req.ID, err)
	}
	decision.VotingID = votingID

	var totalConfidence float64
	var voteCount int
	for _, r := range reports {
		if r.Err != nil {
			continue
		}
		weight := c.voteWeight(r.AgentID, r.Report.Confidence)
		confidence := r.Report.Confidence
		optionID := fmt.Sprintf("%v", r.Report.Recommendation)
		if err := c.engine.Cast(ctx, votingID, voting.Vote{
			VoterID:    r.AgentID,
			OptionID:   optionID,
			Weight:     &weight,
			Confidence: &confidence,
		}); err != nil {
			c.logger.Warn("queen: vote cast rejected", map[string]interface{}{"agent_id": r.AgentID, "error": err.Error()})
			continue
		}
		totalConfidence += confidence
		voteCount++
	}

	result, err := c.engine.Close(ctx, votingID)
	if err != nil && result == nil {
		return nil, fmt.Errorf("queen: close voting %s: %w", votingID, err)
	}

	averageConfidence := 0.0
	if voteCount > 0 {
		averageConfidence = totalConfidence / float64(voteCount)
	}
	decision.AverageConfidence = averageConfidence

	if averageConfidence < c.cfg.AutoExecutionThreshold || result.Legitimacy != voting.LegitimacyValid {
		deadline := time.Now().Add(c.cfg.ApprovalTimeout)
		decision.Status = DecisionPendingApproval
		decision.Deadline = &deadline
		c.putDecision(decision)
		c.sink.Publish(ctx, "queen:approval-required", map[string]interface{}{
			"decision_id": decision.ID,
			"confidence":  averageConfidence,
			"legitimacy":  string(result.Legitimacy),
			"deadline":    deadline,
		})
		return decision, nil
	}

	decision.Status = DecisionExecuted
	c.putDecision(decision)
	c.recordOutcome(ctx, decision, true, result)
	telemetry.RecordSuccess("queen_decision")
	return decision, nil
}

// voteWeight implements proficiency × (0.5 + 0.5 × historicalSuccessRate),
// falling back to the raw report confidence if the agent is unknown.
func (c *Coordinator) voteWeight(agentID string, confidence float64) float64 {
	c.mu.RLock()
	a, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return confidence
	}
	perf := a.runtime.Snapshot()
	proficiency := a.runtime.AverageProficiency()
	if proficiency == 0 {
		proficiency = confidence
	}
	return proficiency * (0.5 + 0.5*perf.SuccessRate)
}

// Approve resolves a pending decision as approved, clearing it for
// downstream execution (spec.md §4.2 step 4's external resolver).
func (c *Coordinator) Approve(ctx context.Context, decisionID string) (*Decision, error) {
	decision, err := c.pendingDecision(decisionID)
	if err != nil {
		return nil, err
	}
	decision.Status = DecisionApproved
	c.putDecision(decision)
	c.sink.Publish(ctx, "queen:decision-approved", map[string]interface{}{"decision_id": decisionID})
	c.recordOutcome(ctx, decision, true, nil)
	return decision, nil
}

// Reject resolves a pending decision as rejected.
func (c *Coordinator) Reject(ctx context.Context, decisionID string, reason string) (*Decision, error) {
	decision, err := c.pendingDecision(decisionID)
	if err != nil {
		return nil, err
	}
	decision.Status = DecisionRejected
	decision.RejectionReason = reason
	c.putDecision(decision)
	c.sink.Publish(ctx, "queen:decision-rejected", map[string]interface{}{"decision_id": decisionID, "reason": reason})
	c.recordOutcome(ctx, decision, false, nil)
	return decision, nil
}

func (c *Coordinator) pendingDecision(decisionID string) (*Decision, error) {
	c.decisionsMu.Lock()
	defer c.decisionsMu.Unlock()
	decision, ok := c.decisions[decisionID]
	if !ok {
		return nil, fmt.Errorf("queen: %s: %w", decisionID, core.ErrApprovalNotFound)
	}
	if decision.Status != DecisionPendingApproval {
		return nil, fmt.Errorf("queen: %s: %w", decisionID, core.ErrApprovalNotFound)
	}
	if decision.Deadline != nil && time.Now().After(*decision.Deadline) {
		return nil, fmt.Errorf("queen: %s: %w", decisionID, core.ErrApprovalExpired)
	}
	return decision, nil
}

// Decision returns a copy of the decision record for decisionID.
func (c *Coordinator) Decision(decisionID string) (*Decision, error) {
	c.decisionsMu.Lock()
	defer c.decisionsMu.Unlock()
	decision, ok := c.decisions[decisionID]
	if !ok {
		return nil, fmt.Errorf("queen: %s: %w", decisionID, core.ErrApprovalNotFound)
	}
	copy := *decision
	return &copy, nil
}

func (c *Coordinator) putDecision(d *Decision) {
	c.decisionsMu.Lock()
	c.decisions[d.ID] = d
	c.decisionsMu.Unlock()
}

// recordOutcome writes the decision's eventual outcome back to the
// Pattern Store (spec.md §4.2 step 5), regardless of how the decision
// was ultimately resolved.
func (c *Coordinator) recordOutcome(ctx context.Context, decision *Decision, success bool, result *voting.MajorityResult) {
	if c.patterns == nil {
		return
	}
	var actions []string
	for _, r := range decision.Reports {
		if r.Err == nil {
			actions = append(actions, fmt.Sprintf("%v", r.Report.Recommendation))
		}
	}
	recommendation := ""
	if result != nil && result.Winner != nil {
		recommendation = *result.Winner
	}
	_, err := c.patterns.Observe(ctx, pattern.Decision{
		Kind:           pattern.KindDecision,
		Context:        decision.Request.Context,
		Actions:        actions,
		Recommendation: recommendation,
	}, success, map[string]float64{"average_confidence": decision.AverageConfidence})
	if err != nil {
		c.logger.Warn("queen: pattern observe failed", map[string]interface{}{"decision_id": decision.ID, "error": err.Error()})
	}
}
