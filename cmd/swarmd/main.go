// Command swarmd wires a Queen Coordinator, Workflow Interpreter, and
// Scheduler together for local/dev execution, adapted from
// core/cmd/example's minimal single-tool bootstrap.
package main

import (
	"context"
	"log"
	"time"

	"github.com/hiveforge/swarmcore/agent"
	"github.com/hiveforge/swarmcore/core"
	"github.com/hiveforge/swarmcore/pattern"
	"github.com/hiveforge/swarmcore/persistence"
	"github.com/hiveforge/swarmcore/queen"
	"github.com/hiveforge/swarmcore/scheduler"
	"github.com/hiveforge/swarmcore/voting"
	"github.com/hiveforge/swarmcore/workflow"
)

// echoBehavior is a minimal stand-in Behavior for demo purposes; a real
// deployment supplies one Behavior per agent.Kind with domain logic.
type echoBehavior struct{}

func (echoBehavior) Analyze(ctx context.Context, topic string, context_ map[string]interface{}) (agent.Analysis, error) {
	return agent.Analysis{Payload: map[string]interface{}{"topic": topic}}, nil
}

func (echoBehavior) FormulateRecommendation(ctx context.Context, topic string, context_ map[string]interface{}, analysis agent.Analysis) (agent.Report, error) {
	return agent.Report{Recommendation: "proceed", Reasoning: "default demo behavior", Confidence: 0.8}, nil
}

func (echoBehavior) ExecuteTask(ctx context.Context, task agent.Task) (agent.TaskResult, error) {
	return agent.TaskResult{Success: true, Output: task.Topic, Confidence: 0.8, Accuracy: 0.8}, nil
}

func main() {
	logger := core.NewProductionLogger(
		core.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		core.DevelopmentConfig{},
		"swarmd",
	)

	votingEngine := voting.NewEngine(voting.DefaultConfig())
	patternStore := pattern.NewStore(pattern.DefaultConfig(), pattern.WithKVStore(persistence.NewInMemoryKVStore()))
	coordinator := queen.NewCoordinator(queen.DefaultConfig(), votingEngine, patternStore, queen.WithCoordinatorLogger(logger))

	crm := agent.NewRuntime("agent-crm-1", "CRM Assistant", agent.KindCRM,
		[]agent.Capability{{Name: "crm", Proficiency: 0.8}}, echoBehavior{}, agent.WithLogger(logger))
	if err := coordinator.Register(crm); err != nil {
		log.Fatalf("swarmd: register agent: %v", err)
	}

	interp := workflow.NewInterpreter(workflow.WithLogger(logger))
	if err := interp.RegisterDefinition(&workflow.Definition{
		ID:   "demo-workflow",
		Name: "demo",
		Steps: []workflow.Step{
			{ID: "greet", Kind: workflow.StepAction, Action: &workflow.ActionConfig{
				Function: "log",
				Args:     map[string]interface{}{"message": "swarmd demo workflow fired"},
			}},
		},
	}); err != nil {
		log.Fatalf("swarmd: register workflow: %v", err)
	}

	runner := func(workflowID string, inputs map[string]interface{}) (string, string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		exec, err := interp.Execute(ctx, workflowID, inputs)
		if err != nil {
			return "", "failed", err
		}
		return exec.ID, string(exec.Status), nil
	}
	sched := scheduler.NewEngine(runner, scheduler.WithEngineLogger(logger))

	scheduleID, err := sched.Schedule("demo-workflow", scheduler.Recurrence{
		Kind:     scheduler.RecurrenceInterval,
		Interval: time.Minute,
	}, nil)
	if err != nil {
		log.Fatalf("swarmd: schedule demo workflow: %v", err)
	}

	logger.Info("swarmd started", map[string]interface{}{
		"schedule_id": scheduleID,
		"agents":      1,
	})

	decision, err := coordinator.Decide(context.Background(), queen.DecisionRequest{
		ID:    "demo-decision",
		Topic: "crm follow-up",
	})
	if err != nil {
		logger.Warn("swarmd: demo decision failed", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Info("swarmd: demo decision resolved", map[string]interface{}{"status": string(decision.Status)})
	}

	select {}
}
