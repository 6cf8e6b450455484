package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hiveforge/swarmcore/workflow/expr"
)

// ActionFunc is a caller-registered built-in for StepAction steps.
type ActionFunc func(ctx context.Context, args map[string]interface{}, runCtx map[string]interface{}) (interface{}, error)

// stepRunner is satisfied by *Interpreter; executors that recurse
// (parallel, sequential, loop, sub-workflow) call back into it rather
// than importing it directly, avoiding a cycle between this file and
// interpreter.go while keeping them in the same package.
type stepRunner interface {
	runStep(ctx context.Context, exec *Execution, step Step) (interface{}, error)
}

// executeAction resolves a built-in or registered function and invokes
// it with the step's args merged against the execution context.
func executeAction(ctx context.Context, step Step, exec *Execution, registry map[string]ActionFunc) (interface{}, error) {
	cfg := step.Action
	if fn, ok := registry[cfg.Function]; ok {
		return fn(ctx, cfg.Args, exec.Context)
	}

	switch cfg.Function {
	case "log":
		msg := fmt.Sprintf("%v", cfg.Args["message"])
		exec.History = append(exec.History, HistoryEntry{StepID: step.ID, Status: StepRunning, Timestamp: time.Now(), Result: msg})
		return msg, nil
	case "setVariable":
		name, _ := cfg.Args["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("workflow: setVariable requires a name")
		}
		exec.Context[name] = cfg.Args["value"]
		return cfg.Args["value"], nil
	case "httpRequest":
		return executeHTTPRequest(ctx, cfg.Args)
	default:
		return nil, fmt.Errorf("workflow: unknown action function %q", cfg.Function)
	}
}

func executeHTTPRequest(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("workflow: httpRequest requires a url")
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload, ok := args["body"]; ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("workflow: httpRequest: marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("workflow: httpRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow: httpRequest: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("workflow: httpRequest: read response: %w", err)
	}

	return map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(data),
	}, nil
}

// executeCondition evaluates the step's expression over the execution
// context and resolves the next step id (spec.md §4.5).
func executeCondition(step Step, exec *Execution) (map[string]interface{}, error) {
	cfg := step.Condition
	result, err := expr.EvalBool(cfg.Expression, exec.Context)
	if err != nil {
		return nil, fmt.Errorf("workflow: condition step %q: %w", step.ID, err)
	}
	next := cfg.FalsePath
	if result {
		next = cfg.TruePath
	}
	return map[string]interface{}{"result": result, "nextStep": next}, nil
}

// executeParallel runs sub-steps concurrently in fixed-size chunks
// bounded by maxConcurrency (0 = unbounded), per spec.md §4.5.
func executeParallel(ctx context.Context, step Step, exec *Execution, runner stepRunner) (map[string]interface{}, error) {
	cfg := step.Parallel
	chunkSize := cfg.MaxConcurrency
	if chunkSize <= 0 {
		chunkSize = len(cfg.Steps)
	}

	results := make(map[string]interface{}, len(cfg.Steps))
	var failures []string

	for start := 0; start < len(cfg.Steps); start += chunkSize {
		end := start + chunkSize
		if end > len(cfg.Steps) {
			end = len(cfg.Steps)
		}
		chunk := cfg.Steps[start:end]

		type outcome struct {
			id     string
			result interface{}
			err    error
		}
		out := make(chan outcome, len(chunk))
		for _, sub := range chunk {
			sub := sub
			go func() {
				r, err := runner.runStep(ctx, exec, sub)
				out <- outcome{id: sub.ID, result: r, err: err}
			}()
		}
		for range chunk {
			o := <-out
			if o.err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", o.id, o.err))
				continue
			}
			results[o.id] = o.result
		}
	}

	if len(failures) > 0 {
		return results, fmt.Errorf("workflow: parallel step %q: aggregate error: %v", step.ID, failures)
	}
	return results, nil
}

// executeSequential runs sub-steps in order, merging each sub-step's
// result into the shared context before the next runs.
func executeSequential(ctx context.Context, step Step, exec *Execution, runner stepRunner) ([]interface{}, error) {
	cfg := step.Sequential
	results := make([]interface{}, 0, len(cfg.Steps))
	for _, sub := range cfg.Steps {
		r, err := runner.runStep(ctx, exec, sub)
		if err != nil {
			return results, fmt.Errorf("workflow: sequential step %q: sub-step %q: %w", step.ID, sub.ID, err)
		}
		exec.Context[fmt.Sprintf("steps.%s.output", sub.ID)] = r
		results = append(results, r)
	}
	return results, nil
}

// executeLoop iterates a finite collection, binding item/index
// variables in a local context copy per iteration.
func executeLoop(ctx context.Context, step Step, exec *Execution, runner stepRunner) ([]interface{}, error) {
	cfg := step.Loop
	collection, err := resolveCollection(exec.Context, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("workflow: loop step %q: %w", step.ID, err)
	}

	itemVar := cfg.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}
	indexVar := cfg.IndexVar
	if indexVar == "" {
		indexVar = "index"
	}

	results := make([]interface{}, 0, len(collection))
	for i, item := range collection {
		iterExec := &Execution{Context: cloneContext(exec.Context)}
		iterExec.Context[itemVar] = item
		iterExec.Context[indexVar] = i

		r, err := runner.runStep(ctx, iterExec, *cfg.Body)
		if err != nil {
			return results, fmt.Errorf("workflow: loop step %q: iteration %d: %w", step.ID, i, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func resolveCollection(context_ map[string]interface{}, path string) ([]interface{}, error) {
	v, ok := context_[path]
	if !ok {
		return nil, fmt.Errorf("collection %q not found in context", path)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("collection %q is not a list", path)
	}
	return items, nil
}

func cloneContext(ctx map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

// executeWait suspends until duration elapses or until is reached.
func executeWait(ctx context.Context, step Step) error {
	cfg := step.Wait
	var d time.Duration
	if cfg.Until != nil {
		d = time.Until(*cfg.Until)
	} else {
		d = cfg.Duration
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubWorkflowRunner invokes a referenced workflow by id, given the
// mapped inputs, and returns its outputs.
type SubWorkflowRunner func(ctx context.Context, workflowID string, inputs map[string]interface{}) (map[string]interface{}, error)

// executeSubWorkflow maps inputs by dotted-path extraction, runs the
// referenced workflow, and maps outputs back into the caller's context.
func executeSubWorkflow(ctx context.Context, step Step, exec *Execution, run SubWorkflowRunner) (map[string]interface{}, error) {
	cfg := step.SubWorkflow
	if run == nil {
		return nil, fmt.Errorf("workflow: sub-workflow step %q: no sub-workflow runner configured", step.ID)
	}

	inputs := make(map[string]interface{}, len(cfg.InputMap))
	for destKey, sourcePath := range cfg.InputMap {
		v, err := lookupDottedPath(exec.Context, sourcePath)
		if err != nil {
			return nil, fmt.Errorf("workflow: sub-workflow step %q: input %q: %w", step.ID, destKey, err)
		}
		inputs[destKey] = v
	}

	outputs, err := run(ctx, cfg.WorkflowID, inputs)
	if err != nil {
		return nil, fmt.Errorf("workflow: sub-workflow step %q: %w", step.ID, err)
	}

	mapped := make(map[string]interface{}, len(cfg.OutputMap))
	for destKey, sourcePath := range cfg.OutputMap {
		v, err := lookupDottedPath(outputs, sourcePath)
		if err != nil {
			return nil, fmt.Errorf("workflow: sub-workflow step %q: output %q: %w", step.ID, destKey, err)
		}
		mapped[destKey] = v
	}
	return mapped, nil
}

func lookupDottedPath(m map[string]interface{}, path string) (interface{}, error) {
	var cur interface{} = m
	seg := ""
	for _, r := range path + "." {
		if r == '.' {
			next, ok := cur.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%q is not a map", seg)
			}
			v, present := next[seg]
			if !present {
				return nil, fmt.Errorf("path segment %q not found", seg)
			}
			cur = v
			seg = ""
			continue
		}
		seg += string(r)
	}
	return cur, nil
}
