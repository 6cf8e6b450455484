package workflow

import "fmt"

var knownKinds = map[StepKind]bool{
	StepAction:      true,
	StepCondition:   true,
	StepParallel:    true,
	StepSequential:  true,
	StepLoop:        true,
	StepWait:        true,
	StepSubWorkflow: true,
}

// Validate runs the synchronous, pre-run checks from spec.md §4.6:
// required fields, duplicate/unknown/dangling references, and acyclic
// dependencies.
func Validate(def *Definition) ValidationResult {
	result := ValidationResult{Valid: true}
	addErr := func(format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	if def.ID == "" {
		addErr("workflow: missing id")
	}
	if def.Name == "" {
		addErr("workflow: missing name")
	}
	if len(def.Steps) == 0 {
		addErr("workflow: must declare at least one step")
	}

	ids := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if ids[s.ID] {
			addErr("workflow: duplicate step id %q", s.ID)
		}
		ids[s.ID] = true

		if !knownKinds[s.Kind] {
			addErr("workflow: step %q has unknown kind %q", s.ID, s.Kind)
		}
		validateStepConfig(s, &result)
	}

	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				addErr("workflow: step %q depends on unknown step %q", s.ID, dep)
			}
		}
		if s.Compensate != "" && !ids[s.Compensate] {
			addErr("workflow: step %q references unknown compensation step %q", s.ID, s.Compensate)
		}
	}

	if result.Valid {
		if err := newDependencyGraph(def.Steps).validateAcyclic(); err != nil {
			addErr("%s", err.Error())
		}
	}

	return result
}

// validateStepConfig reports missing fields or inconsistent
// configuration for the kind-specific config block, per each
// executor's own validate() responsibility (spec.md §4.5).
func validateStepConfig(s Step, result *ValidationResult) {
	warn := func(format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}
	fail := func(format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	switch s.Kind {
	case StepAction:
		if s.Action == nil || s.Action.Function == "" {
			fail("workflow: action step %q missing function", s.ID)
		}
	case StepCondition:
		if s.Condition == nil || s.Condition.Expression == "" {
			fail("workflow: condition step %q missing expression", s.ID)
		}
	case StepParallel:
		if s.Parallel == nil || len(s.Parallel.Steps) == 0 {
			fail("workflow: parallel step %q has no sub-steps", s.ID)
		}
	case StepSequential:
		if s.Sequential == nil || len(s.Sequential.Steps) == 0 {
			fail("workflow: sequential step %q has no sub-steps", s.ID)
		}
	case StepLoop:
		if s.Loop == nil || s.Loop.Collection == "" || s.Loop.Body == nil {
			fail("workflow: loop step %q missing collection or body", s.ID)
		}
	case StepWait:
		if s.Wait == nil || (s.Wait.Duration == 0 && s.Wait.Until == nil) {
			fail("workflow: wait step %q missing duration or until", s.ID)
		}
	case StepSubWorkflow:
		if s.SubWorkflow == nil || s.SubWorkflow.WorkflowID == "" {
			fail("workflow: sub-workflow step %q missing workflowId", s.ID)
		}
	}

	if s.OnError == OnErrorCompensate && s.Compensate == "" {
		warn("workflow: step %q has onError=compensate but no compensate reference", s.ID)
	}
}
