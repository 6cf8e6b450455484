package workflow

import "fmt"

// dependencyGraph is the acyclicity checker built from a Definition's
// declared step dependencies. Unlike orchestration/workflow_dag.go's
// WorkflowDAG, this graph is not used to drive execution order — the
// interpreter respects declared order directly — it exists solely to
// validate the graph up front and to offer a topological order for
// diagnostics.
type dependencyGraph struct {
	dependsOn map[string][]string
	order     []string // declaration order, for stable iteration
}

func newDependencyGraph(steps []Step) *dependencyGraph {
	g := &dependencyGraph{dependsOn: make(map[string][]string)}
	for _, s := range steps {
		g.dependsOn[s.ID] = s.DependsOn
		g.order = append(g.order, s.ID)
	}
	return g
}

// validateAcyclic runs DFS with an explicit recursion stack, per the
// cycle-detection approach this kind of dependency graph calls for.
func (g *dependencyGraph) validateAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("workflow: cyclic dependency detected at step %q (path: %v)", id, append(path, id))
		}
		state[id] = visiting
		for _, dep := range g.dependsOn[id] {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder returns step ids such that every step follows all of
// its dependencies, breaking ties by declaration order. Used only for
// diagnostics (e.g. DAGStatistics-style reporting); the interpreter
// itself iterates declared order.
func (g *dependencyGraph) topologicalOrder() []string {
	inDegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.dependsOn[id])
	}
	for _, id := range g.order {
		for _, dep := range g.dependsOn[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return result
}
