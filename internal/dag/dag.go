// Package dag implements task graph validation, deterministic
// topological ordering, and upstream payload merge. Cycle detection is
// an in-memory depth-first search so a graph can be validated
// without touching storage.
package dag

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/djpcore/internal/orcherr"
)

// Kind distinguishes an ordinary workflow task from a checkpoint gate.
type Kind string

const (
	KindWorkflow   Kind = "workflow"
	KindCheckpoint Kind = "checkpoint"
)

// Task is one node in a DAG.
type Task struct {
	ID           string
	Kind         Kind
	WorkflowRef  string
	Params       map[string]any
	DependsOn    []string
	Retries      int
	Prompt       string
	RequiredRole string
	InputsSchema map[string]string
}

// DAG is a named, tenant-scoped task graph.
type DAG struct {
	Name     string
	TenantID string
	Tasks    []Task
}

func cloneTask(t Task) Task {
	cp := t
	if len(t.DependsOn) > 0 {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if len(t.Params) > 0 {
		cp.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			cp.Params[k] = v
		}
	}
	return cp
}

// Graph is the in-memory adjacency view built from a validated DAG.
type Graph struct {
	nodes   map[string]Task
	forward map[string][]string // task -> depends on these
	reverse map[string][]string // task -> blocked-by-this-one
}

// Build constructs a Graph from the DAG's tasks without validating it;
// callers should call Validate first.
func Build(d DAG) *Graph {
	g := &Graph{
		nodes:   make(map[string]Task, len(d.Tasks)),
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
	}
	for _, t := range d.Tasks {
		g.nodes[t.ID] = cloneTask(t)
	}
	for _, t := range d.Tasks {
		if len(t.DependsOn) == 0 {
			continue
		}
		g.forward[t.ID] = append(g.forward[t.ID], t.DependsOn...)
		for _, dep := range t.DependsOn {
			g.reverse[dep] = append(g.reverse[dep], t.ID)
		}
	}
	return g
}

// Task returns the node for id and whether it exists.
func (g *Graph) Task(id string) (Task, bool) {
	t, ok := g.nodes[id]
	return t, ok
}

// ValidationIssue is one independent reason a DAG failed validation.
// Validate collects every issue so a caller sees all problems at once.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationError aggregates every ValidationIssue found.
type ValidationError struct {
	DagName string
	Issues  []ValidationIssue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dag %q failed validation with %d issue(s)", e.DagName, len(e.Issues))
}

// Validate enforces: unique ids, at least one task, all depends_on exist,
// no cycle, kind=checkpoint implies workflow_ref unused, retries >= 0.
func Validate(d DAG) error {
	var issues []ValidationIssue

	if len(d.Tasks) == 0 {
		issues = append(issues, ValidationIssue{Field: "tasks", Message: "dag must contain at least one task"})
	}

	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if seen[t.ID] {
			issues = append(issues, ValidationIssue{Field: "tasks[" + t.ID + "].id", Message: "duplicate task id"})
		}
		seen[t.ID] = true
	}

	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				issues = append(issues, ValidationIssue{Field: "tasks[" + t.ID + "].depends_on", Message: fmt.Sprintf("unknown dependency %q", dep)})
			}
		}
		if t.Retries < 0 {
			issues = append(issues, ValidationIssue{Field: "tasks[" + t.ID + "].retries", Message: "retries must be >= 0"})
		}
		if t.Kind == KindCheckpoint && t.WorkflowRef != "" {
			issues = append(issues, ValidationIssue{Field: "tasks[" + t.ID + "].workflow_ref", Message: "checkpoint tasks must not set workflow_ref"})
		}
	}

	if len(issues) == 0 {
		if cyclePath, ok := findCycle(d); ok {
			issues = append(issues, ValidationIssue{Field: "tasks", Message: fmt.Sprintf("cycle detected: %v", cyclePath)})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{DagName: d.Name, Issues: issues}
	}
	return nil
}

// findCycle runs a DFS looking for a back-edge; returns the offending path.
func findCycle(d DAG) ([]string, bool) {
	deps := make(map[string][]string, len(d.Tasks))
	for _, t := range d.Tasks {
		deps[t.ID] = t.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Tasks))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return append(append([]string(nil), path...), dep), true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil, false
	}

	for _, t := range d.Tasks {
		if color[t.ID] == white {
			if cyc, found := visit(t.ID); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// Toposort produces a deterministic order via Kahn's algorithm, breaking
// ties by task id ascending so the same DAG always executes in the same
// order.
func Toposort(d DAG) ([]Task, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(d.Tasks))
	byID := make(map[string]Task, len(d.Tasks))
	dependents := make(map[string][]string)

	for _, t := range d.Tasks {
		byID[t.ID] = t
		inDegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []Task
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, d2 := range next {
			inDegree[d2]--
			if inDegree[d2] == 0 {
				ready = append(ready, d2)
			}
		}
	}

	if len(order) != len(d.Tasks) {
		return nil, &orcherr.ValidationError{Field: "tasks", Message: "toposort could not order all tasks (unexpected cycle)"}
	}
	return order, nil
}

// MergePayloads shallow-merges upstream task outputs in task-id ascending
// order, so later ids overwrite earlier ones on key collision. Each
// source's keys are additionally namespaced under "__ns" so downstream
// consumers can disambiguate which task produced a given key.
func MergePayloads(upstream map[string]map[string]any) map[string]any {
	ids := make([]string, 0, len(upstream))
	for id := range upstream {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := make(map[string]any)
	ns := make(map[string]string)
	for _, id := range ids {
		for k, v := range upstream[id] {
			merged[k] = v
			ns[k] = id
		}
	}
	merged["__ns"] = ns
	return merged
}
