// Package taskgraph defines the dependency graph executed by the workflow
// pattern, plus the pure helpers the scheduler drives it with.
package taskgraph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmpty             = errors.New("task graph has no tasks")
	ErrUnknownDependency = errors.New("task depends on unknown task")
	ErrCycle             = errors.New("task graph contains a cycle")
)

// Task is one node of the graph: the agent that runs it and the tasks that
// must complete first.
type Task struct {
	Agent     string   `yaml:"agent" json:"agent"`
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
}

// Graph maps task id to its definition. Constructed once per turn and never
// mutated after Validate.
type Graph map[string]Task

// Validate checks that every dependency id exists and that the graph is
// acyclic. Runs once, before any task is dispatched; either violation aborts
// the turn with zero invocations.
func Validate(g Graph) error {
	if len(g) == 0 {
		return ErrEmpty
	}

	ids := sortedIDs(g)
	for _, id := range ids {
		for _, dep := range g[id].DependsOn {
			if _, ok := g[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrUnknownDependency, id, dep)
			}
		}
	}

	// Iterative depth-first search with an explicit frame stack. A grey
	// node reached again while still on the stack closes a cycle.
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g))

	type frame struct {
		id   string
		next int
	}

	for _, start := range ids {
		if color[start] != white {
			continue
		}
		color[start] = grey
		stack := []frame{{id: start}}

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			deps := g[f.id].DependsOn
			if f.next >= len(deps) {
				color[f.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			dep := deps[f.next]
			f.next++
			switch color[dep] {
			case grey:
				return fmt.Errorf("%w: %q -> %q", ErrCycle, f.id, dep)
			case white:
				color[dep] = grey
				stack = append(stack, frame{id: dep})
			}
		}
	}

	return nil
}

// Ready returns the ids of tasks not yet completed whose dependencies are
// all in done, sorted for deterministic dispatch order.
func Ready(g Graph, done map[string]bool) []string {
	var ready []string
	for id, t := range g {
		if done[id] {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Sinks returns the ids no other task depends on, sorted. Their results are
// the turn's final output.
func Sinks(g Graph) []string {
	depended := make(map[string]bool, len(g))
	for _, t := range g {
		for _, dep := range t.DependsOn {
			depended[dep] = true
		}
	}
	var sinks []string
	for id := range g {
		if !depended[id] {
			sinks = append(sinks, id)
		}
	}
	sort.Strings(sinks)
	return sinks
}

func sortedIDs(g Graph) []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
