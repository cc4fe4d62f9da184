// Package agent defines the deployed agent registry and the routing tables
// the orchestration patterns read from it.
package agent

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/peerjakobsen/agentify-release/internal/domain/taskgraph"
)

var (
	ErrNoAgents        = errors.New("registry has no agents")
	ErrDuplicateAgent  = errors.New("duplicate agent id")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownWorkflow = errors.New("unknown workflow definition")
)

// Agent is one remotely deployed, opaquely invoked unit of work.
type Agent struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Endpoint    string `yaml:"endpoint"`
	Type        string `yaml:"type"`
}

// GraphRules configures the graph pattern's table-driven strategies.
type GraphRules struct {
	EntryAgent           string            `yaml:"entry_agent"`
	ClassificationRoutes map[string]string `yaml:"classification_routes"`
	StaticRoutes         map[string]string `yaml:"static_routes"`
}

// SwarmRules configures the swarm pattern.
type SwarmRules struct {
	EntryAgent string `yaml:"entry_agent"`
}

// WorkflowDef is a named task graph for the workflow pattern.
type WorkflowDef struct {
	Tasks taskgraph.Graph `yaml:"tasks"`
}

// Registry holds the deployed agents and per-pattern configuration. Loaded
// once at startup and read-only afterwards.
type Registry struct {
	Agents    []Agent                `yaml:"agents"`
	Graph     GraphRules             `yaml:"graph"`
	Swarm     SwarmRules             `yaml:"swarm"`
	Workflows map[string]WorkflowDef `yaml:"workflows"`

	byID map[string]Agent
}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := r.index(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Registry) index() error {
	if len(r.Agents) == 0 {
		return ErrNoAgents
	}
	r.byID = make(map[string]Agent, len(r.Agents))
	for _, a := range r.Agents {
		if a.ID == "" {
			return errors.New("agent with empty id in registry")
		}
		if _, dup := r.byID[a.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateAgent, a.ID)
		}
		r.byID[a.ID] = a
	}

	if e := r.Graph.EntryAgent; e != "" && !r.Has(e) {
		return fmt.Errorf("%w: graph entry agent %q", ErrUnknownAgent, e)
	}
	if e := r.Swarm.EntryAgent; e != "" && !r.Has(e) {
		return fmt.Errorf("%w: swarm entry agent %q", ErrUnknownAgent, e)
	}
	for name, wf := range r.Workflows {
		for id, task := range wf.Tasks {
			if !r.Has(task.Agent) {
				return fmt.Errorf("%w: workflow %q task %q uses agent %q", ErrUnknownAgent, name, id, task.Agent)
			}
		}
	}
	return nil
}

// Lookup returns the agent with the given id.
func (r *Registry) Lookup(id string) (Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Has reports whether id names a registered agent.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns all registered agent ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DisplayName returns the agent's human-readable name, falling back to the
// id for unregistered or unnamed agents.
func (r *Registry) DisplayName(id string) string {
	if a, ok := r.byID[id]; ok && a.Name != "" {
		return a.Name
	}
	return id
}

// Workflow resolves a named task graph. An empty name is allowed when the
// registry defines exactly one workflow.
func (r *Registry) Workflow(name string) (taskgraph.Graph, error) {
	if name == "" {
		if len(r.Workflows) == 1 {
			for _, wf := range r.Workflows {
				return wf.Tasks, nil
			}
		}
		return nil, fmt.Errorf("%w: no name given and %d workflows defined", ErrUnknownWorkflow, len(r.Workflows))
	}
	wf, ok := r.Workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	return wf.Tasks, nil
}
