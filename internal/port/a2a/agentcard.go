package a2a

// BuildAgentCard returns the discovery card for the orchestrator service.
// Each orchestration pattern is advertised as one skill.
func BuildAgentCard(baseURL string) AgentCard {
	return AgentCard{
		Name:        "Agentify",
		Description: "Multi-agent orchestration engine",
		URL:         baseURL,
		Version:     "0.1.0",
		Skills: []Skill{
			{
				ID:          "graph",
				Name:        "Graph Orchestration",
				Description: "Conditional sequential routing across deployed agents",
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			},
			{
				ID:          "swarm",
				Name:        "Swarm Orchestration",
				Description: "Autonomous agent handoffs with parallel fan-out and convergence",
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			},
			{
				ID:          "workflow",
				Name:        "Workflow Orchestration",
				Description: "Dependency-graph task execution in concurrent waves",
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			},
		},
		Capabilities: struct {
			Streaming bool `json:"streaming"`
		}{Streaming: true},
	}
}
