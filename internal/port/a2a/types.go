package a2a

// AgentCard describes the orchestrator's capabilities per the A2A protocol.
type AgentCard struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Version      string  `json:"version"`
	Skills       []Skill `json:"skills"`
	Capabilities struct {
		Streaming bool `json:"streaming"`
	} `json:"capabilities"`
}

// Skill describes a single capability of the agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// TaskRequest represents an incoming A2A task request.
type TaskRequest struct {
	ID      string         `json:"id"`
	Skill   string         `json:"skill"`
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

// TaskResponse represents an A2A task response.
type TaskResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"` // "queued", "running", "completed", "failed"
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}
