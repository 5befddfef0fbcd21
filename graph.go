package gateway

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Input defines a workflow input parameter
type Input struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Output defines a workflow output parameter, extracted from a state field
// when the instance completes.
type Output struct {
	Name        string `json:"name" yaml:"name"`
	Field       string `json:"field,omitempty" yaml:"field,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DefaultMaxRetries bounds reroutes per feedback target when a node does not
// declare its own limit. It exists to guarantee termination.
const DefaultMaxRetries = 3

// GraphOptions are used to configure a workflow graph.
type GraphOptions struct {
	Name        string         `json:"name" yaml:"name"`
	Nodes       []*Node        `json:"nodes" yaml:"nodes"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []*Input       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []*Output      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	State       map[string]any `json:"state,omitempty" yaml:"state,omitempty"`

	// MaxRetries overrides DefaultMaxRetries for nodes that do not declare
	// their own limit.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Graph defines a workflow as a directed control-flow graph of agent nodes
// with quality gates. The topology is immutable after construction; all
// validation happens here so execution never encounters a malformed graph.
type Graph struct {
	name         string
	description  string
	inputs       []*Input
	outputs      []*Output
	nodes        []*Node
	nodesByName  map[string]*Node
	start        *Node
	initialState map[string]any
	maxRetries   int
}

// NewGraph returns a new Graph configured with the given options. Malformed
// topologies (missing nodes, dangling edges, dangling reroute targets, no
// reachable terminal) are rejected with a ConfigurationError.
func NewGraph(opts GraphOptions) (*Graph, error) {
	if opts.Name == "" {
		return nil, NewConfigurationError("graph name required")
	}
	if len(opts.Nodes) == 0 {
		return nil, NewConfigurationError("nodes required")
	}

	nodesByName := make(map[string]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.Name == "" {
			return nil, NewConfigurationError("node name required")
		}
		if node.Agent == "" {
			return nil, NewConfigurationError("node %q: agent required", node.Name)
		}
		if _, exists := nodesByName[node.Name]; exists {
			return nil, NewConfigurationError("duplicate node name %q", node.Name)
		}
		nodesByName[node.Name] = node
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	g := &Graph{
		name:         opts.Name,
		description:  opts.Description,
		inputs:       opts.Inputs,
		outputs:      opts.Outputs,
		nodes:        opts.Nodes,
		nodesByName:  nodesByName,
		start:        opts.Nodes[0],
		initialState: opts.State,
		maxRetries:   maxRetries,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the graph name
func (g *Graph) Name() string {
	return g.name
}

// Description returns the graph description
func (g *Graph) Description() string {
	return g.description
}

// Inputs returns the graph input declarations
func (g *Graph) Inputs() []*Input {
	return g.inputs
}

// Outputs returns the graph output declarations
func (g *Graph) Outputs() []*Output {
	return g.outputs
}

// Nodes returns the graph nodes
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Start returns the graph start node
func (g *Graph) Start() *Node {
	return g.start
}

// InitialState returns the graph's initial state values
func (g *Graph) InitialState() map[string]any {
	return g.initialState
}

// GetNode returns a node by name
func (g *Graph) GetNode(name string) (*Node, bool) {
	node, ok := g.nodesByName[name]
	return node, ok
}

// NodeNames returns the sorted names of all nodes in the graph
func (g *Graph) NodeNames() []string {
	names := make([]string, 0, len(g.nodesByName))
	for name := range g.nodesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxRetriesFor returns the reroute bound for a feedback target node.
func (g *Graph) MaxRetriesFor(node *Node) int {
	if node.MaxRetries > 0 {
		return node.MaxRetries
	}
	return g.maxRetries
}

func (g *Graph) validate() error {
	for _, node := range g.nodes {
		for _, edge := range node.Next {
			if edge.To == "" {
				return NewConfigurationError("node %q: edge with empty target", node.Name)
			}
			if _, ok := g.nodesByName[edge.To]; !ok {
				return NewConfigurationError("node %q: edge to unknown node %q", node.Name, edge.To)
			}
		}
		if gate := node.Gate; gate != nil {
			if gate.FeedbackTarget != "" {
				if _, ok := g.nodesByName[gate.FeedbackTarget]; !ok {
					return NewConfigurationError("node %q: feedback target %q not found", node.Name, gate.FeedbackTarget)
				}
			}
			for kind, target := range gate.Targets {
				if _, ok := g.nodesByName[target]; !ok {
					return NewConfigurationError("node %q: reroute target %q for kind %q not found", node.Name, target, kind)
				}
			}
			for _, check := range gate.Checks {
				if check.Name == "" {
					return NewConfigurationError("node %q: gate check without a name", node.Name)
				}
				if check.Expr != "" && check.Fn != "" {
					return NewConfigurationError("node %q: check %q declares both expr and fn", node.Name, check.Name)
				}
				if check.Scale < 0 {
					return NewConfigurationError("node %q: check %q has negative scale", node.Name, check.Name)
				}
			}
		}
	}
	return g.validateTerminalReachable()
}

// validateTerminalReachable walks forward edges from the start node and
// requires that at least one terminal node is reachable.
func (g *Graph) validateTerminalReachable() error {
	visited := map[string]bool{}
	queue := []*Node{g.start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node.Name] {
			continue
		}
		visited[node.Name] = true
		if node.IsTerminal() {
			return nil
		}
		for _, edge := range node.Next {
			queue = append(queue, g.nodesByName[edge.To])
		}
	}
	return NewConfigurationError("no terminal node reachable from %q", g.start.Name)
}

// LoadFile loads a graph from a YAML file
func LoadFile(path string) (*Graph, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError("failed to read graph file: %v", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a graph from a YAML string
func LoadString(data string) (*Graph, error) {
	var opts GraphOptions
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, NewConfigurationError("failed to unmarshal graph: %v", err)
	}
	return NewGraph(opts)
}
