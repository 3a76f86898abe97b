package graph

import (
	"errors"
	"fmt"
)

// Graph is an immutable collection of nodes plus a default cloning policy.
// Construct graphs through a Builder; Build validates the node set and
// freezes the dependency structure.
type Graph struct {
	nodes          []*Node
	index          map[string]int
	consumers      map[string][]string
	defaultCloning CloningPolicy
	allowCycles    bool
	backEdges      map[edge]bool
}

// edge is a producer -> consumer pair.
type edge struct {
	from string
	to   string
}

// Builder assembles a graph node by node. Zero value is not usable; create
// one with NewBuilder.
type Builder struct {
	nodes          []*Node
	defaultCloning CloningPolicy
	allowCycles    bool
}

// NewBuilder creates a graph builder with LazyClone as the default policy.
func NewBuilder() *Builder {
	return &Builder{defaultCloning: LazyClone}
}

// WithDefaultCloning sets the graph-wide cloning policy.
func (b *Builder) WithDefaultCloning(p CloningPolicy) *Builder {
	b.defaultCloning = p
	return b
}

// AllowCycles opts the graph into iterative (non-DAG) execution. Without
// this, any cycle fails validation.
func (b *Builder) AllowCycles() *Builder {
	b.allowCycles = true
	return b
}

// AddNode appends a node. Declaration order is significant: it determines
// consumer ordering for lazy-clone fan-out.
func (b *Builder) AddNode(n *Node) *Builder {
	b.nodes = append(b.nodes, n)
	return b
}

// Build validates the assembled node set and returns an immutable graph.
// Validation failures (duplicate or empty IDs, missing units, dangling
// dependencies, cycles in an acyclic-only graph) are returned as a
// *ValidationError.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		nodes:          make([]*Node, len(b.nodes)),
		index:          make(map[string]int, len(b.nodes)),
		consumers:      make(map[string][]string),
		defaultCloning: b.defaultCloning,
		allowCycles:    b.allowCycles,
	}
	copy(g.nodes, b.nodes)

	for i, n := range g.nodes {
		if n == nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("node at position %d is nil", i)}
		}
		if n.ID == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("node at position %d has an empty ID", i)}
		}
		if _, exists := g.index[n.ID]; exists {
			return nil, &ValidationError{NodeID: n.ID, Reason: "duplicate node ID"}
		}
		if n.Unit == nil {
			return nil, &ValidationError{NodeID: n.ID, Reason: "node has no unit"}
		}
		g.index[n.ID] = i
	}

	// Dependencies must reference nodes inside this graph.
	for _, n := range g.nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, &ValidationError{
					NodeID: n.ID,
					Reason: fmt.Sprintf("dangling dependency %q", dep),
				}
			}
			if dep == n.ID {
				return nil, &ValidationError{NodeID: n.ID, Reason: "node depends on itself"}
			}
			if seen[dep] {
				return nil, &ValidationError{
					NodeID: n.ID,
					Reason: fmt.Sprintf("duplicate dependency %q", dep),
				}
			}
			seen[dep] = true
		}
	}

	// Consumer lists in declaration order; this ordering is what lazy-clone
	// fan-out keys off.
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			g.consumers[dep] = append(g.consumers[dep], n.ID)
		}
	}

	if err := g.validateCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// DefaultCloning returns the graph-wide cloning policy.
func (g *Graph) DefaultCloning() CloningPolicy {
	return g.defaultCloning
}

// Cyclic reports whether the graph opted into iterative execution.
func (g *Graph) Cyclic() bool {
	return g.allowCycles
}

// Node returns the node with the given ID, or nil if absent.
func (g *Graph) Node(id string) *Node {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.nodes[i]
}

// Contains reports whether the graph has a node with the given ID.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns the nodes in declaration order. The returned slice is a
// copy; the graph itself stays immutable.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NodeIDs returns all node IDs in declaration order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.ID
	}
	return out
}

// Consumers returns the IDs of nodes that depend on the given producer, in
// declaration order.
func (g *Graph) Consumers(producerID string) []string {
	src := g.consumers[producerID]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ResolveCloning returns the effective cloning policy for artifacts produced
// by the given node: the node override if present, the graph default
// otherwise.
func (g *Graph) ResolveCloning(producerID string) CloningPolicy {
	n := g.Node(producerID)
	if n != nil && n.Cloning != nil {
		return *n.Cloning
	}
	return g.defaultCloning
}

// Descendants returns every node transitively depending on the given node,
// following forward edges only (back edges in a cyclic graph are excluded so
// the cascade cannot loop).
func (g *Graph) Descendants(id string) []string {
	var out []string
	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.consumers[cur] {
			if visited[c] || g.backEdges[edge{from: cur, to: c}] {
				continue
			}
			visited[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// IsBackEdge reports whether producer -> consumer was classified as a back
// edge during validation. Back edges only exist on cyclic graphs; they drive
// iteration instead of layering.
func (g *Graph) IsBackEdge(producerID, consumerID string) bool {
	return g.backEdges[edge{from: producerID, to: consumerID}]
}

// ErrNoProgress is returned by Layers when the remaining nodes cannot be
// ordered, which indicates an internal inconsistency after validation.
var ErrNoProgress = errors.New("layering cannot make progress")
