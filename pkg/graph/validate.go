package graph

// validateCycles proves the graph acyclic, or, for graphs that opted into
// iterative execution, classifies the back edges that close each cycle so
// layering can exclude them.
func (g *Graph) validateCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))
	g.backEdges = make(map[edge]bool)

	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range g.consumers[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes a cycle.
				if g.allowCycles {
					g.backEdges[edge{from: u, to: v}] = true
					continue
				}
				cycle = append(cycle, v)
				cur := u
				for cur != "" && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range g.nodes {
		if color[n.ID] != white {
			continue
		}
		if dfs(n.ID) {
			break
		}
	}

	if len(cycle) > 0 {
		// The parent walk collected the cycle in reverse; normalize to
		// forward order for the error message.
		fwd := make([]string, len(cycle))
		for i := range cycle {
			fwd[i] = cycle[len(cycle)-1-i]
		}
		return &ValidationError{Reason: "graph contains a cycle", Cycle: fwd}
	}
	return nil
}

// Layers computes a topological layering: layer k holds the nodes whose
// dependencies are all satisfied once layers 0..k-1 have run. Back edges are
// excluded, so cyclic graphs layer on their forward structure and iterate
// via the orchestrator's dirty set.
//
// pending restricts layering to a subset of nodes; dependencies outside the
// subset are treated as already satisfied. A nil pending layers the whole
// graph. Ordering inside a layer follows node declaration order.
func (g *Graph) Layers(pending map[string]bool) ([][]string, error) {
	inSet := func(id string) bool {
		if pending == nil {
			return true
		}
		return pending[id]
	}

	indeg := make(map[string]int)
	total := 0
	for _, n := range g.nodes {
		if !inSet(n.ID) {
			continue
		}
		total++
		indeg[n.ID] = 0
		for _, dep := range n.DependsOn {
			if inSet(dep) && !g.backEdges[edge{from: dep, to: n.ID}] {
				indeg[n.ID]++
			}
		}
	}

	var layers [][]string
	placed := 0
	done := make(map[string]bool, total)

	for placed < total {
		var layer []string
		for _, n := range g.nodes {
			if !inSet(n.ID) || done[n.ID] {
				continue
			}
			if indeg[n.ID] == 0 {
				layer = append(layer, n.ID)
			}
		}
		if len(layer) == 0 {
			return nil, ErrNoProgress
		}
		for _, id := range layer {
			done[id] = true
			placed++
			for _, c := range g.consumers[id] {
				if inSet(c) && !done[c] && !g.backEdges[edge{from: id, to: c}] {
					indeg[c]--
				}
			}
		}
		layers = append(layers, layer)
	}

	return layers, nil
}
