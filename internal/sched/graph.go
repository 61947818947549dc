package sched

// Graph holds the dependency structure: task names in registration order,
// the declared predecessor lists, and the derived downstream ("before")
// adjacency. It is frozen once Start begins; reads after that are lock-free.
//
// Add does not require predecessors to already exist; they may be
// registered later. Closure and acyclicity are checked once, by Validate.
type Graph struct {
	order  []string
	after  map[string][]string
	before map[string][]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		after:  make(map[string][]string),
		before: make(map[string][]string),
	}
}

// Add registers a node with its predecessor list. The list is deduplicated
// preserving first-occurrence order.
func (g *Graph) Add(name string, after []string) error {
	if name == "" {
		return schedErrorf(ErrEmptyName, "task name is required")
	}
	if _, exists := g.after[name]; exists {
		return schedErrorf(ErrDuplicateName, "%q", name)
	}

	deduped := make([]string, 0, len(after))
	seen := make(map[string]struct{}, len(after))
	for _, dep := range after {
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		deduped = append(deduped, dep)
	}

	g.order = append(g.order, name)
	g.after[name] = deduped
	for _, dep := range deduped {
		g.before[dep] = append(g.before[dep], name)
	}
	return nil
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int { return len(g.order) }

// Names returns the node names in registration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether name is a registered node.
func (g *Graph) Has(name string) bool {
	_, ok := g.after[name]
	return ok
}

// Predecessors returns the deduplicated predecessor list for name.
func (g *Graph) Predecessors(name string) []string {
	deps := g.after[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// DependencyCounts returns, for each node, its predecessor list. Intended
// for introspection and UI rendering (dependency listings).
func (g *Graph) DependencyCounts() map[string][]string {
	out := make(map[string][]string, len(g.order))
	for _, name := range g.order {
		out[name] = g.Predecessors(name)
	}
	return out
}

// InitialReady returns the nodes with no predecessors, in registration order.
func (g *Graph) InitialReady() []string {
	out := make([]string, 0)
	for _, name := range g.order {
		if len(g.after[name]) == 0 {
			out = append(out, name)
		}
	}
	return out
}

// Downstream returns the nodes that list name as a predecessor, in
// registration order of their declaration.
func (g *Graph) Downstream(name string) []string {
	down := g.before[name]
	out := make([]string, len(down))
	copy(out, down)
	return out
}

// Validate checks closure (every referenced predecessor is a registered
// node) and acyclicity, reporting one representative cycle on failure.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.after[name] {
			if !g.Has(dep) {
				return schedErrorf(ErrUnknownDependency, "%q required by %q", dep, name)
			}
		}
	}

	if path := g.findCycle(); path != nil {
		return cycleError(path)
	}
	return nil
}

// findCycle performs a white/gray/black DFS over the downstream adjacency
// and extracts one cycle path as a stable witness. Traversal follows
// registration order, so the reported cycle is independent of map iteration.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.order))
	parent := make(map[string]string, len(g.order))

	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range g.before[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back-edge u -> v closes a cycle v ... u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, name := range g.order {
		if color[name] != white {
			continue
		}
		if dfs(name) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	// The walk collected the path backwards; reverse it into edge order.
	out := make([]string, len(cycle))
	for i := range cycle {
		out[i] = cycle[len(cycle)-1-i]
	}
	return out
}
