package cli

import (
	"fmt"
	"strings"

	"taskweaver/internal/sched"
)

// FormatGraph renders the dependency listing for --graph: one line per task
// in registration order, with its predecessors.
func FormatGraph(g *sched.Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks\n", g.Len())
	for _, name := range g.Names() {
		deps := g.Predecessors(name)
		if len(deps) == 0 {
			fmt.Fprintf(&b, "  %s\n", name)
			continue
		}
		fmt.Fprintf(&b, "  %s (after: %s)\n", name, strings.Join(deps, ", "))
	}
	return b.String()
}
