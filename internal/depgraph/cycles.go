package depgraph

// Cycles finds import cycles with a depth-first search that keeps an
// explicit recursion stack. Each cycle is the stack slice from the first
// revisited file to the closing edge, ending with that file again.
func (g *Graph) Cycles() [][]string {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string

	var visit func(n string)
	visit = func(n string) {
		state[n] = onStack
		stack = append(stack, n)

		for _, next := range g.out[n] {
			switch state[next] {
			case unvisited:
				visit(next)
			case onStack:
				start := len(stack) - 1
				for start >= 0 && stack[start] != next {
					start--
				}
				cycle := append([]string(nil), stack[start:]...)
				cycles = append(cycles, append(cycle, next))
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
	}

	for _, n := range g.nodes {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}
