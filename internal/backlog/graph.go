package backlog

// LeafCycle checks the dependency graph restricted to leaves for cycles.
// It returns the member IDs of the first cycle found, or nil if the
// graph is acyclic. Dependencies that do not resolve are ignored here;
// Validate rejects them separately.
func LeafCycle(b *Backlog) []string {
	leaves := b.Leaves()
	byID := make(map[string]*Subtask, len(leaves))
	for _, s := range leaves {
		byID[s.ID] = s
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(leaves))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		stack = append(stack, id)

		leaf := byID[id]
		for _, dep := range leaf.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch state[dep] {
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case inStack:
				// Extract the cycle members from the stack.
				for i, v := range stack {
					if v == dep {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						return cycle
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, s := range leaves {
		if state[s.ID] == unvisited {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
