package compiler

import (
	"slices"
)

// dependencyGraph maps a mapping name to the mappings its entity
// properties reference. Edges point from referrer to referee.
type dependencyGraph map[string][]string

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// findCycles returns one path per cyclic component, each starting and
// ending at the same mapping. Nodes are visited in order, so results are
// deterministic.
func findCycles(order []string, graph dependencyGraph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(order, graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, reconstructCyclePath(scc, graph))
		}
	}
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
func tarjanSCC(order []string, graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	// Report components in declaration order of their first member.
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	for _, scc := range sccs {
		slices.SortFunc(scc, func(a, b string) int { return pos[a] - pos[b] })
	}
	slices.SortFunc(sccs, func(a, b []string) int { return pos[a[0]] - pos[b[0]] })
	return sccs
}

// reconstructCyclePath walks edges inside the SCC from its first member
// back to itself, e.g. [a, b, a].
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// topoSort orders nodes so every node follows the nodes it depends on.
// Among independent nodes declaration order is kept. graph must be acyclic.
func topoSort(order []string, graph dependencyGraph) []string {
	placed := make(map[string]bool, len(order))
	sorted := make([]string, 0, len(order))
	for len(sorted) < len(order) {
		progressed := false
		for _, node := range order {
			if placed[node] {
				continue
			}
			ready := true
			for _, dep := range graph[node] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[node] = true
				sorted = append(sorted, node)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return sorted
}
