package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph validates the requires edges of a model and orders its resources into
// deploy levels. Resources at the same level have no dependency on each other.
type DependencyGraph struct {
	// nodes holds every resource of the graph
	nodes IDSet

	// adjacencyList maps resource IDs to their dependents
	adjacencyList map[ResourceID][]ResourceID

	// reverseAdjacencyList maps resource IDs to their requirements
	reverseAdjacencyList map[ResourceID][]ResourceID

	// inDegree tracks the number of requirements of each node
	inDegree map[ResourceID]int

	// levels maps deploy level to resource IDs at that level
	levels [][]ResourceID
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:                make(IDSet),
		adjacencyList:        make(map[ResourceID][]ResourceID),
		reverseAdjacencyList: make(map[ResourceID][]ResourceID),
		inDegree:             make(map[ResourceID]int),
		levels:               make([][]ResourceID, 0),
	}
}

// BuildDependencyGraph builds and validates the graph of a set of resources, given as a map from
// resource id to its requirements.
func BuildDependencyGraph(requires map[ResourceID][]ResourceID) (*DependencyGraph, error) {
	g := NewDependencyGraph()
	if err := g.initialize(requires); err != nil {
		return nil, err
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// initialize sets up the internal data structures.
func (g *DependencyGraph) initialize(requires map[ResourceID][]ResourceID) error {
	for id := range requires {
		if id == "" {
			return NewValidationError("resource has empty ID")
		}
		g.nodes.Add(id)
		g.inDegree[id] = 0
	}

	for _, id := range g.nodes.Sorted() {
		seen := make(IDSet)
		for _, req := range requires[id] {
			if req == id {
				return NewValidationError(fmt.Sprintf("resource %s requires itself", id)).
					WithResource(string(id))
			}
			if !g.nodes.Has(req) {
				return NewValidationError(fmt.Sprintf("resource %s requires non-existent resource %s", id, req)).
					WithResource(string(id))
			}
			if seen.Has(req) {
				continue
			}
			seen.Add(req)

			// Edge from requirement to dependent: the requirement deploys first.
			g.adjacencyList[req] = append(g.adjacencyList[req], id)
			g.reverseAdjacencyList[id] = append(g.reverseAdjacencyList[id], req)
			g.inDegree[id]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (g *DependencyGraph) detectCycles() error {
	visited := make(map[ResourceID]bool)
	recStack := make(map[ResourceID]bool)

	for _, id := range g.nodes.Sorted() {
		if visited[id] {
			continue
		}
		if cycle := g.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewValidationError(fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle))).
				WithResource(string(cycle[0]))
		}
	}

	return nil
}

// detectCyclesUtil performs DFS over the dependents of nodeID and returns the cycle, if any.
func (g *DependencyGraph) detectCyclesUtil(
	nodeID ResourceID,
	visited map[ResourceID]bool,
	recStack map[ResourceID]bool,
	path []ResourceID,
) []ResourceID {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range g.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := g.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]ResourceID{}, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns deploy levels using Kahn's algorithm.
func (g *DependencyGraph) computeLevels() error {
	inDegree := make(map[ResourceID]int, len(g.inDegree))
	for id, degree := range g.inDegree {
		inDegree[id] = degree
	}

	currentLevel := make([]ResourceID, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	processed := 0
	for len(currentLevel) > 0 {
		sortIDs(currentLevel)
		g.levels = append(g.levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]ResourceID, 0)
		for _, id := range currentLevel {
			for _, dependent := range g.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	if processed != len(g.nodes) {
		return NewInternalError("failed to order all resources - possible cycle")
	}

	return nil
}

// Levels returns the deploy levels. Each level only depends on earlier levels.
func (g *DependencyGraph) Levels() [][]ResourceID {
	return g.levels
}

// Level returns the deploy level of a resource, or -1 when it is not part of the graph.
func (g *DependencyGraph) Level(id ResourceID) int {
	for level, ids := range g.levels {
		for _, candidate := range ids {
			if candidate == id {
				return level
			}
		}
	}
	return -1
}

// Len returns the number of resources in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// ToDOT renders the graph in DOT format, colored by handler state.
// The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT(stateOf func(ResourceID) HandlerState) string {
	var sb strings.Builder

	sb.WriteString("digraph Model {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			state := HandlerState("")
			if stateOf != nil {
				state = stateOf(id)
			}
			label := escapeDOT(string(id))
			if state != "" {
				label = fmt.Sprintf("%s\\n%s", label, state)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				escapeDOT(string(id)), label, getHandlerStateColor(state)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range g.nodes.Sorted() {
		for _, req := range g.reverseAdjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", escapeDOT(string(req)), escapeDOT(string(id))))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []ResourceID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

// getHandlerStateColor returns a color for visualizing handler states.
func getHandlerStateColor(state HandlerState) string {
	switch state {
	case HandlerStateDeployed:
		return "lightgreen"
	case HandlerStateAvailable, HandlerStateDeploying:
		return "lightblue"
	case HandlerStateFailed, HandlerStateNonCompliant:
		return "lightcoral"
	case HandlerStateSkipped:
		return "khaki"
	case HandlerStateUndefined, HandlerStateSkippedForUndefined:
		return "lightgray"
	default:
		return "white"
	}
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func sortIDs(ids []ResourceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
