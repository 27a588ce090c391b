package fieldeval

import (
	"fmt"
	"sort"
	"strings"

	"signflow/internal/domain"
)

// CycleError reports a calculation cycle found at validation time.
type CycleError struct {
	Fields []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("calculation cycle through fields %s", strings.Join(e.Fields, ", "))
}

// Graph is the explicit calculation-reference graph: an edge a -> b means
// field a's calculation reads field b.
type Graph struct {
	nodes []string
	edges map[string][]string
}

// BuildGraph collects calculation references into an adjacency list.
// Visibility conditions read the snapshot only and cannot cycle, so they
// are not edges.
func BuildGraph(fields []domain.Field) Graph {
	g := Graph{edges: make(map[string][]string, len(fields))}
	for _, f := range fields {
		g.nodes = append(g.nodes, f.ID)
		if f.Calculation == nil {
			continue
		}
		for _, ref := range f.Calculation.Fields {
			g.edges[f.ID] = append(g.edges[f.ID], ref)
		}
	}
	sort.Strings(g.nodes)
	return g
}

// Order returns the field ids in dependency order: every referenced field
// appears before the calculation that reads it. A cycle yields a CycleError
// naming the fields still unresolved.
func (g Graph) Order() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n] = 0
	}
	for from, refs := range g.edges {
		for _, to := range refs {
			if _, ok := indegree[to]; !ok {
				continue // dangling reference; reported by validation
			}
			indegree[from]++
			dependents[to] = append(dependents[to], from)
		}
	}
	var queue []string
	for _, n := range g.nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(g.nodes) {
		var stuck []string
		for _, n := range g.nodes {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, &CycleError{Fields: stuck}
	}
	return order, nil
}

// CalculatedInOrder filters a topological order down to the fields that
// actually carry a calculation, preserving order.
func CalculatedInOrder(fields []domain.Field) ([]domain.Field, error) {
	order, err := BuildGraph(fields).Order()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	var out []domain.Field
	for _, id := range order {
		if f, ok := byID[id]; ok && f.Calculation != nil {
			out = append(out, f)
		}
	}
	return out, nil
}
