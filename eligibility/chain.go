package eligibility

import (
	"fmt"
	"sort"

	"github.com/warp/casework/welfare"
)

// ProgramGraph is the program promotion chain as owned nodes and an edge set.
// Each program has at most one outgoing edge (its successor). Stored data may
// contain cycles or dangling successors; Validate reports them, lookups stay
// safe either way.
type ProgramGraph struct {
	nodes map[welfare.ProgramID]welfare.Program
	edges map[welfare.ProgramID]welfare.ProgramID
}

func NewProgramGraph(programs []welfare.Program) *ProgramGraph {
	g := &ProgramGraph{
		nodes: make(map[welfare.ProgramID]welfare.Program, len(programs)),
		edges: make(map[welfare.ProgramID]welfare.ProgramID),
	}
	for _, p := range programs {
		p.NextProgram = nil
		g.nodes[p.ID] = p
		if p.NextProgramID != nil {
			g.edges[p.ID] = *p.NextProgramID
		}
	}
	return g
}

func (g *ProgramGraph) Program(id welfare.ProgramID) (welfare.Program, bool) {
	p, ok := g.nodes[id]
	return p, ok
}

// Successor returns the program one hop along the chain. A missing edge, a
// dangling edge and a self-loop all report false.
func (g *ProgramGraph) Successor(id welfare.ProgramID) (welfare.Program, bool) {
	next, ok := g.edges[id]
	if !ok || next == id {
		return welfare.Program{}, false
	}
	p, ok := g.nodes[next]
	return p, ok
}

// Chain walks from id until the chain ends or revisits a program.
func (g *ProgramGraph) Chain(id welfare.ProgramID) []welfare.Program {
	var out []welfare.Program
	seen := make(map[welfare.ProgramID]bool)
	for cur, ok := g.nodes[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		out = append(out, cur)
		cur, ok = g.Successor(cur.ID)
	}
	return out
}

// Validate checks that every successor exists and that no chain loops.
func (g *ProgramGraph) Validate() error {
	ids := make([]welfare.ProgramID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if next, ok := g.edges[id]; ok {
			if _, exists := g.nodes[next]; !exists {
				return fmt.Errorf("%w: %s -> %s", welfare.ErrDanglingSuccessor, id, next)
			}
		}
	}

	// Out-degree is at most one, so a walk from each unvisited node either
	// ends, joins an already-cleared path, or closes a loop on itself.
	const (
		unvisited = iota
		onPath
		cleared
	)
	state := make(map[welfare.ProgramID]int, len(ids))
	for _, start := range ids {
		if state[start] != unvisited {
			continue
		}
		var path []welfare.ProgramID
		cur, ok := start, true
		for ok && state[cur] == unvisited {
			state[cur] = onPath
			path = append(path, cur)
			cur, ok = g.edges[cur]
		}
		if ok && state[cur] == onPath {
			return &welfare.CycleError{Start: cur, Path: append(path, cur)}
		}
		for _, id := range path {
			state[id] = cleared
		}
	}
	return nil
}
