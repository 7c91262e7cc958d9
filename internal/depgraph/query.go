package depgraph

import (
	"sort"

	"github.com/habpkg/autobuild/internal/identity"
)

// GlobDeps returns every node whose identity matches m for the given
// target, per spec.md §4.F's glob_deps(matcher, target) -> [node].
func (g *Graph) GlobDeps(m identity.GlobMatcher, target identity.Target) []*Node {
	var out []*Node
	for id, n := range g.Nodes {
		if id.Target != target {
			continue
		}
		if m.MatchIdent(identity.Ident{Origin: id.Origin, Name: id.Name, Version: id.Version, Release: id.Release, Target: id.Target}) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return nodeIDLess(out[i].ID, out[j].ID) })
	return out
}

// NodesForDep returns every node matching a dependency identity pattern,
// per spec.md §4.F's nodes_for_dep(dep_id) -> [node].
func (g *Graph) NodesForDep(dep identity.DepIdent) []*Node {
	var out []*Node
	for id, n := range g.Nodes {
		if id.Target != dep.Target {
			continue
		}
		if dep.Matches(identity.Ident{Origin: id.Origin, Name: id.Name, Version: id.Version, Release: id.Release, Target: id.Target}) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return nodeIDLess(out[i].ID, out[j].ID) })
	return out
}

// Direction selects which adjacency Transitive walks.
type Direction int

const (
	Forward Direction = iota // follow Out edges (dependencies)
	Reverse                  // follow In edges (dependents)
)

// Transitive computes the closure of starts over edges whose kind is in
// kinds, walking in the given direction, per spec.md §4.F's
// transitive(nodes, kinds, direction, include_starts, topo_sort) ->
// [node]. When topoSort is true the result is ordered so that, for a
// Forward walk, dependencies precede dependents (and the reverse for a
// Reverse walk); ties break by NodeID for determinism.
func (g *Graph) Transitive(starts []*Node, kinds map[EdgeKind]bool, direction Direction, includeStarts bool, topoSort bool) []*Node {
	seen := map[NodeID]bool{}
	var order []NodeID
	queue := make([]NodeID, 0, len(starts))
	for _, s := range starts {
		queue = append(queue, s.ID)
	}
	startSet := map[NodeID]bool{}
	for _, id := range queue {
		startSet[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if includeStarts || !startSet[id] {
			order = append(order, id)
		}
		var edges []Edge
		if direction == Forward {
			edges = g.Out[id]
		} else {
			edges = g.In[id]
		}
		for _, e := range edges {
			if !kinds[e.Kind] {
				continue
			}
			next := e.Dst
			if direction == Reverse {
				next = e.Src
			}
			if !seen[next] {
				queue = append(queue, next)
			}
		}
	}

	nodes := make([]*Node, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, g.Nodes[id])
	}

	if topoSort {
		nodes = g.topoSortSubset(nodes, kinds, direction)
	} else {
		sort.Slice(nodes, func(i, j int) bool { return nodeIDLess(nodes[i].ID, nodes[j].ID) })
	}
	return nodes
}

// topoSortSubset orders nodes using Kahn's algorithm restricted to the
// given subset and edge kinds, dependencies before dependents for a
// Forward walk (reversed for a Reverse walk), ties broken by NodeID.
func (g *Graph) topoSortSubset(nodes []*Node, kinds map[EdgeKind]bool, direction Direction) []*Node {
	subset := map[NodeID]bool{}
	for _, n := range nodes {
		subset[n.ID] = true
	}

	inDeg := map[NodeID]int{}
	adj := map[NodeID][]NodeID{}
	for _, n := range nodes {
		inDeg[n.ID] = 0
	}
	for _, n := range nodes {
		edges := g.Out[n.ID]
		if direction == Reverse {
			edges = g.In[n.ID]
		}
		for _, e := range edges {
			if !kinds[e.Kind] {
				continue
			}
			dep := e.Dst
			if direction == Reverse {
				dep = e.Src
			}
			if !subset[dep] {
				continue
			}
			// edge n -> dep means dep must come first (dependency
			// precedes dependent).
			adj[dep] = append(adj[dep], n.ID)
			inDeg[n.ID]++
		}
	}

	var queue []NodeID
	for id, d := range inDeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return nodeIDLess(queue[i], queue[j]) })

	var out []NodeID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		var next []NodeID
		for _, dependent := range adj[id] {
			inDeg[dependent]--
			if inDeg[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Slice(next, func(i, j int) bool { return nodeIDLess(next[i], next[j]) })
		queue = append(queue, next...)
		sort.Slice(queue, func(i, j int) bool { return nodeIDLess(queue[i], queue[j]) })
	}

	// Any leftover nodes (a cycle slipped through, e.g. an ignore-cycles
	// graph that wasn't fed through BreakCycles) are appended in ID order
	// rather than dropped.
	if len(out) != len(nodes) {
		present := map[NodeID]bool{}
		for _, id := range out {
			present[id] = true
		}
		var leftover []NodeID
		for _, n := range nodes {
			if !present[n.ID] {
				leftover = append(leftover, n.ID)
			}
		}
		sort.Slice(leftover, func(i, j int) bool { return nodeIDLess(leftover[i], leftover[j]) })
		out = append(out, leftover...)
	}

	result := make([]*Node, 0, len(out))
	for _, id := range out {
		result = append(result, g.Nodes[id])
	}
	return result
}

// Query is the public read-only analysis surface named in SPEC_FULL.md
// §3.1 (supplemented from original_source's src/cli/analyze.rs): a thin
// wrapper over Transitive for a caller that wants "what depends
// on X" / "what does X depend on" with depth and direction control,
// independent of the change detector's internal use of Transitive.
type Query struct {
	G *Graph
}

// allEdgeKinds is the edge-kind set analyze queries walk: every declared
// dependency relationship, per spec.md §3 "edges = {runtime, build,
// studio}".
var allEdgeKinds = map[EdgeKind]bool{Runtime: true, Build: true, Studio: true}

// Dependencies returns every node start depends on (Forward direction),
// optionally limited to maxDepth hops (0 means unlimited).
func (q Query) Dependencies(start *Node, maxDepth int) []*Node {
	return q.walk(start, Forward, maxDepth)
}

// Dependents returns every node that depends on start (Reverse
// direction), optionally limited to maxDepth hops (0 means unlimited).
func (q Query) Dependents(start *Node, maxDepth int) []*Node {
	return q.walk(start, Reverse, maxDepth)
}

func (q Query) walk(start *Node, dir Direction, maxDepth int) []*Node {
	if maxDepth <= 0 {
		return q.G.Transitive([]*Node{start}, allEdgeKinds, dir, false, true)
	}
	// Depth-limited BFS; Transitive has no depth parameter, so walk
	// manually for a bounded number of hops.
	adjFor := func(id NodeID) []edgeView {
		if dir == Forward {
			return edgesOfKind(q.G.Out[id], allEdgeKinds)
		}
		return edgesOfKind(q.G.In[id], allEdgeKinds)
	}
	seen := map[NodeID]bool{start.ID: true}
	frontier := []NodeID{start.ID}
	var out []*Node
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []NodeID
		for _, id := range frontier {
			for _, e := range adjFor(id) {
				other := e.other(id, dir)
				if seen[other] {
					continue
				}
				seen[other] = true
				next = append(next, other)
				out = append(out, q.G.Nodes[other])
			}
		}
		frontier = next
	}
	return out
}

type edgeView struct {
	Src, Dst NodeID
}

func (e edgeView) other(from NodeID, dir Direction) NodeID {
	if dir == Forward {
		return e.Dst
	}
	return e.Src
}

func edgesOfKind(edges []Edge, kinds map[EdgeKind]bool) []edgeView {
	var out []edgeView
	for _, e := range edges {
		if kinds[e.Kind] {
			out = append(out, edgeView{Src: e.Src, Dst: e.Dst})
		}
	}
	return out
}
