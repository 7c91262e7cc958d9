// Package depgraph builds and queries the dependency graph described in
// spec.md §4.F: one node per local recipe plus one per resolved/remote
// dependency identity, Runtime/Build/Studio edges between them, with a
// greedy feedback-arc-set cycle breaker and a topological query surface.
// The topological-sort and cycle-reporting idiom is grounded on
// ov/graph.go's Kahn's-algorithm topoSort/findCycle pair, since neither
// the teacher nor any other pack repo carries comparable graph code.
package depgraph

import (
	"sort"

	"github.com/habpkg/autobuild/internal/identity"
	"golang.org/x/xerrors"
)

// NodeKind distinguishes the three node flavors per spec.md §3.
type NodeKind int

const (
	LocalPlan NodeKind = iota
	ResolvedDep
	RemoteDep
)

func (k NodeKind) String() string {
	switch k {
	case LocalPlan:
		return "local-plan"
	case ResolvedDep:
		return "resolved-dep"
	case RemoteDep:
		return "remote-dep"
	default:
		return "unknown"
	}
}

// EdgeKind distinguishes Runtime, Build and Studio edges.
type EdgeKind int

const (
	Runtime EdgeKind = iota
	Build
	Studio
)

func (k EdgeKind) String() string {
	switch k {
	case Runtime:
		return "runtime"
	case Build:
		return "build"
	case Studio:
		return "studio"
	default:
		return "unknown"
	}
}

// NodeID identifies a node by its resolved identity and target; RemoteDep
// nodes use Unresolved in whichever segments couldn't be pinned down.
type NodeID struct {
	Origin, Name, Version, Release string
	Target                         identity.Target
}

// Node is one package identity in the graph, either backed by a local
// recipe or by a dependency reference.
type Node struct {
	ID   NodeID
	Kind NodeKind

	// RecipeDir is set for LocalPlan nodes.
	RecipeDir string

	// IsNative marks a recipe as building outside any studio.
	IsNative bool
}

// Edge is a directed dependency edge Src -> Dst (Src requires Dst).
type Edge struct {
	Src, Dst NodeID
	Kind     EdgeKind
}

// Graph is the constructed dependency graph: nodes keyed by NodeID, plus
// forward and reverse adjacency for each edge kind.
type Graph struct {
	Nodes map[NodeID]*Node
	Out   map[NodeID][]Edge // edges leaving this node
	In    map[NodeID][]Edge // edges entering this node

	// RemovedCycleEdges holds the feedback-arc-set edges dropped in
	// "ignore-cycles" mode, kept for diagnostics.
	RemovedCycleEdges []Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		Nodes: map[NodeID]*Node{},
		Out:   map[NodeID][]Edge{},
		In:    map[NodeID][]Edge{},
	}
}

func (g *Graph) addNode(n *Node) {
	if _, ok := g.Nodes[n.ID]; !ok {
		g.Nodes[n.ID] = n
	}
}

func (g *Graph) addEdge(e Edge) {
	g.Out[e.Src] = append(g.Out[e.Src], e)
	g.In[e.Dst] = append(g.In[e.Dst], e)
}

// CycleMode selects how BreakCycles behaves.
type CycleMode int

const (
	// IgnoreCycles silently removes the feedback-arc-set edges.
	IgnoreCycles CycleMode = iota
	// StrictCycles reports the feedback-arc-set edges as a fatal error
	// but still returns a graph with the remainder.
	StrictCycles
)

// CycleError reports a fatal cycle detected under StrictCycles.
type CycleError struct {
	Edges []Edge
}

func (e *CycleError) Error() string {
	return xerrors.Errorf("dependency graph contains %d cyclical edge(s)", len(e.Edges)).Error()
}

// BreakCycles computes a greedy feedback arc set over Build∪Runtime∪Studio
// edges and removes it from g in place. Under StrictCycles it also
// returns a *CycleError naming the removed edges, while still leaving the
// acyclic remainder usable, per spec.md §4.F "report them as fatal and
// continue with the remainder."
func (g *Graph) BreakCycles(mode CycleMode) error {
	fas := greedyFeedbackArcSet(g)
	if len(fas) == 0 {
		return nil
	}
	removed := map[Edge]bool{}
	for _, e := range fas {
		removed[e] = true
	}
	for n, edges := range g.Out {
		filtered := edges[:0:0]
		for _, e := range edges {
			if !removed[e] {
				filtered = append(filtered, e)
			}
		}
		g.Out[n] = filtered
	}
	for n, edges := range g.In {
		filtered := edges[:0:0]
		for _, e := range edges {
			if !removed[e] {
				filtered = append(filtered, e)
			}
		}
		g.In[n] = filtered
	}
	g.RemovedCycleEdges = append(g.RemovedCycleEdges, fas...)

	if mode == StrictCycles {
		return &CycleError{Edges: fas}
	}
	return nil
}

// greedyFeedbackArcSet implements the classic greedy heuristic (repeatedly
// pick the node maximizing out-degree minus in-degree among remaining
// nodes, placing sinks/sources at either end of a linear order) and
// returns every edge that runs backward in the resulting order.
func greedyFeedbackArcSet(g *Graph) []Edge {
	remaining := map[NodeID]bool{}
	for id := range g.Nodes {
		remaining[id] = true
	}
	outDeg := map[NodeID]int{}
	inDeg := map[NodeID]int{}
	for id := range remaining {
		outDeg[id] = len(g.Out[id])
		inDeg[id] = len(g.In[id])
	}

	var left, right []NodeID
	ids := sortedIDs(remaining)
	for len(remaining) > 0 {
		// Repeatedly peel off sinks (out-degree 0) to the right and
		// sources (in-degree 0) to the left; once neither exists, peel
		// the node with the largest out-in degree delta to the left.
		progressed := true
		for progressed {
			progressed = false
			for _, id := range ids {
				if !remaining[id] {
					continue
				}
				if outDeg[id] == 0 {
					right = append([]NodeID{id}, right...)
					removeNode(g, id, remaining, outDeg, inDeg)
					progressed = true
				}
			}
			for _, id := range ids {
				if !remaining[id] {
					continue
				}
				if inDeg[id] == 0 {
					left = append(left, id)
					removeNode(g, id, remaining, outDeg, inDeg)
					progressed = true
				}
			}
		}
		if len(remaining) == 0 {
			break
		}
		var best NodeID
		bestDelta := 0
		first := true
		for _, id := range ids {
			if !remaining[id] {
				continue
			}
			delta := outDeg[id] - inDeg[id]
			if first || delta > bestDelta {
				best = id
				bestDelta = delta
				first = false
			}
		}
		left = append(left, best)
		removeNode(g, best, remaining, outDeg, inDeg)
	}

	order := append(left, right...)
	pos := map[NodeID]int{}
	for i, id := range order {
		pos[id] = i
	}

	var fas []Edge
	for _, edges := range g.Out {
		for _, e := range edges {
			if pos[e.Src] > pos[e.Dst] {
				fas = append(fas, e)
			}
		}
	}
	sort.Slice(fas, func(i, j int) bool {
		return nodeIDLess(fas[i].Src, fas[j].Src)
	})
	return fas
}

func removeNode(g *Graph, id NodeID, remaining map[NodeID]bool, outDeg, inDeg map[NodeID]int) {
	delete(remaining, id)
	for _, e := range g.Out[id] {
		if remaining[e.Dst] {
			inDeg[e.Dst]--
		}
	}
	for _, e := range g.In[id] {
		if remaining[e.Src] {
			outDeg[e.Src]--
		}
	}
	outDeg[id] = 0
	inDeg[id] = 0
}

func sortedIDs(m map[NodeID]bool) []NodeID {
	ids := make([]NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return nodeIDLess(ids[i], ids[j]) })
	return ids
}

func nodeIDLess(a, b NodeID) bool {
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.Release < b.Release
}
