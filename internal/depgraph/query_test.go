package depgraph

import (
	"testing"

	"github.com/habpkg/autobuild/internal/identity"
)

func node(name string) *Node {
	return &Node{ID: NodeID{Origin: "core", Name: name, Version: "1.0", Release: "20240101000000"}, Kind: LocalPlan}
}

// buildChain wires app -> lib -> libc as Runtime edges.
func buildChain() *Graph {
	g := New()
	app, lib, libc := node("app"), node("lib"), node("libc")
	g.addNode(app)
	g.addNode(lib)
	g.addNode(libc)
	g.addEdge(Edge{Src: app.ID, Dst: lib.ID, Kind: Runtime})
	g.addEdge(Edge{Src: lib.ID, Dst: libc.ID, Kind: Runtime})
	return g
}

func TestQueryDependenciesUnlimitedDepth(t *testing.T) {
	g := buildChain()
	app := g.Nodes[NodeID{Origin: "core", Name: "app", Version: "1.0", Release: "20240101000000"}]
	q := Query{G: g}

	deps := q.Dependencies(app, 0)
	if len(deps) != 2 {
		t.Fatalf("expected 2 transitive dependencies, got %d: %v", len(deps), deps)
	}
	// dependencies must precede dependents in the forward topo order:
	// libc comes before lib.
	if deps[0].ID.Name != "libc" || deps[1].ID.Name != "lib" {
		t.Fatalf("expected [libc, lib] in dependency-first order, got %v", namesOf(deps))
	}
}

func TestQueryDependenciesDepthLimited(t *testing.T) {
	g := buildChain()
	app := g.Nodes[NodeID{Origin: "core", Name: "app", Version: "1.0", Release: "20240101000000"}]
	q := Query{G: g}

	deps := q.Dependencies(app, 1)
	if len(deps) != 1 || deps[0].ID.Name != "lib" {
		t.Fatalf("expected only the direct dependency [lib], got %v", namesOf(deps))
	}
}

func TestQueryDependentsUnlimitedDepth(t *testing.T) {
	g := buildChain()
	libc := g.Nodes[NodeID{Origin: "core", Name: "libc", Version: "1.0", Release: "20240101000000"}]
	q := Query{G: g}

	dependents := q.Dependents(libc, 0)
	if len(dependents) != 2 {
		t.Fatalf("expected 2 transitive dependents, got %d: %v", len(dependents), dependents)
	}
}

func TestQueryExcludesStartNode(t *testing.T) {
	g := buildChain()
	app := g.Nodes[NodeID{Origin: "core", Name: "app", Version: "1.0", Release: "20240101000000"}]
	q := Query{G: g}

	for _, n := range q.Dependencies(app, 0) {
		if n.ID == app.ID {
			t.Fatalf("expected the start node excluded from its own dependency list")
		}
	}
}

func namesOf(nodes []*Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.ID.Name)
	}
	return out
}

func TestBreakCyclesRemovesFeedbackArcs(t *testing.T) {
	g := New()
	a, b, c := node("a"), node("b"), node("c")
	g.addNode(a)
	g.addNode(b)
	g.addNode(c)
	g.addEdge(Edge{Src: a.ID, Dst: b.ID, Kind: Runtime})
	g.addEdge(Edge{Src: b.ID, Dst: c.ID, Kind: Runtime})
	g.addEdge(Edge{Src: c.ID, Dst: a.ID, Kind: Runtime}) // closes the cycle

	err := g.BreakCycles(IgnoreCycles)
	if err != nil {
		t.Fatalf("IgnoreCycles should not return an error, got %v", err)
	}
	if len(g.RemovedCycleEdges) == 0 {
		t.Fatalf("expected at least one removed cycle edge")
	}

	// the remaining graph must be acyclic: Transitive from a, following
	// only what's left, must never reach back to a.
	q := Query{G: g}
	deps := q.Dependencies(a, 0)
	for _, n := range deps {
		if n.ID == a.ID {
			t.Fatalf("graph still contains a cycle back to the start node after BreakCycles")
		}
	}
}

func TestBreakCyclesStrictReturnsError(t *testing.T) {
	g := New()
	a, b := node("a"), node("b")
	g.addNode(a)
	g.addNode(b)
	g.addEdge(Edge{Src: a.ID, Dst: b.ID, Kind: Runtime})
	g.addEdge(Edge{Src: b.ID, Dst: a.ID, Kind: Runtime})

	err := g.BreakCycles(StrictCycles)
	if err == nil {
		t.Fatalf("expected a *CycleError under StrictCycles")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
}

func TestNodesForDepTarget(t *testing.T) {
	g := New()
	target := identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}
	n := &Node{ID: NodeID{Origin: "core", Name: "app", Version: "1.0", Release: "20240101000000", Target: target}}
	g.addNode(n)

	dep, err := identity.ParseDep("core/app")
	if err != nil {
		t.Fatal(err)
	}
	dep.Target = target
	matches := g.NodesForDep(dep)
	if len(matches) != 1 || matches[0] != n {
		t.Fatalf("expected a single match for core/app, got %v", matches)
	}

	dep.Target = identity.Target{Arch: identity.ArchAArch64, OS: identity.OSLinux}
	if matches := g.NodesForDep(dep); len(matches) != 0 {
		t.Fatalf("expected no matches for a mismatched target, got %v", matches)
	}
}
