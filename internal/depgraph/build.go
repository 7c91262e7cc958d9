package depgraph

import (
	"github.com/habpkg/autobuild/internal/cache"
	"github.com/habpkg/autobuild/internal/identity"
)

// RecipeDeps is the dependency lists one scanned recipe contributes to
// graph construction, derived from its scan.Metadata.
type RecipeDeps struct {
	ID         NodeID
	RecipeDir  string
	IsNative   bool
	BuildDeps  []identity.DepIdent
	RuntimeDeps []identity.DepIdent
	StudioDeps []identity.DepIdent
}

// StudioIdentities holds the two distinguished dependency
// identities every non-native recipe's Studio edge resolves against, per
// spec.md §4.F.
type StudioIdentities struct {
	Standard  identity.DepIdent
	Bootstrap identity.DepIdent
}

func depNodeID(d identity.DepIdent) NodeID {
	return NodeID{Origin: d.Origin, Name: d.Name, Version: d.Version, Release: d.Release, Target: d.Target}
}

// Build constructs the dependency graph from scanned local recipes plus a
// known-artifact cache: one node per recipe, one node per dependency
// identity referenced by any recipe (resolved against local recipes and
// the cache before falling back to a RemoteDep placeholder), Runtime/Build
// edges per recipe, and Studio edges attached per the standard/bootstrap
// closure rule.
func Build(recipes []RecipeDeps, known *cache.Cache, studios StudioIdentities) (*Graph, error) {
	g := New()

	localByName := map[string]NodeID{}
	for _, r := range recipes {
		g.addNode(&Node{ID: r.ID, Kind: LocalPlan, RecipeDir: r.RecipeDir, IsNative: r.IsNative})
		localByName[r.ID.Origin+"/"+r.ID.Name] = r.ID
	}

	resolve := func(d identity.DepIdent) NodeID {
		if local, ok := localByName[d.Origin+"/"+d.Name]; ok {
			if d.Matches(identity.Ident{Origin: local.Origin, Name: local.Name, Version: local.Version, Release: local.Release}) {
				return local
			}
		}
		if known != nil {
			if ac, ok := known.LatestForDep(d); ok {
				return NodeID{Origin: ac.Identity.Origin, Name: ac.Identity.Name, Version: ac.Identity.Version, Release: ac.Identity.Release, Target: ac.Target}
			}
		}
		id := depNodeID(d)
		if _, exists := g.Nodes[id]; !exists {
			g.addNode(&Node{ID: id, Kind: RemoteDep})
		}
		return id
	}

	for _, r := range recipes {
		for _, d := range r.RuntimeDeps {
			dst := resolve(d)
			if _, ok := g.Nodes[dst]; !ok {
				g.addNode(&Node{ID: dst, Kind: ResolvedDep})
			}
			g.addEdge(Edge{Src: r.ID, Dst: dst, Kind: Runtime})
		}
		for _, d := range r.BuildDeps {
			dst := resolve(d)
			if _, ok := g.Nodes[dst]; !ok {
				g.addNode(&Node{ID: dst, Kind: ResolvedDep})
			}
			g.addEdge(Edge{Src: r.ID, Dst: dst, Kind: Build})
		}
		// Scaffolding/studio deps declared directly by the recipe fold
		// into Build edges, per spec.md §4.F "scaffolding dep folded in
		// as Build".
		for _, d := range r.StudioDeps {
			dst := resolve(d)
			if _, ok := g.Nodes[dst]; !ok {
				g.addNode(&Node{ID: dst, Kind: ResolvedDep})
			}
			g.addEdge(Edge{Src: r.ID, Dst: dst, Kind: Build})
		}
	}

	return g, attachStudios(g, resolve(studios.Standard), resolve(studios.Bootstrap))
}

// attachStudios computes the transitive closures of the standard and
// bootstrap studio nodes under Runtime∪Build edges. A non-native recipe in
// the bootstrap closure is a FatalConfigError; one in the standard closure
// gets a Studio edge to the bootstrap studio; every other non-native
// recipe gets a Studio edge to the standard studio, per spec.md §4.F.
func attachStudios(g *Graph, standard, bootstrap NodeID) error {
	standardClosure := closureUnder(g, standard, map[EdgeKind]bool{Runtime: true, Build: true})
	bootstrapClosure := closureUnder(g, bootstrap, map[EdgeKind]bool{Runtime: true, Build: true})

	for id, n := range g.Nodes {
		if n.Kind != LocalPlan || n.IsNative {
			continue
		}
		if id == standard || id == bootstrap {
			continue
		}
		switch {
		case bootstrapClosure[id]:
			return &FatalConfigError{Node: id, StandardClosure: setToSlice(standardClosure), BootstrapClosure: setToSlice(bootstrapClosure)}
		case standardClosure[id]:
			// Recipes reachable from the standard studio's own
			// dependency closure must themselves build with the
			// bootstrap studio to avoid using themselves to build
			// themselves.
			g.addEdge(Edge{Src: id, Dst: bootstrap, Kind: Studio})
		default:
			g.addEdge(Edge{Src: id, Dst: standard, Kind: Studio})
		}
	}
	return nil
}

// FatalConfigError reports a non-native recipe found in the bootstrap
// studio's own transitive closure, an unbuildable configuration per
// spec.md §4.F.
type FatalConfigError struct {
	Node             NodeID
	StandardClosure  []NodeID
	BootstrapClosure []NodeID
}

func (e *FatalConfigError) Error() string {
	return "recipe " + e.Node.Origin + "/" + e.Node.Name + " is non-native but appears in the bootstrap studio's own dependency closure"
}

func closureUnder(g *Graph, start NodeID, kinds map[EdgeKind]bool) map[NodeID]bool {
	seen := map[NodeID]bool{}
	queue := []NodeID{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, e := range g.Out[n] {
			if kinds[e.Kind] && !seen[e.Dst] {
				queue = append(queue, e.Dst)
			}
		}
	}
	return seen
}

func setToSlice(m map[NodeID]bool) []NodeID {
	out := make([]NodeID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
