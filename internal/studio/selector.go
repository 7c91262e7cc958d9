package studio

import (
	"github.com/habpkg/autobuild/internal/depgraph"
	"github.com/habpkg/autobuild/internal/schedule"
	"golang.org/x/xerrors"
)

// Bootstrap and Standard name the two distinguished studio identities a
// graph's Studio edges point at, so the selector can tell them apart by
// destination rather than re-deriving closures.
type Identities struct {
	Bootstrap depgraph.NodeID
	Standard  depgraph.NodeID
}

// Factory builds a *Driver for a node once its Kind is known, supplying
// the recipe context path, prebuilt dependency artifact paths and
// transitive dep identity strings a real invocation needs.
type Factory func(n *depgraph.Node, kind Kind) (*Driver, error)

// NewSelector returns a schedule.DriverSelector that inspects a node's
// IsNative flag and, for non-native recipes, its outgoing Studio edge
// destination, to pick Native/Bootstrap/Standard per spec.md §4.H.
func NewSelector(ids Identities, build Factory) schedule.DriverSelector {
	return func(g *depgraph.Graph, n *depgraph.Node) (schedule.Driver, error) {
		if n.IsNative {
			return build(n, NativeKind)
		}
		for _, e := range g.Out[n.ID] {
			if e.Kind != depgraph.Studio {
				continue
			}
			switch e.Dst {
			case ids.Bootstrap:
				return build(n, BootstrapKind)
			case ids.Standard:
				return build(n, StandardKind)
			default:
				return nil, xerrors.Errorf("%s/%s: studio edge names unknown identity", n.ID.Origin, n.ID.Name)
			}
		}
		return nil, xerrors.Errorf("%s/%s: non-native recipe has no studio edge", n.ID.Origin, n.ID.Name)
	}
}
