package depgraph

import (
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/scan"
	"golang.org/x/xerrors"
)

// FromRecipeContexts converts scanned recipe contexts into the
// RecipeDeps form Build expects, parsing each declared dependency string
// with identity.ParseDep and skipping recipes that failed to scan.
func FromRecipeContexts(recipes []scan.RecipeContext, target identity.Target) ([]RecipeDeps, error) {
	out := make([]RecipeDeps, 0, len(recipes))
	for _, rc := range recipes {
		if rc.Err != nil || rc.Metadata == nil {
			continue
		}
		rd := RecipeDeps{
			ID: NodeID{
				Origin:  rc.Origin,
				Name:    rc.Name,
				Version: rc.Metadata.Version,
				Release: rc.Metadata.Release,
				Target:  target,
			},
			RecipeDir: rc.Dir,
			IsNative:  rc.Metadata.Native,
		}
		var err error
		if rd.BuildDeps, err = parseDeps(rc.Metadata.BuildDeps, target); err != nil {
			return nil, xerrors.Errorf("%s/%s: build deps: %w", rc.Origin, rc.Name, err)
		}
		if rd.RuntimeDeps, err = parseDeps(rc.Metadata.RuntimeDeps, target); err != nil {
			return nil, xerrors.Errorf("%s/%s: runtime deps: %w", rc.Origin, rc.Name, err)
		}
		if rd.StudioDeps, err = parseDeps(rc.Metadata.StudioDeps, target); err != nil {
			return nil, xerrors.Errorf("%s/%s: studio deps: %w", rc.Origin, rc.Name, err)
		}
		out = append(out, rd)
	}
	return out, nil
}

func parseDeps(raw []string, target identity.Target) ([]identity.DepIdent, error) {
	out := make([]identity.DepIdent, 0, len(raw))
	for _, s := range raw {
		d, err := identity.ParseDep(s)
		if err != nil {
			return nil, err
		}
		d.Target = target
		out = append(out, d)
	}
	return out, nil
}
