// Package change implements the staleness detector of spec.md §4.G:
// derives a cause list per recipe node from missing artifacts, on-disk or
// git-log file changes, and updated dependency artifacts, then propagates
// those causes over the dependency graph's reverse edges.
package change

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/habpkg/autobuild/internal/cache"
	"github.com/habpkg/autobuild/internal/depgraph"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/store"
	"golang.org/x/xerrors"
)

// Mode selects whether file staleness is judged from on-disk mtimes or
// from git log timestamps, per spec.md §4.G.
type Mode int

const (
	Disk Mode = iota
	Git
)

// BuildOrder selects how a DependencyStudioNeedsRebuild-only cause is
// treated during propagation, per spec.md §4.G.
type BuildOrder int

const (
	Relaxed BuildOrder = iota
	Strict
)

// CauseKind enumerates the staleness causes named in spec.md §4.G.
type CauseKind int

const (
	NoBuiltArtifact CauseKind = iota
	FilesChangedOnDisk
	FilesChangedOnGit
	DependencyArtifactsUpdated
	DependencyStudioNeedsRebuild
	DependencyPlansNeedRebuild
)

// Cause is one entry in a node's cause list. Detail carries the changed
// file paths, updated dependency names, or triggering plan names,
// depending on Kind.
type Cause struct {
	Kind   CauseKind
	Detail []string
}

// Result is the filtered subgraph change detection produces: a cause
// list per stale node, restricted to nodes reachable via the
// propagation step.
type Result struct {
	Causes map[depgraph.NodeID][]Cause
}

// FileLister lists every file in a recipe's context directory subject to
// staleness checks, respecting the platform-folder exclusion.
type FileLister func(recipeDir string, target identity.Target) ([]string, error)

// Detect walks every LocalPlan node in g, derives its direct causes, and
// propagates them over reverse Runtime/Build/Studio edges per spec.md
// §4.G, filtering DependencyStudioNeedsRebuild-only results under
// Relaxed order.
func Detect(ctx context.Context, g *depgraph.Graph, known *cache.Cache, st store.Store, mode Mode, order BuildOrder, listFiles FileLister) (*Result, error) {
	direct := map[depgraph.NodeID][]Cause{}

	for id, n := range g.Nodes {
		if n.Kind != depgraph.LocalPlan {
			continue
		}
		causes, err := directCauses(ctx, id, n, g, known, st, mode, listFiles)
		if err != nil {
			return nil, xerrors.Errorf("detect changes for %s/%s: %w", id.Origin, id.Name, err)
		}
		if len(causes) > 0 {
			direct[id] = causes
		}
	}

	propagated := propagate(g, direct)

	if order == Relaxed {
		for id, causes := range propagated {
			if onlyStudioCause(causes) {
				delete(propagated, id)
			}
		}
	}

	return &Result{Causes: propagated}, nil
}

func directCauses(ctx context.Context, id depgraph.NodeID, n *depgraph.Node, g *depgraph.Graph, known *cache.Cache, st store.Store, mode Mode, listFiles FileLister) ([]Cause, error) {
	buildID := identity.Ident{Origin: id.Origin, Name: id.Name, Version: id.Version, Target: id.Target}
	latest, ok := known.LatestForBuild(buildID, id.Target)
	if !ok {
		return []Cause{{Kind: NoBuiltArtifact}}, nil
	}

	var causes []Cause

	if listFiles != nil {
		files, err := listFiles(n.RecipeDir, id.Target)
		if err != nil {
			return nil, xerrors.Errorf("list files under %s: %w", n.RecipeDir, err)
		}
		var changed []string
		for _, f := range files {
			effective, err := effectiveModTime(ctx, f, n.RecipeDir, st, mode)
			if err != nil {
				return nil, err
			}
			if effective.After(latest.CreatedAt) {
				changed = append(changed, f)
			}
		}
		if len(changed) > 0 {
			sort.Strings(changed)
			if mode == Disk {
				causes = append(causes, Cause{Kind: FilesChangedOnDisk, Detail: changed})
			} else {
				causes = append(causes, Cause{Kind: FilesChangedOnGit, Detail: changed})
			}
		}
	}

	var updatedDeps []string
	for _, e := range g.Out[id] {
		if e.Kind != depgraph.Runtime && e.Kind != depgraph.Build {
			continue
		}
		neighbor := g.Nodes[e.Dst]
		if neighbor == nil {
			continue
		}
		neighborID := identity.Ident{Origin: e.Dst.Origin, Name: e.Dst.Name, Version: e.Dst.Version, Target: e.Dst.Target}
		neighborLatest, ok := known.LatestForBuild(neighborID, e.Dst.Target)
		if !ok {
			continue
		}
		if neighborLatest.CreatedAt.After(latest.CreatedAt) {
			updatedDeps = append(updatedDeps, e.Dst.Origin+"/"+e.Dst.Name)
		}
	}
	if len(updatedDeps) > 0 {
		sort.Strings(updatedDeps)
		causes = append(causes, Cause{Kind: DependencyArtifactsUpdated, Detail: dedupe(updatedDeps)})
	}

	return causes, nil
}

// effectiveModTime resolves the effective timestamp for a file per
// spec.md §4.G: consult the store for a recorded override keyed by
// (context path, file path, real mtime); fall back to the real mtime (or
// the git log timestamp under Git mode).
func effectiveModTime(ctx context.Context, file, recipeDir string, st store.Store, mode Mode) (time.Time, error) {
	real, err := realModTime(file)
	if err != nil {
		return time.Time{}, xerrors.Errorf("stat %s: %w", file, err)
	}
	if st != nil {
		if override, ok, err := st.GetFileModification(ctx, recipeDir, file, real); err == nil && ok {
			return override, nil
		}
	}
	if mode == Git {
		return gitLogModTime(file, real)
	}
	return real, nil
}

func realModTime(file string) (time.Time, error) {
	fi, err := os.Stat(file)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func gitLogModTime(file string, fallback time.Time) (time.Time, error) {
	out, err := exec.Command("git", "log", "-1", "--pretty=%ci", file).Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05 -0700", strings.TrimSpace(string(out)))
	if err != nil {
		return fallback, nil
	}
	return t, nil
}

// propagate pops causes breadth-first over reverse Runtime/Build/Studio
// edges, merging DependencyPlansNeedRebuild by edge kind and recording
// DependencyStudioNeedsRebuild separately, per spec.md §4.G.
func propagate(g *depgraph.Graph, direct map[depgraph.NodeID][]Cause) map[depgraph.NodeID][]Cause {
	result := map[depgraph.NodeID][]Cause{}
	for id, causes := range direct {
		result[id] = append([]Cause{}, causes...)
	}

	queue := make([]depgraph.NodeID, 0, len(direct))
	for id := range direct {
		queue = append(queue, id)
	}

	plansNeeded := map[depgraph.NodeID]map[string]bool{}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.In[n] {
			if e.Kind != depgraph.Runtime && e.Kind != depgraph.Build && e.Kind != depgraph.Studio {
				continue
			}
			r := e.Src
			triggerName := n.Origin + "/" + n.Name
			if e.Kind == depgraph.Studio {
				if !hasCause(result[r], DependencyStudioNeedsRebuild) {
					result[r] = append(result[r], Cause{Kind: DependencyStudioNeedsRebuild, Detail: []string{triggerName}})
					queue = append(queue, r)
				}
				continue
			}
			set, ok := plansNeeded[r]
			if !ok {
				set = map[string]bool{}
				plansNeeded[r] = set
			}
			if !set[triggerName] {
				set[triggerName] = true
				var plans []string
				for p := range set {
					plans = append(plans, p)
				}
				sort.Strings(plans)
				result[r] = setCause(result[r], Cause{Kind: DependencyPlansNeedRebuild, Detail: plans})
				queue = append(queue, r)
			}
		}
	}

	return result
}

func setCause(causes []Cause, c Cause) []Cause {
	for i, existing := range causes {
		if existing.Kind == c.Kind {
			causes[i] = c
			return causes
		}
	}
	return append(causes, c)
}

func hasCause(causes []Cause, k CauseKind) bool {
	for _, c := range causes {
		if c.Kind == k {
			return true
		}
	}
	return false
}

func onlyStudioCause(causes []Cause) bool {
	if len(causes) != 1 {
		return false
	}
	return causes[0].Kind == DependencyStudioNeedsRebuild
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// PlatformFolderExcluded reports whether p lies inside a habitat/<target>
// subfolder that does not match the recipe's own target, per the Open
// Question (a) decision recorded in SPEC_FULL.md §4: this exclusion
// applies identically under both Disk and Git modes.
func PlatformFolderExcluded(p string, target identity.Target) bool {
	parts := strings.Split(filepath.ToSlash(p), "/")
	for i, part := range parts {
		if part != "habitat" || i+1 >= len(parts) {
			continue
		}
		folderTarget, err := identity.ParseTarget(parts[i+1])
		if err != nil {
			continue
		}
		if folderTarget != target {
			return true
		}
	}
	return false
}
