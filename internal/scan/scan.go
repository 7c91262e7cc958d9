// Package scan walks a recipes directory in parallel, recognizing recipe
// contexts and invoking a replaceable MetadataExtractor for each one,
// grounded on cmd/zi/ninja.go's sequential "read pkgsDir, parse each
// package's build file" loop and internal/build's errgroup-based parallel
// filepath.Walk pattern.
package scan

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/habpkg/autobuild/internal/audit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// RecipeContext is one discovered recipe, carrying everything the
// dependency graph needs to build a LocalPlan node without re-reading the
// filesystem.
type RecipeContext struct {
	// Origin/Name identify the recipe the way an Ident's first two
	// segments would, derived from its directory layout
	// pkgs/<origin>/<name>/recipe.sh.
	Origin string
	Name   string

	// Dir is the recipe's own directory, containing recipe.sh and any
	// patches/helper files.
	Dir string

	// RecipeSource is the raw contents of recipe.sh.
	RecipeSource string

	// Metadata is whatever MetadataExtractor recovered from the recipe
	// (version, build/runtime deps, licenses); nil if extraction failed.
	Metadata *Metadata

	// Err records a scan failure local to this recipe; per spec.md §4.E
	// a single recipe's failure does not abort the whole scan.
	Err error
}

// Metadata is the structured output a MetadataExtractor recovers from a
// recipe source by evaluating it, analogous to internal/artifact's
// LicenseExtractor but covering the full recipe, not just the plan
// source fragment embedded in a built MANIFEST.
type Metadata struct {
	Version      string
	Release      string
	Native       bool
	BuildDeps    []string
	RuntimeDeps  []string
	StudioDeps   []string
	Licenses     []string

	// RuleOverrides is this recipe's own optional narrowing/relaxing of
	// audit rule levels and exemptions, keyed by rule id, per SPEC_FULL.md
	// §3 "rule configuration overrides per recipe context". Empty when the
	// recipe declares none.
	RuleOverrides map[string]audit.RuleOverrideSpec
}

// MetadataExtractor evaluates a recipe and reports its declared metadata.
// The default implementation spawns an external shell; tests substitute
// an in-process implementation reading fixtures, per spec.md §9.
type MetadataExtractor interface {
	Extract(ctx context.Context, recipeDir, recipeSource string) (*Metadata, error)
}

// recipeFileName is the fixed recipe entry point looked for in every leaf
// directory two levels below the root, mirroring pkgs/<origin>/<name>/.
const recipeFileName = "recipe.sh"

// Walk discovers every recipe under root (expected layout
// root/<origin>/<name>/recipe.sh) and runs extractor over each
// concurrently, using up to workers goroutines. Per-recipe errors are
// attached to that RecipeContext rather than aborting the scan; Walk
// itself only fails on a root-level I/O error.
func Walk(ctx context.Context, root string, extractor MetadataExtractor, workers int) ([]RecipeContext, error) {
	if workers <= 0 {
		workers = 8
	}

	origins, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, xerrors.Errorf("read recipes root %s: %w", root, err)
	}

	type leaf struct {
		origin, name, dir string
	}
	var leaves []leaf
	for _, originFI := range origins {
		if !originFI.IsDir() {
			continue
		}
		originDir := filepath.Join(root, originFI.Name())
		names, err := ioutil.ReadDir(originDir)
		if err != nil {
			return nil, xerrors.Errorf("read origin dir %s: %w", originDir, err)
		}
		for _, nameFI := range names {
			if !nameFI.IsDir() {
				continue
			}
			dir := filepath.Join(originDir, nameFI.Name())
			if _, err := os.Stat(filepath.Join(dir, recipeFileName)); err != nil {
				continue // not a recipe directory, e.g. a stray file
			}
			leaves = append(leaves, leaf{origin: originFI.Name(), name: nameFI.Name(), dir: dir})
		}
	}

	var (
		mu      sync.Mutex
		results = make([]RecipeContext, 0, len(leaves))
	)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	for _, l := range leaves {
		l := l
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			rc := RecipeContext{Origin: l.origin, Name: l.name, Dir: l.dir}
			raw, err := ioutil.ReadFile(filepath.Join(l.dir, recipeFileName))
			if err != nil {
				rc.Err = xerrors.Errorf("read %s: %w", recipeFileName, err)
			} else {
				rc.RecipeSource = string(raw)
				md, err := extractor.Extract(gctx, l.dir, rc.RecipeSource)
				if err != nil {
					rc.Err = xerrors.Errorf("extract metadata for %s/%s: %w", l.origin, l.name, err)
				} else {
					rc.Metadata = md
				}
			}
			mu.Lock()
			results = append(results, rc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Origin != results[j].Origin {
			return results[i].Origin < results[j].Origin
		}
		return results[i].Name < results[j].Name
	})
	return results, nil
}
