package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/audit"
	"github.com/habpkg/autobuild/internal/cache"
	"github.com/habpkg/autobuild/internal/change"
	"github.com/habpkg/autobuild/internal/depgraph"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/scan"
	"github.com/habpkg/autobuild/internal/schedule"
	"github.com/habpkg/autobuild/internal/store"
	"github.com/habpkg/autobuild/internal/store/sqlite"
	"github.com/habpkg/autobuild/internal/studio"
	"golang.org/x/xerrors"
)

// env bundles the wired-up core components every verb operates on,
// assembled once per invocation from config.
type env struct {
	cfg    *config
	st     store.Store
	known  *cache.Cache
	g      *depgraph.Graph
	recipes []scan.RecipeContext
	target identity.Target
}

func setup(ctx context.Context, cfg *config) (*env, error) {
	target, err := cfg.target()
	if err != nil {
		return nil, err
	}

	st, err := sqlite.Open(filepath.Join(cfg.StoreDir, "hab-auto-build.sqlite"))
	if err != nil {
		return nil, xerrors.Errorf("opening store: %w", err)
	}

	extractor := artifact.ShellLicenseExtractor{}
	known, err := cache.Scan(ctx, filepath.Join(cfg.StoreDir, "artifacts"), cfg.Root, st, extractor, cfg.Workers)
	if err != nil {
		st.Close()
		return nil, xerrors.Errorf("scanning known artifacts: %w", err)
	}

	var recipes []scan.RecipeContext
	for _, dir := range cfg.RepoDirs {
		rcs, err := scan.Walk(ctx, dir, scan.ShellMetadataExtractor{}, cfg.Workers)
		if err != nil {
			st.Close()
			return nil, xerrors.Errorf("scanning recipes under %s: %w", dir, err)
		}
		recipes = append(recipes, rcs...)
	}
	for _, rc := range recipes {
		if rc.Err != nil {
			log.Printf("skipping %s/%s: %v", rc.Origin, rc.Name, rc.Err)
		}
	}

	recipeDeps, err := depgraph.FromRecipeContexts(recipes, target)
	if err != nil {
		st.Close()
		return nil, xerrors.Errorf("converting recipes to graph inputs: %w", err)
	}

	standardDep, bootstrapDep, err := cfg.studioIdentities()
	if err != nil {
		st.Close()
		return nil, err
	}
	standardDep.Target, bootstrapDep.Target = target, target

	g, err := depgraph.Build(recipeDeps, known, depgraph.StudioIdentities{Standard: standardDep, Bootstrap: bootstrapDep})
	if err != nil {
		st.Close()
		return nil, xerrors.Errorf("building dependency graph: %w", err)
	}

	cycleMode := depgraph.IgnoreCycles
	if !cfg.IgnoreCycles {
		cycleMode = depgraph.StrictCycles
	}
	if err := g.BreakCycles(cycleMode); err != nil {
		if _, fatal := err.(*depgraph.CycleError); fatal {
			st.Close()
			return nil, xerrors.Errorf("breaking cycles: %w", err)
		}
	}

	return &env{cfg: cfg, st: st, known: known, g: g, recipes: recipes, target: target}, nil
}

func (e *env) close() { e.st.Close() }

func defaultFileLister(recipeDir string, target identity.Target) ([]string, error) {
	var out []string
	err := filepath.Walk(recipeDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if change.PlatformFolderExcluded(p, target) {
			return nil
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (e *env) detectChanges(ctx context.Context) (*change.Result, error) {
	mode := change.Disk
	if e.cfg.ChangeMode == "git" {
		mode = change.Git
	}
	order := change.Relaxed
	if e.cfg.BuildOrder == "strict" {
		order = change.Strict
	}
	return change.Detect(ctx, e.g, e.known, e.st, mode, order, defaultFileLister)
}

func cmdChanges(ctx context.Context, cfg *config, args []string) error {
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	result, err := e.detectChanges(ctx)
	if err != nil {
		return xerrors.Errorf("detecting changes: %w", err)
	}
	if len(result.Causes) == 0 {
		fmt.Println("no stale recipes")
		return nil
	}
	for id, causes := range result.Causes {
		fmt.Printf("%s/%s/%s/%s:\n", id.Origin, id.Name, id.Version, id.Release)
		for _, c := range causes {
			fmt.Printf("  %v %v\n", c.Kind, c.Detail)
		}
	}
	return nil
}

func cmdBuild(ctx context.Context, cfg *config, args []string) error {
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	result, err := e.detectChanges(ctx)
	if err != nil {
		return xerrors.Errorf("detecting changes: %w", err)
	}
	if len(result.Causes) == 0 {
		log.Println("nothing to build")
		return nil
	}

	standardDep, bootstrapDep, err := cfg.studioIdentities()
	if err != nil {
		return err
	}
	studioIDs := studio.Identities{
		Standard:  depgraph.NodeID{Origin: standardDep.Origin, Name: standardDep.Name, Version: standardDep.Version, Release: standardDep.Release, Target: e.target},
		Bootstrap: depgraph.NodeID{Origin: bootstrapDep.Origin, Name: bootstrapDep.Name, Version: bootstrapDep.Version, Release: bootstrapDep.Release, Target: e.target},
	}

	sCfg := studio.Config{
		HabBinary:       cfg.HabBinary,
		HabStudioBinary: cfg.HabStudioBinary,
		WorkRoot:        filepath.Join(cfg.StoreDir, "tmp"),
		SuccessLogDir:   filepath.Join(cfg.StoreDir, "build-success-logs"),
		FailureLogDir:   filepath.Join(cfg.StoreDir, "build-failure-logs"),
		AllowRemote:     cfg.AllowRemote,
		Store:           e.st,
	}

	factory := func(n *depgraph.Node, kind studio.Kind) (*studio.Driver, error) {
		var transitive []string
		deps := e.g.Transitive([]*depgraph.Node{n}, map[depgraph.EdgeKind]bool{depgraph.Runtime: true, depgraph.Build: true}, depgraph.Forward, false, false)
		for _, d := range deps {
			transitive = append(transitive, fmt.Sprintf("%s/%s/%s/%s", d.ID.Origin, d.ID.Name, d.ID.Version, d.ID.Release))
		}
		return &studio.Driver{Kind: kind, Cfg: sCfg, RecipeContext: n.RecipeDir, Transitive: transitive}, nil
	}
	selector := studio.NewSelector(studioIDs, factory)

	sr, err := schedule.Run(ctx, e.g, result, e.known, selector, cfg.Workers, log.New(os.Stderr, "[build] ", log.LstdFlags))
	if err != nil {
		return xerrors.Errorf("running scheduler: %w", err)
	}

	log.Printf("built %d recipe(s)", len(sr.Built))
	if len(sr.Unbuildable) > 0 {
		for id, err := range sr.Unbuildable {
			log.Printf("unbuildable: %s/%s: %v", id.Origin, id.Name, err)
		}
		return xerrors.Errorf("%d recipe(s) failed to build", len(sr.Unbuildable))
	}
	return nil
}

func cmdCheck(ctx context.Context, cfg *config, args []string) error {
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	engine := audit.Engine{Rules: cfg.ruleConfig()}
	closure := make(artifact.Closure)
	e.known.Each(func(ac *artifact.Context) {
		closure[ac.Identity] = ac
	})

	recipeLicenses := map[identity.Ident][]string{}
	recipeRuleOverrides := map[identity.Ident]audit.RuleConfig{}
	for _, rc := range e.recipes {
		if rc.Metadata == nil {
			continue
		}
		id := identity.Ident{Origin: rc.Origin, Name: rc.Name, Version: rc.Metadata.Version, Release: rc.Metadata.Release}
		recipeLicenses[id] = rc.Metadata.Licenses
		if len(rc.Metadata.RuleOverrides) > 0 {
			recipeRuleOverrides[id] = audit.ParseRuleConfig(rc.Metadata.RuleOverrides)
		}
	}

	warn := color.New(color.FgYellow).SprintFunc()
	errLevel := color.New(color.FgRed).SprintFunc()

	failed := false
	e.known.Each(func(ac *artifact.Context) {
		tdeps := make(artifact.Closure, len(ac.TransitiveRuntimeDeps))
		for _, id := range ac.TransitiveRuntimeDeps {
			if dep, ok := closure[id]; ok {
				tdeps[id] = dep
			}
		}
		violations := engine.Run(cfg.Root, ac.Target, tdeps, ac, recipeLicenses[ac.Identity], recipeRuleOverrides[ac.Identity])
		for _, v := range violations {
			var levelText string
			switch v.Level {
			case audit.Error:
				failed = true
				levelText = errLevel(v.Level.String())
			case audit.Warn:
				levelText = warn(v.Level.String())
			default:
				levelText = v.Level.String()
			}
			fmt.Printf("[%s] %s/%s: %s: %s\n", levelText, ac.Identity.Origin, ac.Identity.Name, v.RuleID, v.Message)
		}
	})
	if failed {
		return xerrors.Errorf("audit found error-level violations")
	}
	return nil
}

func cmdAnalyze(ctx context.Context, cfg *config, args []string) error {
	if len(args) < 1 {
		return xerrors.Errorf("usage: analyze <origin/name> [depth]")
	}
	e, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close()

	dep, err := identity.ParseDep(args[0])
	if err != nil {
		return xerrors.Errorf("parsing %q: %w", args[0], err)
	}
	dep.Target = e.target
	matches := e.g.NodesForDep(dep)
	if len(matches) == 0 {
		return xerrors.Errorf("no node matches %q", args[0])
	}

	q := depgraph.Query{G: e.g}
	for _, n := range matches {
		deps := q.Dependencies(n, 0)
		dependents := q.Dependents(n, 0)
		fmt.Printf("%s/%s/%s/%s\n", n.ID.Origin, n.ID.Name, n.ID.Version, n.ID.Release)
		fmt.Printf("  depends on %d node(s)\n", len(deps))
		fmt.Printf("  depended on by %d node(s)\n", len(dependents))

		buildIdent := fmt.Sprintf("%s/%s/%s", n.ID.Origin, n.ID.Name, n.ID.Version)
		if d, ok, err := e.st.GetBuildDuration(ctx, buildIdent); err != nil {
			log.Printf("reading build duration for %s: %v", buildIdent, err)
		} else if ok {
			fmt.Printf("  last build took %s\n", d.Round(time.Second))
		}
	}
	return nil
}
