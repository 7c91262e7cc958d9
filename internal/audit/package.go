package audit

import (
	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// PackageBefore implements spec.md §4.J's pre-pass: it computes
// duplicate deps, reports empty top-level directories and broken links,
// and builds the CheckerContext's transitive-dep artifact map and
// runtime-path artifact list that the binary/script checks and
// PackageAfter consume. The artifact cache lookup is injected via
// cctx.Closure, which the caller must have already populated from the
// artifact cache before running the pipeline (see Engine.Run).
func PackageBefore(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	var out []Violation
	emit := func(ruleID, file, msg string, payload map[string]interface{}) {
		if rules.fileIgnored(ruleID, file) {
			return
		}
		level := rules.levelFor(ruleID)
		if level == Off {
			return
		}
		out = append(out, Violation{RuleID: ruleID, Level: level, File: file, Message: msg, Payload: payload})
	}

	buildDepSet := map[identity.Ident]bool{}
	for _, d := range ac.BuildDeps {
		buildDepSet[d] = true
	}
	for _, d := range ac.RuntimeDeps {
		if buildDepSet[d] {
			emit(RuleDuplicateDependency, "", "dependency declared in both deps and build_deps: "+d.String(), map[string]interface{}{"dependency": d.String()})
		}
	}

	for dir := range ac.EmptyTopLevelDirs {
		emit(RuleEmptyTopLevelDirectory, dir, "top-level package directory is empty", nil)
	}
	for link, target := range ac.BrokenLinks {
		emit(RuleBrokenLink, link, "link target leaves every /pkgs/... prefix: "+target, map[string]interface{}{"target": target})
	}

	cctx.UnusedDeps = map[identity.Ident]bool{}
	for _, id := range ac.TransitiveRuntimeDeps {
		depCtx, known := cctx.Closure[id]
		if !known {
			emit(RuleMissingDependencyArtifact, "", "transitive dependency has no known artifact: "+id.String(), map[string]interface{}{"dependency": id.String()})
			continue
		}
		cctx.TransitiveDepArtifacts[id] = depCtx
		cctx.UnusedDeps[id] = true
	}

	for _, dir := range ac.RuntimePath {
		if !identity.IsPackagePath(cctx.Root, dir) {
			emit(RuleBadRuntimePathEntry, "", "runtime path entry is not a package path: "+dir, map[string]interface{}{"entry": dir})
			continue
		}
		owner, ok := cctx.Closure.OwningPackage(cctx.Root, dir)
		if !ok {
			emit(RuleMissingRuntimePathEntryDependency, "", "runtime path entry's owning package is not a transitive dependency: "+dir, map[string]interface{}{"entry": dir})
			continue
		}
		cctx.RuntimeArtifacts = append(cctx.RuntimeArtifacts, cctx.Closure[owner])
	}

	return out
}

// PackageAfter implements spec.md §4.J's post-pass: it reports whatever
// the binary and script checks left in cctx.UnusedDeps, and flags
// runtime binaries that appear, by base name, in more than one runtime
// path package.
func PackageAfter(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	var out []Violation
	emit := func(ruleID, msg string, payload map[string]interface{}) {
		level := rules.levelFor(ruleID)
		if level == Off {
			return
		}
		out = append(out, Violation{RuleID: ruleID, Level: level, Message: msg, Payload: payload})
	}

	for id := range cctx.UnusedDeps {
		emit(RuleUnusedDependency, "declared transitive dependency is never resolved by any library, interpreter, or script check: "+id.String(), map[string]interface{}{"dependency": id.String()})
	}

	seen := map[string]identity.Ident{}
	for _, depCtx := range cctx.RuntimeArtifacts {
		for file, meta := range depCtx.ELF {
			if !meta.IsExecutable {
				continue
			}
			name := baseName(file)
			if owner, dup := seen[name]; dup && !identity.Equal(owner, depCtx.Identity) {
				emit(RuleDuplicateRuntimeBinary, "runtime binary "+name+" is provided by more than one runtime path package: "+owner.String()+", "+depCtx.Identity.String(), map[string]interface{}{"binary": name})
			} else {
				seen[name] = depCtx.Identity
			}
		}
	}

	return out
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
