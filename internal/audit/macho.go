package audit

import (
	"path"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// MachOCheck implements spec.md §4.J's Mach-O check: analogous to the ELF
// check, but with @loader_path/@executable_path/@rpath token
// substitution and a system-library/system-dir allowance.
func MachOCheck(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	var violations []Violation
	for file, meta := range ac.MachO {
		for _, a := range meta.Archs {
			violations = append(violations, checkMachOArch(rules, cctx, ac, file, a)...)
		}
	}
	return violations
}

func checkMachOArch(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context, file string, a artifact.MachOArch) []Violation {
	var out []Violation
	emit := func(ruleID, msg string, payload map[string]interface{}) {
		if rules.fileIgnored(ruleID, file) {
			return
		}
		level := rules.levelFor(ruleID)
		if level == Off {
			return
		}
		out = append(out, Violation{RuleID: ruleID, Level: level, File: file, Message: msg, Payload: payload})
	}

	loaderDir := path.Dir(file)
	usedDirs := map[string]bool{}

	for _, lib := range a.RequiredLibraries {
		if artifact.IsMachOSystemPath(lib) {
			continue
		}
		candidates := artifact.SubstituteMachOTokens(lib, loaderDir, loaderDir, a.RPath)
		found := false
		for _, candidate := range candidates {
			if !identity.IsPackagePath(cctx.Root, candidate) {
				continue
			}
			owner, err := artifact.OwnedPrefix(cctx.Root, candidate)
			if err != nil {
				continue
			}
			ownerCtx, known := cctx.Closure[owner]
			if !known {
				emit(RuleMissingLibraryDependency, "Mach-O required library's owning package is not a transitive dependency: "+candidate, map[string]interface{}{"library": lib, "resolved": candidate})
				found = true // reported, don't also emit "not found"
				break
			}
			resolved := artifact.Resolve(cctx.Root, cctx.Closure, candidate, nil)
			resolvedArchs, ok := ownerCtx.MachO[resolved]
			if !ok {
				continue
			}
			match := false
			for _, ra := range resolvedArchs.Archs {
				if ra.FileType == artifact.MachODynamicLibrary || ra.FileType == artifact.MachODynamicLibraryStub {
					match = true
					break
				}
			}
			if !match {
				continue
			}
			found = true
			cctx.markUsed(owner)
			for _, dir := range a.RPath {
				if resolveRPathDir(dir, loaderDir, loaderDir, a.RPath) == path.Dir(candidate) {
					usedDirs[dir] = true
				}
			}
			break
		}
		if !found {
			emit(RuleLibraryDependencyNotFound, "required Mach-O library not found: "+lib, map[string]interface{}{"library": lib})
		}
	}

	for _, dir := range a.RPath {
		if !usedDirs[dir] && !rules.entryIgnored(RuleUnusedRPathEntry, dir) {
			emit(RuleUnusedRPathEntry, "rpath entry unused by any required library: "+dir, map[string]interface{}{"entry": dir})
		}
	}

	return out
}

func resolveRPathDir(dir, loaderDir, executableDir string, rpaths []string) string {
	subs := artifact.SubstituteMachOTokens(dir, loaderDir, executableDir, rpaths)
	if len(subs) > 0 {
		return subs[0]
	}
	return dir
}
