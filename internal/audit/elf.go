package audit

import (
	"path"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// ELFCheck implements spec.md §4.J's ELF check: per ELF file, resolve the
// interpreter and every required library through rpath/runpath across
// package boundaries, and flag unused search-path entries afterward.
func ELFCheck(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	var violations []Violation
	for file, meta := range ac.ELF {
		violations = append(violations, checkELFFile(rules, cctx, ac, file, meta)...)
	}
	return violations
}

func checkELFFile(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context, file string, meta artifact.ELFMeta) []Violation {
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

	if meta.Interpreter != "" {
		if meta.Type == artifact.ELFSharedLib {
			emit(RuleUnexpectedInterpreter, "shared library carries an ELF interpreter", nil)
		}
		if !identity.IsPackagePath(cctx.Root, meta.Interpreter) {
			emit(RuleHostInterpreter, "ELF interpreter is not a package path: "+meta.Interpreter, map[string]interface{}{"interpreter": meta.Interpreter})
		} else if owner, err := artifact.OwnedPrefix(cctx.Root, meta.Interpreter); err == nil {
			ownerCtx, known := cctx.Closure[owner]
			if !known && !identity.Equal(owner, ac.Identity) {
				emit(RuleMissingInterpreterDependency, "ELF interpreter's owning package is not a transitive dependency", map[string]interface{}{"interpreter": meta.Interpreter})
			} else if known {
				resolved := artifact.Resolve(cctx.Root, cctx.Closure, meta.Interpreter, nil)
				if _, isELF := ownerCtx.ELF[resolved]; !isELF {
					emit(RuleInterpreterNotFound, "resolved ELF interpreter does not exist as an ELF file", map[string]interface{}{"interpreter": meta.Interpreter, "resolved": resolved})
				} else {
					cctx.markUsed(owner)
				}
			}
		}
	}

	usedDirs := map[string]bool{}
	for _, lib := range meta.RequiredLibraries {
		if meta.Interpreter != "" && lib == path.Base(meta.Interpreter) {
			continue
		}
		found := false
		for _, searchKind := range []struct {
			dirs                []string
			badRule, missingRule string
		}{
			{meta.RPath, RuleBadRPathEntry, RuleMissingRPathEntryDependency},
			{meta.RunPath, RuleBadRunPathEntry, RuleMissingRunPathEntryDependency},
		} {
			for _, dir := range searchKind.dirs {
				resolvedDir := artifact.SubstituteOrigin(dir, path.Dir(file))
				if !identity.IsPackagePath(cctx.Root, resolvedDir) {
					emit(searchKind.badRule, "search path entry is not a package path: "+resolvedDir, map[string]interface{}{"entry": resolvedDir})
					continue
				}
				owner, ok := cctx.Closure.OwningPackage(cctx.Root, resolvedDir)
				if !ok {
					emit(searchKind.missingRule, "search path entry's owning package is not a transitive dependency", map[string]interface{}{"entry": resolvedDir})
					continue
				}
				ownerCtx := cctx.Closure[owner]
				candidate := path.Join(resolvedDir, lib)
				resolved := artifact.Resolve(cctx.Root, cctx.Closure, candidate, nil)
				resolvedOwner, belongsTo := cctx.Closure.OwningPackage(cctx.Root, resolved)
				var libMeta artifact.ELFMeta
				var libOK bool
				if belongsTo {
					if libCtx, known := cctx.Closure[resolvedOwner]; known {
						libMeta, libOK = libCtx.ELF[resolved]
					}
				} else {
					libMeta, libOK = ownerCtx.ELF[resolved]
				}
				if !libOK {
					continue // not found via this search path entry, try the next
				}
				found = true
				usedDirs[resolvedDir] = true
				cctx.markUsed(owner)
				if libMeta.Type != artifact.ELFSharedLib && libMeta.Type != artifact.ELFRelocatable {
					emit(RuleBadLibraryDependency, "resolved library is not a shared library or relocatable object", map[string]interface{}{"library": lib, "resolved": resolved})
				}
			}
			if found {
				break
			}
		}
		if !found {
			emit(RuleLibraryDependencyNotFound, "required library not found via rpath or runpath: "+lib, map[string]interface{}{"library": lib})
		}
	}

	for _, dir := range meta.RPath {
		resolvedDir := artifact.SubstituteOrigin(dir, path.Dir(file))
		if !usedDirs[resolvedDir] && !rules.entryIgnored(RuleUnusedRPathEntry, resolvedDir) {
			emit(RuleUnusedRPathEntry, "rpath entry unused by any required library: "+resolvedDir, map[string]interface{}{"entry": resolvedDir})
		}
	}
	for _, dir := range meta.RunPath {
		resolvedDir := artifact.SubstituteOrigin(dir, path.Dir(file))
		if !usedDirs[resolvedDir] && !rules.entryIgnored(RuleUnusedRunPathEntry, resolvedDir) {
			emit(RuleUnusedRunPathEntry, "runpath entry unused by any required library: "+resolvedDir, map[string]interface{}{"entry": resolvedDir})
		}
	}

	return out
}

func (cctx *CheckerContext) markUsed(id identity.Ident) {
	delete(cctx.UnusedDeps, id)
}
