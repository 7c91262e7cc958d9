package audit

import (
	"path"
	"strings"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// hostScriptWhitelist lists non-/pkgs/ interpreters that are always
// acceptable, keyed by OS. per spec.md §4.J "Script check".
var hostScriptWhitelist = map[identity.OS][]string{
	identity.OSLinux:   {"/bin/sh", "/bin/false"},
	identity.OSDarwin:  {"/bin/sh", "/bin/false", "/usr/bin/env"},
	identity.OSWindows: {"/bin/sh", "/bin/false"},
}

// ScriptCheck implements spec.md §4.J's shebang-script check: resolve a
// /pkgs/... interpreter through its link chain, verify it is listed, and
// flag host interpreters outside the platform whitelist.
func ScriptCheck(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	var out []Violation
	for file, meta := range ac.Shebang {
		out = append(out, checkScriptFile(rules, cctx, ac, file, meta)...)
	}
	return out
}

func checkScriptFile(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context, file string, meta artifact.ShebangMeta) []Violation {
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

	cmd := meta.InterpreterCommand
	if identity.IsPackagePath(cctx.Root, cmd) {
		var visited []string
		resolved := artifact.Resolve(cctx.Root, cctx.Closure, cmd, &visited)
		owner, ok := cctx.Closure.OwningPackage(cctx.Root, resolved)
		if !ok {
			emit(RuleMissingInterpreterDependency, "script interpreter's owning package is not a transitive dependency", map[string]interface{}{"interpreter": cmd})
			return out
		}
		ownerCtx := cctx.Closure[owner]
		_, isELF := ownerCtx.ELF[resolved]
		_, isShebang := ownerCtx.Shebang[resolved]
		if !isELF && !isShebang {
			emit(RuleInterpreterNotFound, "resolved script interpreter does not exist in its owning package", map[string]interface{}{"interpreter": cmd, "resolved": resolved})
			return out
		}
		cctx.markUsed(owner)

		listed := false
		for _, v := range visited {
			if hasInterp(ownerCtx, v) {
				listed = true
				break
			}
		}
		if !listed {
			emit(RuleUnlistedScriptInterpreter, "script interpreter not present in its owning package's INTERPRETERS list", map[string]interface{}{"interpreter": cmd})
		}

		if path.Base(cmd) == "env" {
			if len(meta.InterpreterArgs) == 0 {
				emit(RuleInterpreterNotFound, "env interpreter has no target executable argument", nil)
			} else if !onRuntimePath(cctx, meta.InterpreterArgs[0]) {
				emit(RuleInterpreterNotFound, "env target executable not found on the artifact's runtime path: "+meta.InterpreterArgs[0], map[string]interface{}{"executable": meta.InterpreterArgs[0]})
			}
		}
		return out
	}

	allowed := hostScriptWhitelist[ac.Target.OS]
	for _, w := range allowed {
		if cmd == w {
			return out
		}
	}
	emit(RuleHostScriptInterpreter, "script interpreter is not a package path and not in the platform whitelist: "+meta.InterpreterRaw, map[string]interface{}{"interpreter": meta.InterpreterRaw})
	return out
}

// onRuntimePath reports whether name is discoverable as an executable
// along the artifact's runtime path, by checking each resolved runtime
// dep artifact's ELF/Shebang maps for a file with that base name.
func onRuntimePath(cctx *CheckerContext, name string) bool {
	for _, dep := range cctx.RuntimeArtifacts {
		if dep == nil {
			continue
		}
		for f := range dep.ELF {
			if path.Base(f) == name {
				return true
			}
		}
		for f := range dep.Shebang {
			if path.Base(f) == name {
				return true
			}
		}
	}
	return false
}

func hasInterp(ac *artifact.Context, p string) bool {
	for _, ip := range ac.Interpreters {
		if ip == p || strings.TrimSuffix(ip, "/") == strings.TrimSuffix(p, "/") {
			return true
		}
	}
	return false
}
