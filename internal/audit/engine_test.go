package audit

import (
	"reflect"
	"testing"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

func TestEnginePureAcrossRuns(t *testing.T) {
	lib := depIdent("zlib")
	libCtx := newContext(lib)
	libPath := "/hab/pkgs/core/zlib/1.0/20240101000000/lib"
	libCtx.ELF["/hab/pkgs/core/zlib/1.0/20240101000000/lib/libz.so"] = artifact.ELFMeta{}

	ac := newContext(depIdent("app"))
	ac.TransitiveRuntimeDeps = []identity.Ident{lib}
	ac.RuntimePath = []string{libPath}

	closure := artifact.Closure{lib: libCtx}
	engine := Engine{Rules: RuleConfig{}}

	first := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, closure, ac, nil, nil)
	second := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, closure, ac, nil, nil)

	if len(first) != len(second) {
		t.Fatalf("expected identical violation counts across runs, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Fatalf("violation %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEngineReportsUnusedRuntimeDependency(t *testing.T) {
	unused := depIdent("unused-lib")
	unusedCtx := newContext(unused)

	ac := newContext(depIdent("app"))
	ac.TransitiveRuntimeDeps = []identity.Ident{unused}

	closure := artifact.Closure{unused: unusedCtx}
	engine := Engine{Rules: RuleConfig{}}

	violations := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, closure, ac, nil, nil)

	found := false
	for _, v := range violations {
		if v.RuleID == RuleUnusedDependency {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s for a transitive dep never touched by any check, got %v", RuleUnusedDependency, violations)
	}
}

func TestEngineSkipsBinaryCheckOnWindows(t *testing.T) {
	ac := newContext(depIdent("app"))
	ac.ELF = map[string]artifact.ELFMeta{
		"/hab/pkgs/core/app/1.0/20240101000000/bin/app.exe": {Interpreter: "/bad/host/path"},
	}

	engine := Engine{Rules: RuleConfig{}}
	violations := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSWindows}, artifact.Closure{}, ac, nil, nil)

	for _, v := range violations {
		if v.RuleID == RuleHostInterpreter {
			t.Fatalf("expected the ELF check to be skipped on windows, got %v", violations)
		}
	}
}

func TestEngineRunsLicenseReconciliationLast(t *testing.T) {
	ac := newContext(depIdent("app"))
	ac.Licenses = []string{"MIT"}

	engine := Engine{Rules: RuleConfig{}}
	violations := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, artifact.Closure{}, ac, []string{"GPL-2.0"}, nil)

	if len(violations) == 0 || violations[len(violations)-1].RuleID != RuleLicenseMismatch {
		t.Fatalf("expected %s to be the final violation in pipeline order, got %v", RuleLicenseMismatch, violations)
	}
}

func TestEnginePerRecipeOverrideDemotesToWarn(t *testing.T) {
	unused := depIdent("unused-lib")
	unusedCtx := newContext(unused)

	ac := newContext(depIdent("app"))
	ac.TransitiveRuntimeDeps = []identity.Ident{unused}

	closure := artifact.Closure{unused: unusedCtx}
	engine := Engine{Rules: RuleConfig{RuleUnusedDependency: {Level: Error}}}

	overrides := RuleConfig{RuleUnusedDependency: {Level: Warn}}
	violations := engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, closure, ac, nil, overrides)

	var found bool
	for _, v := range violations {
		if v.RuleID == RuleUnusedDependency {
			found = true
			if v.Level != Warn {
				t.Fatalf("expected the recipe override to demote %s to Warn, got %v", RuleUnusedDependency, v.Level)
			}
		}
	}
	if !found {
		t.Fatalf("expected %s to still fire under the override, got %v", RuleUnusedDependency, violations)
	}

	// without the override, the global config's Error level applies.
	violations = engine.Run("/hab", identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, closure, ac, nil, nil)
	for _, v := range violations {
		if v.RuleID == RuleUnusedDependency && v.Level != Error {
			t.Fatalf("expected the global config's Error level with no override, got %v", v.Level)
		}
	}
}
