package audit

import (
	"testing"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

func depIdent(name string) identity.Ident {
	return identity.Ident{Origin: "core", Name: name, Version: "1.0", Release: "20240101000000"}
}

func newContext(id identity.Ident) *artifact.Context {
	return &artifact.Context{
		Identity: id,
		ELF:      map[string]artifact.ELFMeta{},
	}
}

func TestPackageBeforeDuplicateDependency(t *testing.T) {
	lib := depIdent("zlib")
	ac := newContext(depIdent("app"))
	ac.RuntimeDeps = []identity.Ident{lib}
	ac.BuildDeps = []identity.Ident{lib}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{},
	}
	violations := PackageBefore(RuleConfig{}, cctx, ac)

	found := false
	for _, v := range violations {
		if v.RuleID == RuleDuplicateDependency {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s, got %v", RuleDuplicateDependency, violations)
	}
}

func TestPackageBeforeEmptyTopLevelDirectoryAndBrokenLink(t *testing.T) {
	ac := newContext(depIdent("app"))
	ac.EmptyTopLevelDirs = map[string]bool{"/hab/pkgs/core/app/1.0/20240101000000/share": true}
	ac.BrokenLinks = map[string]string{"/hab/pkgs/core/app/1.0/20240101000000/lib/libfoo.so": "/nonexistent"}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{},
	}
	violations := PackageBefore(RuleConfig{}, cctx, ac)

	var gotEmpty, gotBroken bool
	for _, v := range violations {
		switch v.RuleID {
		case RuleEmptyTopLevelDirectory:
			gotEmpty = true
		case RuleBrokenLink:
			gotBroken = true
		}
	}
	if !gotEmpty || !gotBroken {
		t.Fatalf("expected both empty-dir and broken-link violations, got %v", violations)
	}
}

func TestPackageBeforeMissingDependencyArtifact(t *testing.T) {
	missing := depIdent("missing")
	ac := newContext(depIdent("app"))
	ac.TransitiveRuntimeDeps = []identity.Ident{missing}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{},
	}
	violations := PackageBefore(RuleConfig{}, cctx, ac)

	if len(violations) != 1 || violations[0].RuleID != RuleMissingDependencyArtifact {
		t.Fatalf("expected a single %s, got %v", RuleMissingDependencyArtifact, violations)
	}
	if cctx.UnusedDeps[missing] {
		t.Fatalf("missing dependency should not be tracked as unused")
	}
}

func TestPackageBeforePopulatesTransitiveAndUnused(t *testing.T) {
	zlib := depIdent("zlib")
	zlibCtx := newContext(zlib)

	ac := newContext(depIdent("app"))
	ac.TransitiveRuntimeDeps = []identity.Ident{zlib}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{zlib: zlibCtx},
	}
	violations := PackageBefore(RuleConfig{}, cctx, ac)
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
	if cctx.TransitiveDepArtifacts[zlib] != zlibCtx {
		t.Fatalf("expected zlib to be recorded in TransitiveDepArtifacts")
	}
	if !cctx.UnusedDeps[zlib] {
		t.Fatalf("expected zlib to start out as unused")
	}
}

func TestPackageBeforeRuntimePathEntries(t *testing.T) {
	zlib := depIdent("zlib")
	zlibCtx := newContext(zlib)
	zlibPath := "/hab/pkgs/core/zlib/1.0/20240101000000/lib"

	ac := newContext(depIdent("app"))
	ac.RuntimePath = []string{zlibPath, "/not/a/package/path", "/hab/pkgs/core/unknown/1.0/20240101000000/lib"}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{zlib: zlibCtx},
	}
	violations := PackageBefore(RuleConfig{}, cctx, ac)

	var gotBad, gotMissingOwner bool
	for _, v := range violations {
		switch v.RuleID {
		case RuleBadRuntimePathEntry:
			gotBad = true
		case RuleMissingRuntimePathEntryDependency:
			gotMissingOwner = true
		}
	}
	if !gotBad || !gotMissingOwner {
		t.Fatalf("expected bad-runtime-path-entry and missing-owner violations, got %v", violations)
	}
	if len(cctx.RuntimeArtifacts) != 1 || cctx.RuntimeArtifacts[0] != zlibCtx {
		t.Fatalf("expected zlib context recorded as the sole runtime artifact, got %v", cctx.RuntimeArtifacts)
	}
}

func TestPackageAfterReportsUnusedDependency(t *testing.T) {
	stale := depIdent("stale")
	ac := newContext(depIdent("app"))

	cctx := &CheckerContext{
		UnusedDeps: map[identity.Ident]bool{stale: true},
	}
	violations := PackageAfter(RuleConfig{}, cctx, ac)
	if len(violations) != 1 || violations[0].RuleID != RuleUnusedDependency {
		t.Fatalf("expected a single %s, got %v", RuleUnusedDependency, violations)
	}
}

func TestPackageAfterDuplicateRuntimeBinary(t *testing.T) {
	a := newContext(depIdent("coreutils-a"))
	a.ELF = map[string]artifact.ELFMeta{
		"/hab/pkgs/core/coreutils-a/1.0/20240101000000/bin/ls": {IsExecutable: true},
	}
	b := newContext(depIdent("coreutils-b"))
	b.ELF = map[string]artifact.ELFMeta{
		"/hab/pkgs/core/coreutils-b/1.0/20240101000000/bin/ls": {IsExecutable: true},
	}

	ac := newContext(depIdent("app"))
	cctx := &CheckerContext{
		UnusedDeps:      map[identity.Ident]bool{},
		RuntimeArtifacts: []*artifact.Context{a, b},
	}
	violations := PackageAfter(RuleConfig{}, cctx, ac)

	found := false
	for _, v := range violations {
		if v.RuleID == RuleDuplicateRuntimeBinary {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s, got %v", RuleDuplicateRuntimeBinary, violations)
	}
}

func TestPackageAfterIgnoresNonExecutableDuplicates(t *testing.T) {
	a := newContext(depIdent("liba"))
	a.ELF = map[string]artifact.ELFMeta{
		"/hab/pkgs/core/liba/1.0/20240101000000/lib/libfoo.so": {IsExecutable: false},
	}
	b := newContext(depIdent("libb"))
	b.ELF = map[string]artifact.ELFMeta{
		"/hab/pkgs/core/libb/1.0/20240101000000/lib/libfoo.so": {IsExecutable: false},
	}

	ac := newContext(depIdent("app"))
	cctx := &CheckerContext{
		UnusedDeps:      map[identity.Ident]bool{},
		RuntimeArtifacts: []*artifact.Context{a, b},
	}
	violations := PackageAfter(RuleConfig{}, cctx, ac)
	if len(violations) != 0 {
		t.Fatalf("expected no violations for non-executable overlap, got %v", violations)
	}
}

func TestRuleConfigSuppression(t *testing.T) {
	rules := RuleConfig{
		RuleDuplicateDependency: {Level: Off},
	}
	lib := depIdent("zlib")
	ac := newContext(depIdent("app"))
	ac.RuntimeDeps = []identity.Ident{lib}
	ac.BuildDeps = []identity.Ident{lib}

	cctx := &CheckerContext{
		Root:                   "/hab",
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                artifact.Closure{},
	}
	violations := PackageBefore(rules, cctx, ac)
	for _, v := range violations {
		if v.RuleID == RuleDuplicateDependency {
			t.Fatalf("expected %s to be suppressed, got %v", RuleDuplicateDependency, violations)
		}
	}
}
