// Package audit's Engine drives the fixed check pipeline of spec.md
// §4.J: PackageBefore, a platform binary check, Script, PackageAfter,
// then the LicenseReconciliation supplement (SPEC_FULL.md §3.4). Checks
// are a sum type dispatched by this fixed order rather than an
// inheritance hierarchy, per spec.md §9 "Polymorphism" — adding a check
// means adding a function and a line here, not a new type hierarchy.
package audit

import (
	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// Engine runs the audit pipeline for one target platform.
type Engine struct {
	Rules RuleConfig
}

// Run audits ac against its transitive dependency closure (including ac
// itself, so self-references resolve) and returns every violation the
// fixed-order pipeline produced, in pipeline order. recipeLicenses may be
// nil when no local recipe context backs this artifact. overrides is the
// recipe context's own RuleConfig (possibly nil/empty), layered on top of
// e.Rules per SPEC_FULL.md §3 "rule configuration overrides per recipe
// context" — a recipe narrows or relaxes a rule for its own artifacts
// without changing the global config every other recipe audits against.
func (e Engine) Run(root string, target identity.Target, closure artifact.Closure, ac *artifact.Context, recipeLicenses []string, overrides RuleConfig) []Violation {
	full := make(artifact.Closure, len(closure)+1)
	for id, c := range closure {
		full[id] = c
	}
	full[ac.Identity] = ac

	rules := e.Rules.Merge(overrides)
	cctx := &CheckerContext{
		Root:                   root,
		TransitiveDepArtifacts: map[identity.Ident]*artifact.Context{},
		Closure:                full,
		RecipeLicenses:         recipeLicenses,
	}

	var violations []Violation
	violations = append(violations, PackageBefore(rules, cctx, ac)...)
	violations = append(violations, e.binaryCheck(target)(rules, cctx, ac)...)
	violations = append(violations, ScriptCheck(rules, cctx, ac)...)
	violations = append(violations, PackageAfter(rules, cctx, ac)...)
	violations = append(violations, LicenseReconciliation(rules, cctx, ac)...)
	return violations
}

// binaryCheck selects the platform-specific binary check per spec.md
// §4.J ("ELF on Linux / Mach-O on macOS / PE on Windows"). The artifact
// data model (spec.md §3) carries no PE metadata map, so a Windows
// target runs no binary check; this mirrors the spec's own omission
// rather than adding an unspecified PE parser.
func (e Engine) binaryCheck(target identity.Target) Check {
	switch target.OS {
	case identity.OSDarwin:
		return MachOCheck
	case identity.OSWindows:
		return func(RuleConfig, *CheckerContext, *artifact.Context) []Violation { return nil }
	default:
		return ELFCheck
	}
}
