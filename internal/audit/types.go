// Package audit implements the link-graph and package-hygiene checks of
// spec.md §4.J: a fixed-order pipeline of PackageBefore, a
// platform-specific binary check (ELF/Mach-O/PE), Script, and
// PackageAfter, each emitting leveled violations. Checks are a sum type
// dispatched by a fixed Run order rather than an inheritance hierarchy,
// per spec.md §9 "Polymorphism".
package audit

import (
	"path"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
)

// Level is a rule's configured severity.
type Level int

const (
	Warn Level = iota
	Error
	Off
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "off"
	}
}

// Rule is one named rule's configuration: its level and the files/entries
// it's suppressed for.
type Rule struct {
	Level          Level
	IgnoredFiles   []string        // glob patterns (path.Match syntax) matched against in-artifact file paths
	IgnoredEntries map[string]bool // e.g. specific rpath entries or dep names exempted
}

// RuleConfig is the per-recipe rule override table, keyed by rule id, per
// SPEC_FULL.md §3's "rule configuration overrides" supplement. A rule
// absent from the map defaults to Level Error with no exemptions.
type RuleConfig map[string]Rule

func (rc RuleConfig) levelFor(ruleID string) Level {
	if r, ok := rc[ruleID]; ok {
		return r.Level
	}
	return Error
}

func (rc RuleConfig) fileIgnored(ruleID, file string) bool {
	r, ok := rc[ruleID]
	if !ok {
		return false
	}
	for _, pattern := range r.IgnoredFiles {
		if ok, _ := path.Match(pattern, file); ok {
			return true
		}
	}
	return false
}

func (rc RuleConfig) entryIgnored(ruleID, entry string) bool {
	r, ok := rc[ruleID]
	return ok && r.IgnoredEntries[entry]
}

// Merge layers overrides on top of rc, returning a new RuleConfig. A rule
// id present in overrides replaces rc's entry wholesale (an override is
// a complete replacement, not a field-by-field patch, matching how the
// global JSON config itself describes a rule). Per SPEC_FULL.md §3's
// "rule configuration overrides per recipe context" supplement: a
// recipe's own overrides win over the global config for any rule id it
// names.
func (rc RuleConfig) Merge(overrides RuleConfig) RuleConfig {
	if len(overrides) == 0 {
		return rc
	}
	merged := make(RuleConfig, len(rc)+len(overrides))
	for id, r := range rc {
		merged[id] = r
	}
	for id, r := range overrides {
		merged[id] = r
	}
	return merged
}

// RuleOverrideSpec is the JSON wire shape of one rule override, shared by
// the global --config-path "rules" map and a recipe's own
// pkg_rule_overrides, so both sources produce identical Rule semantics.
type RuleOverrideSpec struct {
	Level          string   `json:"level"`           // "warn" | "error" | "off", defaults to "error"
	IgnoredFiles   []string `json:"ignored_files"`   // glob patterns, path.Match syntax
	IgnoredEntries []string `json:"ignored_entries"`
}

func (s RuleOverrideSpec) rule() Rule {
	var level Level
	switch s.Level {
	case "warn":
		level = Warn
	case "off":
		level = Off
	default:
		level = Error
	}
	var entries map[string]bool
	if len(s.IgnoredEntries) > 0 {
		entries = make(map[string]bool, len(s.IgnoredEntries))
		for _, e := range s.IgnoredEntries {
			entries[e] = true
		}
	}
	return Rule{Level: level, IgnoredFiles: s.IgnoredFiles, IgnoredEntries: entries}
}

// ParseRuleConfig converts the JSON-decoded override map (from either the
// global config or a recipe's pkg_rule_overrides) into a RuleConfig.
func ParseRuleConfig(raw map[string]RuleOverrideSpec) RuleConfig {
	rc := make(RuleConfig, len(raw))
	for id, spec := range raw {
		rc[id] = spec.rule()
	}
	return rc
}

// Violation is one emitted finding, carrying enough structure to
// JSON-serialize per spec.md §6.
type Violation struct {
	RuleID  string
	Level   Level
	File    string
	Message string
	Payload map[string]interface{} `json:",omitempty"`
}

// rule id constants named in spec.md §4.J.
const (
	RuleUnexpectedInterpreter           = "unexpected-interpreter"
	RuleHostInterpreter                 = "host-interpreter"
	RuleMissingInterpreterDependency    = "missing-interpreter-dependency"
	RuleInterpreterNotFound             = "interpreter-not-found"
	RuleBadRPathEntry                   = "bad-rpath-entry"
	RuleBadRunPathEntry                 = "bad-runpath-entry"
	RuleMissingRPathEntryDependency     = "missing-rpath-entry-dependency"
	RuleMissingRunPathEntryDependency   = "missing-runpath-entry-dependency"
	RuleBadLibraryDependency            = "bad-library-dependency"
	RuleLibraryDependencyNotFound       = "library-dependency-not-found"
	RuleUnusedRPathEntry                = "unused-rpath-entry"
	RuleUnusedRunPathEntry              = "unused-runpath-entry"
	RuleMissingLibraryDependency        = "missing-library-dependency"
	RuleUnlistedScriptInterpreter       = "unlisted-script-interpreter"
	RuleHostScriptInterpreter           = "host-script-interpreter"
	RuleMissingDependencyArtifact       = "missing-dependency-artifact"
	RuleBadRuntimePathEntry             = "bad-runtime-path-entry"
	RuleMissingRuntimePathEntryDependency = "missing-runtime-path-entry-dependency"
	RuleUnusedDependency                = "unused-dependency"
	RuleDuplicateDependency              = "duplicate-dependency"
	RuleDuplicateRuntimeBinary           = "duplicate-runtime-binary"
	RuleEmptyTopLevelDirectory           = "empty-top-level-directory"
	RuleBrokenLink                       = "broken-link"
	RuleLicenseMismatch                  = "license-mismatch" // SPEC_FULL.md §3 supplement, emitted by LicenseReconciliation
)

// CheckerContext is the shared state PackageBefore populates and
// subsequent checks read/update, per spec.md §4.J.
type CheckerContext struct {
	Root string

	// TransitiveDepArtifacts maps every tdep identity to its artifact
	// context, as found in the cache.
	TransitiveDepArtifacts map[identity.Ident]*artifact.Context

	// RuntimeArtifacts is the resolved dep artifact for each directory in
	// the package's own runtime path, in order.
	RuntimeArtifacts []*artifact.Context

	// UnusedDeps starts as every tdep and is narrowed to "used" by the
	// binary/script checks; whatever remains at PackageAfter is reported.
	UnusedDeps map[identity.Ident]bool

	// Closure is built from TransitiveDepArtifacts plus ac itself, keyed
	// by identity, for artifact.Resolve.
	Closure artifact.Closure

	// RecipeLicenses is the recipe context's own declared license list,
	// per SPEC_FULL.md §3 supplement 4 (LicenseReconciliation). Left nil
	// when no recipe context is available (e.g. auditing a historical
	// artifact with no corresponding local recipe), in which case
	// LicenseReconciliation emits nothing.
	RecipeLicenses []string
}

// Check is the sum-type shape every check implements: it reads shared
// state from cctx and emits violations, consulting rules for
// level/suppression decisions.
type Check func(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation
