package audit

import (
	"sort"

	"github.com/habpkg/autobuild/internal/artifact"
)

// LicenseReconciliation implements SPEC_FULL.md §3 supplement 4: it
// compares the licenses array parsed out of MANIFEST's "## Plan Source"
// block (ac.Licenses) against the recipe context's own declared licenses
// (cctx.RecipeLicenses), emitting LicenseMismatch when they differ. It
// runs after PackageAfter in the fixed pipeline order.
func LicenseReconciliation(rules RuleConfig, cctx *CheckerContext, ac *artifact.Context) []Violation {
	if cctx.RecipeLicenses == nil {
		return nil
	}
	if sameSet(ac.Licenses, cctx.RecipeLicenses) {
		return nil
	}
	level := rules.levelFor(RuleLicenseMismatch)
	if level == Off {
		return nil
	}
	return []Violation{{
		RuleID:  RuleLicenseMismatch,
		Level:   level,
		Message: "manifest plan-source licenses differ from the recipe's declared licenses",
		Payload: map[string]interface{}{
			"manifest_licenses": ac.Licenses,
			"recipe_licenses":   cctx.RecipeLicenses,
		},
	}}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
