package scan

import (
	"context"
	"testing"
)

func TestShellMetadataExtractorParsesRuleOverrides(t *testing.T) {
	recipe := `
pkg_version="1.0"
pkg_release="20240101000000"
pkg_licenses="MIT"
pkg_rule_overrides='{"unused-dependency":{"level":"warn","ignored_files":["*.so"]}}'
`
	md, err := ShellMetadataExtractor{}.Extract(context.Background(), t.TempDir(), recipe)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md.Version != "1.0" || md.Release != "20240101000000" {
		t.Fatalf("Version/Release = %s/%s, want 1.0/20240101000000", md.Version, md.Release)
	}
	override, ok := md.RuleOverrides["unused-dependency"]
	if !ok {
		t.Fatalf("expected a rule_overrides entry for unused-dependency, got %+v", md.RuleOverrides)
	}
	if override.Level != "warn" {
		t.Errorf("override.Level = %q, want warn", override.Level)
	}
	if len(override.IgnoredFiles) != 1 || override.IgnoredFiles[0] != "*.so" {
		t.Errorf("override.IgnoredFiles = %v, want [*.so]", override.IgnoredFiles)
	}
}

func TestShellMetadataExtractorDefaultsRuleOverridesEmpty(t *testing.T) {
	recipe := `
pkg_version="2.0"
pkg_release="20240101000000"
`
	md, err := ShellMetadataExtractor{}.Extract(context.Background(), t.TempDir(), recipe)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(md.RuleOverrides) != 0 {
		t.Errorf("expected no rule overrides by default, got %v", md.RuleOverrides)
	}
}
