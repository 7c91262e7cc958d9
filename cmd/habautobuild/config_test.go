package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/habpkg/autobuild/internal/audit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"root":"/hab","repo_dirs":["/repo"]}`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want default 4", cfg.Workers)
	}
	if cfg.HabBinary != "hab" {
		t.Errorf("HabBinary = %q, want default %q", cfg.HabBinary, "hab")
	}
	if cfg.HabStudioBinary != "hab-studio" {
		t.Errorf("HabStudioBinary = %q, want default %q", cfg.HabStudioBinary, "hab-studio")
	}
}

func TestLoadConfigRequiresRoot(t *testing.T) {
	path := writeConfig(t, `{"repo_dirs":["/repo"]}`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected an error for a missing root, got nil")
	}
}

func TestLoadConfigRequiresRepoDirs(t *testing.T) {
	path := writeConfig(t, `{"root":"/hab"}`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected an error for missing repo_dirs, got nil")
	}
}

func TestConfigTargetDefault(t *testing.T) {
	cfg := &config{}
	target, err := cfg.target()
	if err != nil {
		t.Fatal(err)
	}
	if target.String() != "x86_64-linux" {
		t.Errorf("default target = %s, want x86_64-linux", target.String())
	}
}

func TestConfigTargetParsed(t *testing.T) {
	cfg := &config{Target: "aarch64-darwin"}
	target, err := cfg.target()
	if err != nil {
		t.Fatal(err)
	}
	if target.String() != "aarch64-darwin" {
		t.Errorf("target = %s, want aarch64-darwin", target.String())
	}
}

func TestConfigStudioIdentities(t *testing.T) {
	cfg := &config{StandardStudio: "core/studio/1.0/20240101000000", BootstrapStudio: "core/bootstrap-studio"}
	standard, bootstrap, err := cfg.studioIdentities()
	if err != nil {
		t.Fatal(err)
	}
	if standard.Name != "studio" || standard.Version != "1.0" {
		t.Errorf("standard = %+v, want name studio version 1.0", standard)
	}
	if bootstrap.Name != "bootstrap-studio" {
		t.Errorf("bootstrap = %+v, want name bootstrap-studio", bootstrap)
	}
}

func TestConfigRuleConfig(t *testing.T) {
	cfg := &config{Rules: map[string]audit.RuleOverrideSpec{
		"unused-dependency": {Level: "warn"},
		"license-mismatch":  {Level: "off"},
		"broken-link":       {Level: "bogus"},
		"bad-rpath-entry":   {Level: "warn", IgnoredFiles: []string{"*.so"}, IgnoredEntries: []string{"/opt/vendor/lib"}},
	}}
	rc := cfg.ruleConfig()
	if rc["unused-dependency"].Level != audit.Warn {
		t.Errorf("unused-dependency level = %v, want Warn", rc["unused-dependency"].Level)
	}
	if rc["license-mismatch"].Level != audit.Off {
		t.Errorf("license-mismatch level = %v, want Off", rc["license-mismatch"].Level)
	}
	if rc["broken-link"].Level != audit.Error {
		t.Errorf("unrecognized level string should default to Error, got %v", rc["broken-link"].Level)
	}
	if got := rc["bad-rpath-entry"].IgnoredFiles; len(got) != 1 || got[0] != "*.so" {
		t.Errorf("bad-rpath-entry IgnoredFiles = %v, want [*.so]", got)
	}
	if !rc["bad-rpath-entry"].IgnoredEntries["/opt/vendor/lib"] {
		t.Errorf("expected /opt/vendor/lib exempted in bad-rpath-entry IgnoredEntries")
	}
}
