package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/habpkg/autobuild/internal/audit"
	"golang.org/x/xerrors"
)

// extractScriptPreamble is sourced ahead of the recipe body so that a
// plain POSIX recipe.sh (declaring shell variables and functions such as
// pkg_version, pkg_build_deps) can be introspected without re-implementing
// a shell. It relies only on the variables/arrays a recipe is expected to
// set; absent ones default to empty.
const extractScriptPreamble = `
pkg_version=""
pkg_release=""
pkg_native="false"
pkg_build_deps=""
pkg_runtime_deps=""
pkg_studio_deps=""
pkg_licenses=""
pkg_rule_overrides="{}"
`

// pkg_rule_overrides, unlike the space-separated lists above, is a
// recipe-authored JSON object literal (e.g.
// pkg_rule_overrides='{"unused-dependency":{"level":"warn"}}') and is
// passed through verbatim rather than wrapped by zi_json_array, per
// SPEC_FULL.md §3 "rule configuration overrides per recipe context".
const extractScriptEpilogue = `
printf '{"version":"%s","release":"%s","native":%s,"build_deps":[%s],"runtime_deps":[%s],"studio_deps":[%s],"licenses":[%s],"rule_overrides":%s}\n' \
  "$pkg_version" "$pkg_release" \
  "$pkg_native" \
  "$(zi_json_array "$pkg_build_deps")" \
  "$(zi_json_array "$pkg_runtime_deps")" \
  "$(zi_json_array "$pkg_studio_deps")" \
  "$(zi_json_array "$pkg_licenses")" \
  "$pkg_rule_overrides"
`

const jsonArrayHelper = `
zi_json_array() {
  out=""
  first=1
  for word in $1; do
    if [ $first -eq 0 ]; then out="$out,"; fi
    out="$out\"$word\""
    first=0
  done
  printf '%s' "$out"
}
`

// ShellMetadataExtractor is the default MetadataExtractor: it sources the
// recipe inside a POSIX shell alongside a small preamble/epilogue and
// parses a trailing JSON object from stdout, the same adapter shape as
// artifact.ShellLicenseExtractor.
type ShellMetadataExtractor struct {
	Shell string // defaults to "/bin/sh"
}

func (e ShellMetadataExtractor) Extract(ctx context.Context, recipeDir, recipeSource string) (*Metadata, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var script strings.Builder
	script.WriteString(jsonArrayHelper)
	script.WriteString(extractScriptPreamble)
	script.WriteString(recipeSource)
	script.WriteString("\n")
	script.WriteString(extractScriptEpilogue)

	cmd := exec.CommandContext(ctx, shell)
	cmd.Dir = recipeDir
	cmd.Stdin = strings.NewReader(script.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("run recipe under %s: %w: %s", shell, err, stderr.String())
	}

	var blob struct {
		Version       string                              `json:"version"`
		Release       string                              `json:"release"`
		Native        bool                                `json:"native"`
		BuildDeps     []string                             `json:"build_deps"`
		RuntimeDeps   []string                             `json:"runtime_deps"`
		StudioDeps    []string                             `json:"studio_deps"`
		Licenses      []string                             `json:"licenses"`
		RuleOverrides map[string]audit.RuleOverrideSpec `json:"rule_overrides"`
	}
	lastLine := lastNonEmptyLine(stdout.String())
	if err := json.Unmarshal([]byte(lastLine), &blob); err != nil {
		return nil, xerrors.Errorf("parse metadata output: %w", err)
	}
	return &Metadata{
		Version:       blob.Version,
		Release:       blob.Release,
		Native:        blob.Native,
		BuildDeps:     blob.BuildDeps,
		RuntimeDeps:   blob.RuntimeDeps,
		StudioDeps:    blob.StudioDeps,
		Licenses:      blob.Licenses,
		RuleOverrides: blob.RuleOverrides,
	}, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
