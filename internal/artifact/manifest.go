package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// manifestFields is what ManifestText recovers from a MANIFEST file's
// "* __Key__: value" lines, per spec.md §4.C.
type manifestFields struct {
	Target string
	Source string
	SHA256 string
	// PlanSource holds the fenced ```...``` block following "## Plan
	// Source", piped into a shell to recover the licenses array.
	PlanSource string
}

// ParseManifest parses a MANIFEST file's text, per spec.md §4.C.
func ParseManifest(raw []byte) manifestFields {
	var m manifestFields
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inPlanSource := false
	inFence := false
	var planSource strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "* __Target__:"):
			m.Target = strings.TrimSpace(strings.TrimPrefix(line, "* __Target__:"))
		case strings.HasPrefix(line, "* __Source__:"):
			m.Source = strings.TrimSpace(strings.TrimPrefix(line, "* __Source__:"))
		case strings.HasPrefix(line, "* __SHA__:"):
			m.SHA256 = strings.TrimSpace(strings.TrimPrefix(line, "* __SHA__:"))
		case strings.HasPrefix(line, "## Plan Source"):
			inPlanSource = true
		case inPlanSource && strings.HasPrefix(strings.TrimSpace(line), "```"):
			if inFence {
				inPlanSource = false
				inFence = false
			} else {
				inFence = true
			}
		case inFence:
			planSource.WriteString(line)
			planSource.WriteByte('\n')
		}
	}
	m.PlanSource = planSource.String()
	return m
}

// LicenseExtractor extracts the licenses array from a recipe's plan
// source by piping it into an external shell, per spec.md §9's
// MetadataExtractor design note. A test-only implementation can
// substitute in-process fixtures instead of spawning /bin/sh.
type LicenseExtractor interface {
	ExtractLicenses(planSource string) ([]string, error)
}

// ShellLicenseExtractor is the default LicenseExtractor: it pipes the
// plan source into a POSIX shell and parses a JSON blob containing a
// "licenses" array from stdout.
type ShellLicenseExtractor struct {
	Shell string // defaults to "/bin/sh"
}

func (e ShellLicenseExtractor) ExtractLicenses(planSource string) ([]string, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell)
	cmd.Stdin = strings.NewReader(planSource)
	out, err := cmd.Output()
	if err != nil {
		return nil, xerrors.Errorf("extract licenses via %s: %w", shell, err)
	}
	var blob struct {
		Licenses []string `json:"licenses"`
	}
	if err := json.Unmarshal(out, &blob); err != nil {
		return nil, xerrors.Errorf("parse license extractor output: %w", err)
	}
	return blob.Licenses, nil
}

// extractLicenses applies extractor to the manifest's plan source,
// returning an empty list (never an error) on failure, per spec.md §4.C
// "Failure to extract licenses yields an empty license list but does not
// fail the read."
func extractLicenses(extractor LicenseExtractor, planSource string) []string {
	if extractor == nil || strings.TrimSpace(planSource) == "" {
		return nil
	}
	licenses, err := extractor.ExtractLicenses(planSource)
	if err != nil {
		return nil
	}
	return licenses
}
