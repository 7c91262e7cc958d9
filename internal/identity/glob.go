package identity

import (
	"path"
	"strings"

	"golang.org/x/xerrors"
)

// GlobMatcher compiles 1-4 shell-style glob segments (one per identity
// component: origin, name, version, release) that are combined with AND.
// Each segment supports '*', '?', '[...]' and, as a distri extension,
// '**' meaning "match the whole segment unconditionally" (kept distinct
// from '*' for documentation purposes, since a single segment can never
// itself contain a '/').
type GlobMatcher struct {
	segments []string // compiled path.Match patterns; empty means "match anything"
}

// CompileGlob compiles a "origin/name[/version[/release]]" glob pattern,
// where each segment may itself be a glob.
func CompileGlob(pattern string) (*GlobMatcher, error) {
	segs := strings.Split(pattern, "/")
	if len(segs) < 1 || len(segs) > 4 {
		return nil, xerrors.Errorf("compile glob %q: expected 1-4 segments, got %d", pattern, len(segs))
	}
	for _, s := range segs {
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, xerrors.Errorf("compile glob %q: invalid segment %q: %w", pattern, s, err)
		}
	}
	return &GlobMatcher{segments: segs}, nil
}

func matchSegment(pattern, value string) bool {
	if pattern == "**" || pattern == "" {
		return true
	}
	ok, _ := path.Match(pattern, value)
	return ok
}

// MatchIdent reports whether m matches the origin/name/version/release of
// id. Missing trailing glob segments are treated as wildcards.
func (m *GlobMatcher) MatchIdent(id Ident) bool {
	return m.matchComponents(id.Origin, id.Name, id.Version, id.Release)
}

// MatchDepIdent reports whether m matches a dependency identity.
func (m *GlobMatcher) MatchDepIdent(d DepIdent) bool {
	return m.matchComponents(d.Origin, d.Name, d.Version, d.Release)
}

func (m *GlobMatcher) matchComponents(origin, name, version, release string) bool {
	vals := [4]string{origin, name, version, release}
	for i, pattern := range m.segments {
		if !matchSegment(pattern, vals[i]) {
			return false
		}
	}
	return true
}
