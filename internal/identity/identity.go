// Package identity parses and formats package identities, build targets,
// and the /<root>/pkgs/... path layout, and matches dependency patterns
// against resolved identities.
package identity

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// segmentRe is the identifier regex that every path/identity component
// other than the version must satisfy.
var segmentRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// versionRe accepts one or more identifier runs joined by single dots, so
// that dotted versions such as "2.39" are valid while "." and ".." are not.
var versionRe = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// Arch and OS enumerate the known target dimensions.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAArch64 Arch = "aarch64"
)

type OS string

const (
	OSLinux   OS = "linux"
	OSDarwin  OS = "darwin"
	OSWindows OS = "windows"
)

// Target is the (arch, os) pair every identity carries.
type Target struct {
	Arch Arch
	OS   OS
}

func (t Target) String() string { return string(t.Arch) + "-" + string(t.OS) }

func ParseTarget(s string) (Target, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Target{}, xerrors.Errorf("parse target %q: expected <arch>-<os>", s)
	}
	arch := Arch(parts[0])
	os := OS(parts[1])
	switch arch {
	case ArchX86_64, ArchAArch64:
	default:
		return Target{}, xerrors.Errorf("parse target %q: unknown arch %q", s, parts[0])
	}
	switch os {
	case OSLinux, OSDarwin, OSWindows:
	default:
		return Target{}, xerrors.Errorf("parse target %q: unknown os %q", s, parts[1])
	}
	return Target{Arch: arch, OS: os}, nil
}

// DynamicVersion is the sentinel meaning "computed at build time".
const DynamicVersion = "\x00dynamic"

// Unresolved marks a dependency identity segment ("latest") as a wildcard.
const Unresolved = ""

// Ident is the 5-tuple package identity. Release is empty for a build
// identity (unknown pre-build) and may be Unresolved on a dependency
// identity, along with Version.
type Ident struct {
	Origin  string
	Name    string
	Version string
	Release string
	Target  Target
}

// String formats an identity as origin/name/version/release. A build
// identity (empty Release) formats without a trailing release segment.
func (i Ident) String() string {
	var b strings.Builder
	b.WriteString(i.Origin)
	b.WriteByte('/')
	b.WriteString(i.Name)
	if i.Version != "" {
		b.WriteByte('/')
		b.WriteString(i.Version)
		if i.Release != "" {
			b.WriteByte('/')
			b.WriteString(i.Release)
		}
	}
	return b.String()
}

// BuildIdent drops the release, producing the build-form identity.
func (i Ident) BuildIdent() Ident {
	i.Release = ""
	return i
}

// validSegment reports whether s satisfies the identifier regex and is
// non-empty.
func validSegment(s string) bool {
	return s != "" && segmentRe.MatchString(s)
}

// validVersion reports whether s satisfies versionRe and is non-empty.
func validVersion(s string) bool {
	return s != "" && versionRe.MatchString(s)
}

// Parse parses an "origin/name[/version[/release]]" string into an
// Ident. Any segment failing the identifier regex is rejected.
func Parse(s string) (Ident, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return Ident{}, xerrors.Errorf("parse identity %q: expected 2-4 segments, got %d", s, len(parts))
	}
	var id Ident
	id.Origin = parts[0]
	id.Name = parts[1]
	if len(parts) >= 3 {
		id.Version = parts[2]
	}
	if len(parts) == 4 {
		id.Release = parts[3]
	}
	if !validSegment(id.Origin) {
		return Ident{}, xerrors.Errorf("parse identity %q: invalid origin segment %q", s, id.Origin)
	}
	if !validSegment(id.Name) {
		return Ident{}, xerrors.Errorf("parse identity %q: invalid name segment %q", s, id.Name)
	}
	if id.Version != "" && !validVersion(id.Version) {
		return Ident{}, xerrors.Errorf("parse identity %q: invalid version segment %q", s, id.Version)
	}
	if id.Release != "" && !validSegment(id.Release) {
		return Ident{}, xerrors.Errorf("parse identity %q: invalid release segment %q", s, id.Release)
	}
	return id, nil
}

// Less orders identities lexicographically on (origin, name, version,
// release), with releases compared as timestamp-like strings and
// DynamicVersion ordered strictly greater than any static version (see
// SPEC_FULL.md open question (b)).
func Less(a, b Ident) bool {
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Version != b.Version {
		return versionLess(a.Version, b.Version)
	}
	return releaseLess(a.Release, b.Release)
}

func versionLess(a, b string) bool {
	aDyn := a == DynamicVersion
	bDyn := b == DynamicVersion
	switch {
	case aDyn && bDyn:
		return false
	case aDyn:
		return false // Dynamic sorts after everything else
	case bDyn:
		return true
	default:
		return a < b
	}
}

// releaseLess compares release strings as timestamp-like strings. distri
// releases are monotonically increasing decimal timestamps
// (YYYYMMDDHHMMSS), so a numeric comparison with string fallback handles
// both well-formed and malformed releases without panicking.
func releaseLess(a, b string) bool {
	an, aerr := strconv.ParseUint(a, 10, 64)
	bn, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}

// Equal reports whether two identities are equal, treating DynamicVersion
// as never equal to anything (including another DynamicVersion), per
// SPEC_FULL.md open question (b).
func Equal(a, b Ident) bool {
	if a.Version == DynamicVersion || b.Version == DynamicVersion {
		return false
	}
	return a == b
}

// DepIdent is a dependency identity: like Ident, but Version and Release
// may be Unresolved (wildcards meaning "latest").
type DepIdent struct {
	Origin  string
	Name    string
	Version string // Unresolved ("") means "latest"
	Release string // Unresolved ("") means "latest"
	Target  Target
}

// ParseDep parses a dependency identity string, same grammar as Parse but
// missing trailing segments mean Unresolved rather than an error.
func ParseDep(s string) (DepIdent, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return DepIdent{}, xerrors.Errorf("parse dependency identity %q: expected 2-4 segments, got %d", s, len(parts))
	}
	var d DepIdent
	d.Origin = parts[0]
	d.Name = parts[1]
	if len(parts) >= 3 {
		d.Version = parts[2]
	}
	if len(parts) == 4 {
		d.Release = parts[3]
	}
	if !validSegment(d.Origin) {
		return DepIdent{}, xerrors.Errorf("parse dependency identity %q: invalid origin segment %q", s, d.Origin)
	}
	if !validSegment(d.Name) {
		return DepIdent{}, xerrors.Errorf("parse dependency identity %q: invalid name segment %q", s, d.Name)
	}
	if d.Version != "" && !validVersion(d.Version) {
		return DepIdent{}, xerrors.Errorf("parse dependency identity %q: invalid version segment %q", s, d.Version)
	}
	if d.Release != "" && !validSegment(d.Release) {
		return DepIdent{}, xerrors.Errorf("parse dependency identity %q: invalid release segment %q", s, d.Release)
	}
	return d, nil
}

func (d DepIdent) String() string {
	return Ident{Origin: d.Origin, Name: d.Name, Version: d.Version, Release: d.Release}.String()
}

// Matches reports whether dependency identity d matches package identity
// p: origins and names must be equal, and wherever d resolves
// version/release, those must equal p's.
func (d DepIdent) Matches(p Ident) bool {
	if d.Origin != p.Origin || d.Name != p.Name {
		return false
	}
	if d.Version != Unresolved && d.Version != p.Version {
		return false
	}
	if d.Release != Unresolved && d.Release != p.Release {
		return false
	}
	return true
}

// PackagePath formats the on-disk /<root>/pkgs/... path for an identity.
// release must be non-empty (a built artifact always has one).
func PackagePath(root string, id Ident) (string, error) {
	if id.Version == "" || id.Release == "" {
		return "", xerrors.Errorf("format package path for %v: version and release are required", id)
	}
	return path.Join(root, "pkgs", id.Origin, id.Name, id.Version, id.Release), nil
}

// IsPackagePath reports whether p begins with <root>/pkgs/<origin>/<name>/
// <version>/<release> and each component satisfies the identifier regex.
func IsPackagePath(root, p string) bool {
	_, err := PathToIdent(root, p)
	return err == nil
}

// PathToIdent is the inverse of PackagePath: it recovers the identity
// (without Target, which is not encoded in the path) from a package path,
// failing on any component mismatch.
func PathToIdent(root, p string) (Ident, error) {
	prefix := path.Join(root, "pkgs") + "/"
	if !strings.HasPrefix(p, prefix) {
		return Ident{}, xerrors.Errorf("path %q does not begin with %q", p, prefix)
	}
	rest := strings.TrimPrefix(p, prefix)
	parts := strings.SplitN(rest, "/", 5)
	if len(parts) < 4 {
		return Ident{}, xerrors.Errorf("path %q: expected origin/name/version/release, got %d components", p, len(parts))
	}
	id := Ident{Origin: parts[0], Name: parts[1], Version: parts[2], Release: parts[3]}
	if !validSegment(id.Origin) || !validSegment(id.Name) || !validVersion(id.Version) || !validSegment(id.Release) {
		return Ident{}, xerrors.Errorf("path %q: component fails identifier regex", p)
	}
	return id, nil
}
