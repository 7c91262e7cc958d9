// Package artifact parses .hart package archives into structured,
// hashed artifact contexts, and resolves paths through a package's
// symlink closure.
package artifact

import (
	"time"

	"github.com/habpkg/autobuild/internal/identity"
)

// PackageKind distinguishes packages built without a studio sandbox
// (native) from those built inside one (standard).
type PackageKind int

const (
	KindStandard PackageKind = iota
	KindNative
)

// ELFType is the shape of an ELF file, derived from e_type and the
// dynamic table per the ELF ABI rules in SPEC_FULL.md / spec.md §4.C.
type ELFType int

const (
	ELFOther ELFType = iota
	ELFExec
	ELFSharedLib
	ELFPIE
	ELFRelocatable
)

// ELFMeta is the per-file ELF metadata recorded for every ELF member of
// an artifact.
type ELFMeta struct {
	RequiredLibraries []string
	RPath             []string
	RunPath           []string
	Interpreter       string // "" if none
	Type              ELFType
	IsExecutable      bool
}

// MachOFileType mirrors Mach-O's notion of file kind.
type MachOFileType int

const (
	MachOOther MachOFileType = iota
	MachODynamicLibrary
	MachODynamicLibraryStub
	MachOExecutable
	MachOBundle
	MachOObject
)

// MachOArch is one per-architecture record inside a (possibly fat)
// Mach-O file.
type MachOArch struct {
	Arch              string
	Name              string // install name, may be empty
	RPath             []string
	RequiredLibraries []string
	FileType          MachOFileType
}

// MachOMeta is the per-file Mach-O metadata: a fat archive is a list of
// per-architecture records.
type MachOMeta struct {
	Archs []MachOArch
}

// ShebangMeta is the per-file shebang script metadata.
type ShebangMeta struct {
	InterpreterRaw     string
	InterpreterCommand string
	InterpreterArgs    []string
	IsExecutable       bool
}

// SourceDescriptor is the (url, sha256) pair identifying an upstream
// source archive.
type SourceDescriptor struct {
	URL    string
	SHA256 string
}

// Context is the fully parsed, hashed record produced from reading one
// .hart file. It is produced once per artifact and cached by hash.
type Context struct {
	Identity identity.Ident
	FileHash string // BLAKE3 hex digest of the .hart file
	Target   identity.Target
	Kind     PackageKind

	RuntimeDeps   []identity.Ident // declared direct runtime deps
	BuildDeps     []identity.Ident // declared direct build deps
	TransitiveRuntimeDeps []identity.Ident // precomputed closure, embedded in the artifact

	RuntimePath []string // ordered directories forming the executable search path
	Interpreters []string // listed interpreter paths

	Source   *SourceDescriptor // nil for packages with no upstream source
	Licenses []string

	ELF     map[string]ELFMeta     // key: absolute path within the artifact
	MachO   map[string]MachOMeta
	Shebang map[string]ShebangMeta

	// Links maps an absolute symlink/hardlink path to its (already
	// canonicalized) target, when the target resolves within a
	// /pkgs/... prefix. BrokenLinks holds those that don't.
	Links       map[string]string
	BrokenLinks map[string]string
	EmptyLinks  map[string]bool

	// EmptyTopLevelDirs holds top-level package directories (the first
	// directory level below /<root>/pkgs/<origin>/<name>/<version>/<release>,
	// i.e. 8 path components counting the leading "/" and a one-component
	// root) that ended up containing nothing.
	EmptyTopLevelDirs map[string]bool

	CreatedAt time.Time
	Dirty     bool // true iff freshly parsed, false if loaded from a store cache
}

// Closure is the map of an artifact's transitive dependency identities to
// their already-read contexts, used to resolve paths and required
// libraries across package boundaries.
type Closure map[identity.Ident]*Context

// OwningPackage returns the Ident in c whose /pkgs/<origin>/<name>/
// <version>/<release> prefix owns p, if any.
func (c Closure) OwningPackage(root, p string) (identity.Ident, bool) {
	owned, err := ownedPrefix(root, p)
	if err != nil {
		return identity.Ident{}, false
	}
	if _, ok := c[owned]; ok {
		return owned, true
	}
	return identity.Ident{}, false
}
