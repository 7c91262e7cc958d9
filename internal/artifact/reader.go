package artifact

import (
	"archive/tar"
	"bufio"
	"bytes"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/habpkg/autobuild/internal/filekind"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

// headerLines is the number of newline-terminated lines a .hart file
// begins with, ignored by the reader but required to be present.
const headerLines = 5

// maxHeaderLineLen is the largest tolerated single header line, per
// spec.md §6.
const maxHeaderLineLen = 4096

// BadArtifactHeader, ArtifactCorrupt and ArtifactMissingTarget are the
// parse failure modes named in spec.md §4.C.
var (
	ErrBadArtifactHeader    = xerrors.New("bad artifact header")
	ErrArtifactCorrupt      = xerrors.New("artifact corrupt")
	ErrArtifactMissingTarget = xerrors.New("artifact missing target")
)

// metadataGlobs are the fixed filenames that the reader parses textually
// instead of probing by content. An entry is matched by its base name
// alone, at any depth in the archive.
var metadataGlobs = map[string]bool{
	"MANIFEST":         true,
	"IDENT":            true,
	"DEPS":             true,
	"TDEPS":            true,
	"BUILD_DEPS":       true,
	"PACKAGE_TYPE":     true,
	"RUNTIME_PATH":     true,
	"INTERPRETERS":     true,
	"PKG_CONFIG_PATH":  true,
}

// Options configures a Read invocation.
type Options struct {
	Root             string // the /<root> package path prefix
	PrecomputedHash  string // skip hashing if already known
	LicenseExtractor LicenseExtractor
	IsMacOS          bool
	IsWindows        bool
}

// Read streams a .hart archive at fsPath: skips the header, decompresses
// the XZ body, parses the ustar stream, and collects metadata per
// spec.md §4.C. The resulting Context has Dirty set to true.
func Read(fsPath string, opts Options) (*Context, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", fsPath, err)
	}
	defer f.Close()

	var hashBuf bytes.Buffer
	var body io.Reader = f
	if opts.PrecomputedHash == "" {
		body = io.TeeReader(f, &hashBuf)
	}

	br := bufio.NewReader(body)
	if err := skipHeaderLines(br); err != nil {
		return nil, xerrors.Errorf("%s: %w", fsPath, err)
	}

	xr, err := xz.NewReader(br)
	if err != nil {
		return nil, xerrors.Errorf("%s: decompress xz body: %w: %v", fsPath, ErrArtifactCorrupt, err)
	}
	tr := tar.NewReader(xr)

	ctx := &Context{
		ELF:               map[string]ELFMeta{},
		MachO:             map[string]MachOMeta{},
		Shebang:           map[string]ShebangMeta{},
		Links:             map[string]string{},
		BrokenLinks:       map[string]string{},
		EmptyLinks:        map[string]bool{},
		EmptyTopLevelDirs: map[string]bool{},
		CreatedAt:         time.Now(),
		Dirty:             true,
	}

	var manifest manifestFields
	var haveManifest bool
	var ident, deps, tdeps, buildDeps identLines
	var packageTypeRaw string
	var runtimePathRaw string
	var interpretersRaw []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("%s: read tar entry: %w: %v", fsPath, ErrArtifactCorrupt, err)
		}
		rebased := "/" + strings.TrimPrefix(path.Clean(hdr.Name), "/")

		switch hdr.Typeflag {
		case tar.TypeDir:
			if countComponents(rebased) == 7 {
				ctx.EmptyTopLevelDirs[rebased] = true
			}
			continue
		case tar.TypeSymlink, tar.TypeLink:
			if hdr.Linkname == "" {
				ctx.EmptyLinks[rebased] = true
				markNonEmpty(ctx, rebased)
				continue
			}
			target := canonicalizeLinkTarget(rebased, hdr.Linkname)
			if identity.IsPackagePath(opts.Root, target) {
				ctx.Links[rebased] = target
			} else {
				ctx.BrokenLinks[rebased] = target
			}
			markNonEmpty(ctx, rebased)
			continue
		case tar.TypeReg, tar.TypeRegA:
			// fallthrough below
		default:
			continue
		}

		markNonEmpty(ctx, rebased)
		base := path.Base(rebased)
		executable := hdr.FileInfo().Mode()&0o111 != 0

		if metadataGlobs[base] {
			raw, err := io.ReadAll(tr)
			if err != nil {
				return nil, xerrors.Errorf("%s: read %s: %w: %v", fsPath, rebased, ErrArtifactCorrupt, err)
			}
			switch base {
			case "MANIFEST":
				manifest = ParseManifest(raw)
				haveManifest = true
			case "IDENT":
				ident = parseIdentLines(raw)
			case "DEPS":
				deps = parseIdentLines(raw)
			case "TDEPS":
				tdeps = parseIdentLines(raw)
			case "BUILD_DEPS":
				buildDeps = parseIdentLines(raw)
			case "PACKAGE_TYPE":
				packageTypeRaw = strings.TrimSpace(string(raw))
			case "RUNTIME_PATH":
				runtimePathRaw = strings.TrimSpace(string(raw))
			case "INTERPRETERS":
				interpretersRaw = splitLines(raw)
			}
			continue
		}

		// Other regular file: probe first 1KiB, parse full contents only
		// if it looks like ELF or a shebang script.
		probe := make([]byte, filekind.ProbeSize())
		n, _ := io.ReadFull(tr, probe)
		probe = probe[:n]
		kind := filekind.Classify(probe)
		if kind != filekind.ELF && kind != filekind.ShebangScript {
			io.Copy(io.Discard, tr) // drain remainder
			continue
		}
		rest, err := io.ReadAll(tr)
		if err != nil {
			return nil, xerrors.Errorf("%s: read %s: %w: %v", fsPath, rebased, ErrArtifactCorrupt, err)
		}
		full := append(probe, rest...)
		switch kind {
		case filekind.ELF:
			meta, err := ParseELF(full, path.Dir(rebased), executable)
			if err == nil {
				ctx.ELF[rebased] = meta
			}
		case filekind.ShebangScript:
			ctx.Shebang[rebased] = ParseShebang(firstLine(full), executable)
		}
	}

	if !haveManifest {
		return nil, xerrors.Errorf("%s: %w", fsPath, ErrArtifactMissingTarget)
	}
	if manifest.Target == "" {
		return nil, xerrors.Errorf("%s: %w", fsPath, ErrArtifactMissingTarget)
	}
	target, err := identity.ParseTarget(manifest.Target)
	if err != nil {
		return nil, xerrors.Errorf("%s: parse target: %w", fsPath, err)
	}
	ctx.Target = target

	if len(ident) != 1 {
		return nil, xerrors.Errorf("%s: expected exactly one IDENT line, got %d", fsPath, len(ident))
	}
	ctx.Identity = ident[0]
	if manifest.Source != "" {
		ctx.Source = &SourceDescriptor{URL: manifest.Source, SHA256: manifest.SHA256}
	}
	ctx.Licenses = extractLicenses(opts.LicenseExtractor, manifest.PlanSource)
	ctx.RuntimeDeps = deps
	ctx.BuildDeps = buildDeps
	ctx.TransitiveRuntimeDeps = tdeps
	ctx.Interpreters = interpretersRaw
	if runtimePathRaw != "" {
		ctx.RuntimePath = strings.Split(runtimePathRaw, ":")
	}
	switch packageTypeRaw {
	case "native":
		ctx.Kind = KindNative
	default:
		ctx.Kind = KindStandard
	}

	if opts.PrecomputedHash != "" {
		ctx.FileHash = opts.PrecomputedHash
	} else {
		// The tar reader can stop before the end of the file (trailing
		// padding); drain the rest so the digest covers the whole file.
		if _, err := io.Copy(io.Discard, br); err != nil {
			return nil, xerrors.Errorf("%s: hash: %w", fsPath, err)
		}
		h := blake3.New()
		if _, err := h.Write(hashBuf.Bytes()); err != nil {
			return nil, xerrors.Errorf("%s: hash: %w", fsPath, err)
		}
		ctx.FileHash = hexDigest(h)
	}

	return ctx, nil
}

func skipHeaderLines(r *bufio.Reader) error {
	for i := 0; i < headerLines; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return xerrors.Errorf("%w: header line %d: %v", ErrBadArtifactHeader, i+1, err)
		}
		if len(line) > maxHeaderLineLen {
			return xerrors.Errorf("%w: header line %d exceeds %d bytes", ErrBadArtifactHeader, i+1, maxHeaderLineLen)
		}
	}
	return nil
}

func countComponents(p string) int {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0
	}
	return len(strings.Split(p, "/"))
}

func markNonEmpty(ctx *Context, p string) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if ctx.EmptyTopLevelDirs[dir] {
			delete(ctx.EmptyTopLevelDirs, dir)
		}
	}
}

// canonicalizeLinkTarget absolutizes a tar link target relative to the
// entry's own directory, as os.Readlink + filepath.EvalSymlinks would for
// an on-disk link, without touching the filesystem.
func canonicalizeLinkTarget(entryPath, linkname string) string {
	if path.IsAbs(linkname) {
		return path.Clean(linkname)
	}
	return path.Clean(path.Join(path.Dir(entryPath), linkname))
}

type identLines []identity.Ident

func parseIdentLines(raw []byte) identLines {
	var out identLines
	for _, line := range splitLines(raw) {
		id, err := identity.Parse(line)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func splitLines(raw []byte) []string {
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// HashFile computes the BLAKE3 hex digest of an entire file, used by the
// artifact cache to key its store lookups before deciding whether a full
// Read is necessary.
func HashFile(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", xerrors.Errorf("open %s: %w", fsPath, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", xerrors.Errorf("hash %s: %w", fsPath, err)
	}
	return hexDigest(h), nil
}

func hexDigest(h *blake3.Hasher) string {
	sum := h.Sum(nil)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
