package artifact

import (
	"path"
	"strings"

	"github.com/habpkg/autobuild/internal/identity"
	"golang.org/x/xerrors"
)

// ownedPrefix reports the package identity that would own path p, i.e.
// parses the /<root>/pkgs/<origin>/<name>/<version>/<release>/... prefix
// of p regardless of whether that package is actually known.
func ownedPrefix(root, p string) (identity.Ident, error) {
	prefix := path.Join(root, "pkgs") + "/"
	if !strings.HasPrefix(p, prefix) {
		return identity.Ident{}, xerrors.Errorf("path %q is not under %q", p, prefix)
	}
	parts := strings.SplitN(strings.TrimPrefix(p, prefix), "/", 5)
	if len(parts) < 4 {
		return identity.Ident{}, xerrors.Errorf("path %q does not have a full package prefix", p)
	}
	return identity.Ident{Origin: parts[0], Name: parts[1], Version: parts[2], Release: parts[3]}, nil
}

// OwnedPrefix reports the package identity whose /<root>/pkgs/... prefix
// contains p, regardless of whether that package is actually known to the
// caller's closure. Used by the audit engine to distinguish "owner is not
// a transitive dependency" from "owner is this package itself".
func OwnedPrefix(root, p string) (identity.Ident, error) {
	return ownedPrefix(root, p)
}

// SubstituteOrigin replaces any $ORIGIN token in an rpath/runpath element
// with the absolute parent directory of the file that carries it, per
// spec.md §4.C.
func SubstituteOrigin(entry, containingDir string) string {
	return strings.ReplaceAll(entry, "$ORIGIN", containingDir)
}

// Resolve follows the symlink chain of target path p across package
// boundaries within closure (callers include the artifact under audit in
// closure under its own identity), returning
// the final path once no further substitution applies. visited, if
// non-nil, receives every intermediate path visited (including p itself
// and the final result), used by the script interpreter check to find a
// "listed interpreter" anywhere along the chain.
//
// Resolve is idempotent: Resolve(Resolve(p)) == Resolve(p).
func Resolve(root string, closure Closure, p string, visited *[]string) string {
	const maxHops = 256 // guards against a pathological link cycle
	cur := p
	if visited != nil {
		*visited = append(*visited, cur)
	}
	for hop := 0; hop < maxHops; hop++ {
		owner, err := ownedPrefix(root, cur)
		if err != nil {
			return cur
		}
		pkgCtx, known := closure[owner]
		if !known {
			return cur
		}
		if target, ok := pkgCtx.Links[cur]; ok {
			next := absolutize(target, path.Dir(cur))
			if next == cur {
				return cur
			}
			cur = next
			if visited != nil {
				*visited = append(*visited, cur)
			}
			continue
		}
		// (c): if a parent of cur is itself a link, rewrite by
		// substituting the parent prefix.
		rewrote := false
		for parent := path.Dir(cur); parent != "/" && parent != "."; parent = path.Dir(parent) {
			if target, ok := pkgCtx.Links[parent]; ok {
				newParent := absolutize(target, path.Dir(parent))
				cur = path.Join(newParent, strings.TrimPrefix(cur, parent))
				rewrote = true
				break
			}
		}
		if !rewrote {
			return cur
		}
		if visited != nil {
			*visited = append(*visited, cur)
		}
	}
	return cur
}

func absolutize(target, parentDir string) string {
	if path.IsAbs(target) {
		return path.Clean(target)
	}
	return path.Clean(path.Join(parentDir, target))
}
