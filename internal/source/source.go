// Package source implements the spec.md §3 "Source descriptor" invariant:
// a successful download produces a file whose SHA-256 equals the
// declared value bit-exact, otherwise the file is quarantined and the
// operation fails. The HTTP/FTP downloader itself (original_source's
// src/core/download.rs) is an out-of-core collaborator per spec.md §1;
// this package is what it would call once the bytes are on disk.
// Grounded on original_source's src/core/package_source.rs
// verify_pkg_archive and src/store/mod.rs's package_source_store_path /
// invalid_source_store_path.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/habpkg/autobuild/internal/store"
	"golang.org/x/xerrors"
)

// Descriptor is the (url, sha256) pair of spec.md §3 "Source descriptor".
type Descriptor struct {
	URL    string
	SHA256 string
}

// MismatchError reports that a downloaded file's actual hash did not
// match its declared Descriptor, per spec.md §3's invariant.
type MismatchError struct {
	Want, Got string
}

func (e *MismatchError) Error() string {
	return xerrors.Errorf("source hash mismatch: want %s, got %s", e.Want, e.Got).Error()
}

// Layout gives the on-disk store paths for source archives, per spec.md
// §6 Store layout "sources/<sha256>/source" and
// "invalid-sources/<sha256>/source".
type Layout struct {
	Dir string
}

func (l Layout) sourcePath(hash string) string {
	return filepath.Join(l.Dir, "sources", hash, "source")
}

func (l Layout) invalidSourcePath(hash string) string {
	return filepath.Join(l.Dir, "invalid-sources", hash, "source")
}

// VerifyAndStore computes the SHA-256 of the file at tmpPath. If it
// matches d.SHA256, the file is moved into the store's sources/<sha256>/
// directory and a SourceContext is recorded in st; VerifyAndStore returns
// the final path. If it does not match, the file is moved (never
// deleted) into invalid-sources/<actual-sha256>/source for forensic
// inspection and VerifyAndStore returns a *MismatchError.
func VerifyAndStore(ctx context.Context, l Layout, st store.Store, d Descriptor, tmpPath string) (string, error) {
	got, err := hashFile(tmpPath)
	if err != nil {
		return "", xerrors.Errorf("hash %s: %w", tmpPath, err)
	}

	if got != d.SHA256 {
		dst := l.invalidSourcePath(got)
		if err := moveInto(tmpPath, dst); err != nil {
			return "", xerrors.Errorf("quarantine %s: %w", tmpPath, err)
		}
		return "", &MismatchError{Want: d.SHA256, Got: got}
	}

	dst := l.sourcePath(got)
	if err := moveInto(tmpPath, dst); err != nil {
		return "", xerrors.Errorf("store verified source %s: %w", tmpPath, err)
	}

	sc := &store.SourceContext{SHA256: got, URL: d.URL, FetchedAt: time.Now().UTC()}
	if err := st.PutSourceContext(ctx, sc); err != nil {
		return "", xerrors.Errorf("recording source context for %s: %w", got, err)
	}
	return dst, nil
}

// Verified reports whether sha256 already has a verified copy on disk in
// the store, consulting st first (matching original_source's
// auto_build.rs re-verify-before-redownload check) and falling back to a
// direct stat when the store has no record yet.
func Verified(ctx context.Context, l Layout, st store.Store, hash string) (bool, error) {
	if _, ok, err := st.GetSourceContext(ctx, hash); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	_, err := os.Stat(l.sourcePath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func moveInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	return nil
}
