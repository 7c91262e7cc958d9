package artifact

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

// writeHart assembles a minimal .hart file: 5 header lines followed by an
// XZ-compressed ustar stream built from entries, per spec.md §6/§4.C.
func writeHart(t *testing.T, entries []func(tw *tar.Writer)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.hart")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for i := 0; i < headerLines; i++ {
		if _, err := f.WriteString("header\n"); err != nil {
			t.Fatal(err)
		}
	}

	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	tw := tar.NewWriter(xw)
	for _, add := range entries {
		add(tw)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz Close: %v", err)
	}
	return path
}

func writeRegEntry(t *testing.T, tw *tar.Writer, name string, contents []byte) {
	t.Helper()
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(contents)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(contents); err != nil {
		t.Fatal(err)
	}
}

func writeLinkEntry(t *testing.T, tw *tar.Writer, typeflag byte, name, linkname string) {
	t.Helper()
	hdr := &tar.Header{
		Name:     name,
		Typeflag: typeflag,
		Linkname: linkname,
		Mode:     0o777,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
}

const (
	pkgPrefix = "/hab/pkgs/core/app/1.0/20240101000000"
	otherPkg  = "/hab/pkgs/core/zlib/1.0/20240101000000"
)

func baseEntries(t *testing.T) []func(tw *tar.Writer) {
	manifest := []byte("* __Target__: x86_64-linux\n")
	ident := []byte("core/app/1.0/20240101000000\n")
	return []func(tw *tar.Writer){
		func(tw *tar.Writer) { writeRegEntry(t, tw, pkgPrefix+"/MANIFEST", manifest) },
		func(tw *tar.Writer) { writeRegEntry(t, tw, pkgPrefix+"/IDENT", ident) },
	}
}

func TestReadPopulatesIdentityAndTarget(t *testing.T) {
	path := writeHart(t, baseEntries(t))
	ctx, err := Read(path, Options{Root: "/hab"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ctx.Identity.String() != "core/app/1.0/20240101000000" {
		t.Errorf("Identity = %s, want core/app/1.0/20240101000000", ctx.Identity.String())
	}
	if ctx.Target.String() != "x86_64-linux" {
		t.Errorf("Target = %s, want x86_64-linux", ctx.Target.String())
	}
	if !ctx.Dirty {
		t.Errorf("expected Dirty to be true for a freshly read artifact")
	}
}

func TestReadPopulatesEmptyLinks(t *testing.T) {
	entries := baseEntries(t)
	entries = append(entries,
		func(tw *tar.Writer) { writeLinkEntry(t, tw, tar.TypeSymlink, pkgPrefix+"/lib/dangling.so", "") },
		func(tw *tar.Writer) { writeLinkEntry(t, tw, tar.TypeLink, pkgPrefix+"/bin/broken-hardlink", "") },
	)
	path := writeHart(t, entries)

	ctx, err := Read(path, Options{Root: "/hab"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ctx.EmptyLinks[pkgPrefix+"/lib/dangling.so"] {
		t.Errorf("expected %s/lib/dangling.so to be recorded in EmptyLinks", pkgPrefix)
	}
	if !ctx.EmptyLinks[pkgPrefix+"/bin/broken-hardlink"] {
		t.Errorf("expected %s/bin/broken-hardlink to be recorded in EmptyLinks", pkgPrefix)
	}
	if len(ctx.Links) != 0 || len(ctx.BrokenLinks) != 0 {
		t.Errorf("an empty-Linkname entry must not also populate Links/BrokenLinks, got Links=%v BrokenLinks=%v", ctx.Links, ctx.BrokenLinks)
	}
}

func TestReadPopulatesLinksAndBrokenLinks(t *testing.T) {
	entries := baseEntries(t)
	entries = append(entries,
		func(tw *tar.Writer) {
			writeLinkEntry(t, tw, tar.TypeSymlink, pkgPrefix+"/lib/libapp.so", "../../../../zlib/1.0/20240101000000/lib/libz.so")
		},
		func(tw *tar.Writer) { writeLinkEntry(t, tw, tar.TypeSymlink, pkgPrefix+"/lib/external.so", "/usr/lib/external.so") },
	)
	path := writeHart(t, entries)

	ctx, err := Read(path, Options{Root: "/hab"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if target, ok := ctx.Links[pkgPrefix+"/lib/libapp.so"]; !ok || target != otherPkg+"/lib/libz.so" {
		t.Errorf("Links[%s/lib/libapp.so] = %q, %v, want %s/lib/libz.so, true", pkgPrefix, target, ok, otherPkg)
	}
	if target, ok := ctx.BrokenLinks[pkgPrefix+"/lib/external.so"]; !ok || target != "/usr/lib/external.so" {
		t.Errorf("BrokenLinks[%s/lib/external.so] = %q, %v, want /usr/lib/external.so, true", pkgPrefix, target, ok)
	}
	if len(ctx.EmptyLinks) != 0 {
		t.Errorf("a populated Linkname must not be recorded in EmptyLinks, got %v", ctx.EmptyLinks)
	}
}

func TestReadRejectsMissingTarget(t *testing.T) {
	entries := []func(tw *tar.Writer){
		func(tw *tar.Writer) { writeRegEntry(t, tw, pkgPrefix+"/IDENT", []byte("core/app/1.0/20240101000000\n")) },
	}
	path := writeHart(t, entries)

	if _, err := Read(path, Options{Root: "/hab"}); err == nil {
		t.Fatal("expected an error for a .hart with no MANIFEST, got nil")
	}
}
