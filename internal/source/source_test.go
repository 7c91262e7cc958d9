package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/habpkg/autobuild/internal/store"
)

func writeTemp(t *testing.T, dir string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, "download.part")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestVerifyAndStoreMatch(t *testing.T) {
	dir := t.TempDir()
	l := Layout{Dir: filepath.Join(dir, "store")}
	st := store.NewMemory()

	body := []byte("source archive contents")
	tmp := writeTemp(t, dir, body)
	want := sha256Hex(body)

	got, err := VerifyAndStore(context.Background(), l, st, Descriptor{URL: "https://example.invalid/a.tar.gz", SHA256: want}, tmp)
	if err != nil {
		t.Fatalf("VerifyAndStore: %v", err)
	}
	if got != l.sourcePath(want) {
		t.Errorf("stored path = %s, want %s", got, l.sourcePath(want))
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("expected the verified file at %s: %v", got, err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("expected the temp file to be moved, not copied")
	}

	ok, err := Verified(context.Background(), l, st, want)
	if err != nil || !ok {
		t.Errorf("Verified(%s) = %v, %v, want true, nil", want, ok, err)
	}
}

func TestVerifyAndStoreMismatchQuarantines(t *testing.T) {
	dir := t.TempDir()
	l := Layout{Dir: filepath.Join(dir, "store")}
	st := store.NewMemory()

	body := []byte("tampered contents")
	tmp := writeTemp(t, dir, body)
	actual := sha256Hex(body)

	_, err := VerifyAndStore(context.Background(), l, st, Descriptor{URL: "https://example.invalid/a.tar.gz", SHA256: "0000000000000000000000000000000000000000000000000000000000000"}, tmp)
	if err == nil {
		t.Fatalf("expected a mismatch error")
	}
	mismatch, ok := err.(*MismatchError)
	if !ok {
		t.Fatalf("expected *MismatchError, got %T: %v", err, err)
	}
	if mismatch.Got != actual {
		t.Errorf("mismatch.Got = %s, want %s", mismatch.Got, actual)
	}

	if _, err := os.Stat(l.invalidSourcePath(actual)); err != nil {
		t.Errorf("expected the bad file quarantined at %s: %v", l.invalidSourcePath(actual), err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("expected the temp file moved out of the tmp dir on mismatch")
	}
	if _, ok, _ := st.GetSourceContext(context.Background(), actual); ok {
		t.Errorf("a quarantined source must not be recorded as a verified SourceContext")
	}
}

func TestVerifiedMissing(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	st := store.NewMemory()
	ok, err := Verified(context.Background(), l, st, "deadbeef")
	if err != nil || ok {
		t.Fatalf("expected no verified source, got ok=%v err=%v", ok, err)
	}
}
