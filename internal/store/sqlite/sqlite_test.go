package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArtifactContextRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetArtifactContext(ctx, "deadbeef"); err != nil || ok {
		t.Fatalf("expected a miss before any insert, got ok=%v err=%v", ok, err)
	}

	ac := &artifact.Context{
		Identity: identity.Ident{Origin: "core", Name: "glibc", Version: "2.39", Release: "20240101000000"},
		FileHash: "deadbeef",
		Target:   identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux},
		Dirty:    true,
	}
	if err := s.PutArtifactContext(ctx, "deadbeef", ac); err != nil {
		t.Fatalf("PutArtifactContext: %v", err)
	}

	got, ok, err := s.GetArtifactContext(ctx, "deadbeef")
	if err != nil || !ok {
		t.Fatalf("expected a hit after insert, got ok=%v err=%v", ok, err)
	}
	if got.Identity != ac.Identity {
		t.Errorf("Identity = %+v, want %+v", got.Identity, ac.Identity)
	}
	if got.Dirty {
		t.Errorf("a context loaded from the store must not be Dirty")
	}
}

func TestArtifactContextOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &artifact.Context{FileHash: "h1", Identity: identity.Ident{Origin: "core", Name: "a", Version: "1.0", Release: "1"}}
	second := &artifact.Context{FileHash: "h1", Identity: identity.Ident{Origin: "core", Name: "b", Version: "2.0", Release: "2"}}

	if err := s.PutArtifactContext(ctx, "h1", first); err != nil {
		t.Fatal(err)
	}
	if err := s.PutArtifactContext(ctx, "h1", second); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetArtifactContext(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Identity.Name != "b" {
		t.Errorf("expected the second insert to replace the first, got %+v", got.Identity)
	}
}

func TestSourceContextRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sc := &store.SourceContext{SHA256: "abc123", URL: "https://example.invalid/src.tar.gz", FetchedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.PutSourceContext(ctx, sc); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetSourceContext(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.URL != sc.URL {
		t.Errorf("URL = %q, want %q", got.URL, sc.URL)
	}
}

func TestSourceContextMiss(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.GetSourceContext(context.Background(), "nonexistent"); err != nil || ok {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
}

func TestFileModificationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	real := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	m := store.FileModification{
		PlanContextPath:     "core/glibc",
		FilePath:            "build.sh",
		RealModifiedAt:      real,
		AlternateModifiedAt: alt,
	}
	if err := s.PutFileModification(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetFileModification(ctx, "core/glibc", "build.sh", real)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !got.Equal(alt) {
		t.Errorf("AlternateModifiedAt = %v, want %v", got, alt)
	}

	if _, ok, err := s.GetFileModification(ctx, "core/glibc", "other.sh", real); err != nil || ok {
		t.Fatalf("expected a miss for a different file path, got ok=%v err=%v", ok, err)
	}
}

func TestBuildDurationRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetBuildDuration(ctx, "core/glibc"); err != nil || ok {
		t.Fatalf("expected a miss before any insert, got ok=%v err=%v", ok, err)
	}

	want := 42*time.Second + 500*time.Millisecond
	if err := s.PutBuildDuration(ctx, "core/glibc", want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetBuildDuration(ctx, "core/glibc")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if diff := got - want; diff > time.Millisecond || diff < -time.Millisecond {
		t.Errorf("GetBuildDuration = %v, want %v", got, want)
	}
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.sqlite")
	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.PutBuildDuration(context.Background(), "core/a", time.Second); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening an existing database must not fail: %v", err)
	}
	defer s2.Close()
	if _, ok, err := s2.GetBuildDuration(context.Background(), "core/a"); err != nil || !ok {
		t.Fatalf("expected data to survive reopen, got ok=%v err=%v", ok, err)
	}
}
