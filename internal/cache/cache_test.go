package cache

import (
	"context"
	"testing"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/store"
)

func insertArtifact(t *testing.T, c *Cache, version, release string) {
	t.Helper()
	ac := &artifact.Context{
		Identity: identity.Ident{Origin: "core", Name: "glibc", Version: version, Release: release},
		Target:   identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux},
		FileHash: version + "-" + release,
	}
	if err := c.Insert(context.Background(), ac); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestLatestForDepHonorsRelease(t *testing.T) {
	c := New("/root", store.NewMemory())
	insertArtifact(t, c, "2.39", "20240101000000")
	insertArtifact(t, c, "2.39", "20240201000000")

	target := identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}

	dep := identity.DepIdent{Origin: "core", Name: "glibc", Version: "2.39", Release: identity.Unresolved, Target: target}
	got, ok := c.LatestForDep(dep)
	if !ok {
		t.Fatalf("expected a match for unresolved release")
	}
	if got.Identity.Release != "20240201000000" {
		t.Errorf("unresolved release should pick the highest release, got %s", got.Identity.Release)
	}

	pinned := identity.DepIdent{Origin: "core", Name: "glibc", Version: "2.39", Release: "20240101000000", Target: target}
	got, ok = c.LatestForDep(pinned)
	if !ok {
		t.Fatalf("expected a match for pinned release")
	}
	if got.Identity.Release != "20240101000000" {
		t.Errorf("pinned release must not resolve to a newer release, got %s", got.Identity.Release)
	}
}

func TestLatestForDepPinnedReleaseFallsBackToOlderVersion(t *testing.T) {
	c := New("/root", store.NewMemory())
	insertArtifact(t, c, "2.38", "20230101000000")
	insertArtifact(t, c, "2.39", "20240201000000")

	target := identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}
	dep := identity.DepIdent{Origin: "core", Name: "glibc", Version: identity.Unresolved, Release: "20230101000000", Target: target}

	got, ok := c.LatestForDep(dep)
	if !ok {
		t.Fatalf("expected the pinned release to be found on the older version")
	}
	if got.Identity.Version != "2.38" {
		t.Errorf("expected version 2.38 (the one holding the pinned release), got %s", got.Identity.Version)
	}
}

func TestLatestForDepNoMatchingRelease(t *testing.T) {
	c := New("/root", store.NewMemory())
	insertArtifact(t, c, "2.39", "20240101000000")

	target := identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}
	dep := identity.DepIdent{Origin: "core", Name: "glibc", Version: "2.39", Release: "nonexistent", Target: target}
	if _, ok := c.LatestForDep(dep); ok {
		t.Fatalf("expected no match for a release that was never inserted")
	}
}
