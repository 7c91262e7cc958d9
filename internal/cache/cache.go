// Package cache maintains an on-disk index of all known artifacts keyed
// by identity and content hash, backed by a persistent store for
// already-parsed contexts.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/identity"
	"github.com/habpkg/autobuild/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Cache exclusively owns artifact contexts; callers look them up by
// identity or hash, never holding them elsewhere long-term.
type Cache struct {
	mu    sync.RWMutex
	store store.Store
	root  string // /<root> package path prefix, passed through to the reader

	// index[origin][name][target][version][release] = ctx
	index map[string]map[string]map[identity.Target]map[string]map[string]*artifact.Context
}

func New(root string, st store.Store) *Cache {
	return &Cache{
		store: st,
		root:  root,
		index: map[string]map[string]map[identity.Target]map[string]map[string]*artifact.Context{},
	}
}

// Insert adds ctx to the cache, persisting it to the store if Dirty.
func (c *Cache) Insert(ctx context.Context, ac *artifact.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(ac)
	if ac.Dirty {
		if err := c.store.PutArtifactContext(ctx, ac.FileHash, ac); err != nil {
			return xerrors.Errorf("persist artifact context %s: %w", ac.FileHash, err)
		}
	}
	return nil
}

func (c *Cache) insertLocked(ac *artifact.Context) {
	byName, ok := c.index[ac.Identity.Origin]
	if !ok {
		byName = map[string]map[identity.Target]map[string]map[string]*artifact.Context{}
		c.index[ac.Identity.Origin] = byName
	}
	byTarget, ok := byName[ac.Identity.Name]
	if !ok {
		byTarget = map[identity.Target]map[string]map[string]*artifact.Context{}
		byName[ac.Identity.Name] = byTarget
	}
	byVersion, ok := byTarget[ac.Target]
	if !ok {
		byVersion = map[string]map[string]*artifact.Context{}
		byTarget[ac.Target] = byVersion
	}
	byRelease, ok := byVersion[ac.Identity.Version]
	if !ok {
		byRelease = map[string]*artifact.Context{}
		byVersion[ac.Identity.Version] = byRelease
	}
	byRelease[ac.Identity.Release] = ac
}

// Exact is a point lookup by full identity, no ordering.
func (c *Cache) Exact(id identity.Ident, target identity.Target) (*artifact.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ac, ok := c.lookupLocked(id.Origin, id.Name, target, id.Version, id.Release)
	return ac, ok
}

// Each calls fn once for every artifact context currently indexed, in no
// particular order. Used by callers (e.g. the audit CLI verb) that need
// to walk the whole known-artifact set rather than look one up by
// identity.
func (c *Cache) Each(fn func(*artifact.Context)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, byName := range c.index {
		for _, byTarget := range byName {
			for _, byVersion := range byTarget {
				for _, byRelease := range byVersion {
					for _, ac := range byRelease {
						fn(ac)
					}
				}
			}
		}
	}
}

func (c *Cache) lookupLocked(origin, name string, target identity.Target, version, release string) (*artifact.Context, bool) {
	byName, ok := c.index[origin]
	if !ok {
		return nil, false
	}
	byTarget, ok := byName[name]
	if !ok {
		return nil, false
	}
	byVersion, ok := byTarget[target]
	if !ok {
		return nil, false
	}
	byRelease, ok := byVersion[version]
	if !ok {
		return nil, false
	}
	ac, ok := byRelease[release]
	return ac, ok
}

// LatestForBuild returns the artifact with the highest (version, release)
// matching the build identity (release ignored). A build identity whose
// version is DynamicVersion matches any version, per spec.md §4.D.
func (c *Cache) LatestForBuild(buildID identity.Ident, target identity.Target) (*artifact.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byTarget, ok := c.index[buildID.Origin][buildID.Name]
	if !ok {
		return nil, false
	}
	byVersion, ok := byTarget[target]
	if !ok {
		return nil, false
	}
	return latestMatching(byVersion, func(version string) bool {
		return buildID.Version == identity.DynamicVersion || version == buildID.Version
	}, anyRelease)
}

// LatestForDep is like LatestForBuild but honours Unresolved segments in
// the dependency identity form, including a pinned release: a dependency
// identity naming a specific, non-Unresolved release must never resolve
// to a different release even when a newer one exists for the same
// matching version.
func (c *Cache) LatestForDep(dep identity.DepIdent) (*artifact.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byTarget, ok := c.index[dep.Origin][dep.Name]
	if !ok {
		return nil, false
	}
	byVersion, ok := byTarget[dep.Target]
	if !ok {
		return nil, false
	}
	return latestMatching(byVersion, func(version string) bool {
		return dep.Version == identity.Unresolved || version == dep.Version
	}, func(release string) bool {
		return dep.Release == identity.Unresolved || release == dep.Release
	})
}

func anyRelease(string) bool { return true }

// latestMatching picks the highest version passing versionOK, then the
// highest release under it passing releaseOK. A version with no release
// satisfying releaseOK is skipped entirely in favor of the next-highest
// matching version, so a pinned release on an older version is still
// found even when a newer version matches on version alone.
func latestMatching(byVersion map[string]map[string]*artifact.Context, versionOK func(string) bool, releaseOK func(string) bool) (*artifact.Context, bool) {
	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		if versionOK(v) {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versionLess(versions[i], versions[j]) })

	for i := len(versions) - 1; i >= 0; i-- {
		releases := byVersion[versions[i]]
		var releaseKeys []string
		for r := range releases {
			if releaseOK(r) {
				releaseKeys = append(releaseKeys, r)
			}
		}
		if len(releaseKeys) == 0 {
			continue
		}
		sort.Slice(releaseKeys, func(i, j int) bool { return releaseLess(releaseKeys[i], releaseKeys[j]) })
		return releases[releaseKeys[len(releaseKeys)-1]], true
	}
	return nil, false
}

func versionLess(a, b string) bool {
	return identity.Less(
		identity.Ident{Origin: "_", Name: "_", Version: a},
		identity.Ident{Origin: "_", Name: "_", Version: b},
	)
}

func releaseLess(a, b string) bool {
	return identity.Less(
		identity.Ident{Origin: "_", Name: "_", Version: "_", Release: a},
		identity.Ident{Origin: "_", Name: "_", Version: "_", Release: b},
	)
}

// Scan constructs a cache by walking dir in parallel for .hart files: for
// each, it computes the BLAKE3 hash, consults the store for a cached
// context, and on miss invokes the reader and persists the result.
func Scan(ctx context.Context, dir, root string, st store.Store, extractor artifact.LicenseExtractor, workers int) (*Cache, error) {
	c := New(root, st)
	if workers <= 0 {
		workers = 4
	}

	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(p) == ".hart" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("walk %s: %w", dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	results := make(chan *artifact.Context, len(files))
	for _, fn := range files {
		fn := fn
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			hash, err := blake3File(fn)
			if err != nil {
				return xerrors.Errorf("hash %s: %w", fn, err)
			}
			ac, ok, err := st.GetArtifactContext(gctx, hash)
			if err != nil {
				return xerrors.Errorf("lookup cached context for %s: %w", fn, err)
			}
			if !ok {
				ac, err = artifact.Read(fn, artifact.Options{Root: root, PrecomputedHash: hash, LicenseExtractor: extractor})
				if err != nil {
					// per spec.md §7, a parse error is local: skip this
					// artifact and move on.
					return nil
				}
				if err := st.PutArtifactContext(gctx, hash, ac); err != nil {
					return xerrors.Errorf("persist context for %s: %w", fn, err)
				}
			} else {
				ac.Dirty = false
			}
			results <- ac
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for ac := range results {
		c.insertLocked(ac)
	}
	return c, nil
}

func blake3File(fn string) (string, error) {
	return artifact.HashFile(fn)
}
