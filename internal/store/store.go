// Package store defines the narrow persistence interface the core
// depends on (spec.md §1, §4.K, §6): keyed get/put for artifact and
// source contexts, file-modification-time overrides, and per-build
// durations. The concrete SQLite-backed implementation lives in
// internal/store/sqlite and is a replaceable adapter, never imported
// directly by core packages.
package store

import (
	"context"
	"time"

	"github.com/habpkg/autobuild/internal/artifact"
)

// SourceContext is the cached record of a downloaded source archive,
// keyed by its declared SHA-256.
type SourceContext struct {
	SHA256   string
	URL      string
	FetchedAt time.Time
}

// FileModification is a recorded override for a file's effective mtime,
// keyed by (plan context path, file path, real mtime) per spec.md §4.G.
type FileModification struct {
	PlanContextPath  string
	FilePath         string
	RealModifiedAt   time.Time
	AlternateModifiedAt time.Time
}

// BuildDuration is one recorded wall-clock build duration for a build
// identity, per spec.md §6 "build_times(build_ident, duration_in_secs)".
type BuildDuration struct {
	BuildIdent string
	Duration   time.Duration
}

// Store is the narrow operations the core requires from the persistence
// layer, per spec.md §1 "the SQLite-backed persistence layer... is
// specified only through the narrow operations the core requires."
type Store interface {
	// GetArtifactContext returns the cached context for hash, if any.
	GetArtifactContext(ctx context.Context, hash string) (*artifact.Context, bool, error)
	// PutArtifactContext persists ac keyed by hash.
	PutArtifactContext(ctx context.Context, hash string, ac *artifact.Context) error

	// GetSourceContext returns the cached source context for sha256, if
	// any.
	GetSourceContext(ctx context.Context, sha256 string) (*SourceContext, bool, error)
	// PutSourceContext persists sc.
	PutSourceContext(ctx context.Context, sc *SourceContext) error

	// GetFileModification returns an override mtime for (planContextPath,
	// filePath, realModifiedAt), if one was recorded.
	GetFileModification(ctx context.Context, planContextPath, filePath string, realModifiedAt time.Time) (time.Time, bool, error)
	// PutFileModification records an override.
	PutFileModification(ctx context.Context, m FileModification) error

	// GetBuildDuration returns the last recorded build duration for a
	// build identity, if any.
	GetBuildDuration(ctx context.Context, buildIdent string) (time.Duration, bool, error)
	// PutBuildDuration records a build duration.
	PutBuildDuration(ctx context.Context, buildIdent string, d time.Duration) error

	Close() error
}
