package store

import (
	"context"
	"sync"
	"time"

	"github.com/habpkg/autobuild/internal/artifact"
)

// Memory is an in-process Store used by tests and by short-lived
// invocations that don't want on-disk persistence.
type Memory struct {
	mu            sync.Mutex
	artifacts     map[string]*artifact.Context
	sources       map[string]*SourceContext
	fileModTimes  map[string]time.Time
	buildDurations map[string]time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		artifacts:      map[string]*artifact.Context{},
		sources:        map[string]*SourceContext{},
		fileModTimes:   map[string]time.Time{},
		buildDurations: map[string]time.Duration{},
	}
}

func (m *Memory) GetArtifactContext(_ context.Context, hash string) (*artifact.Context, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.artifacts[hash]
	return ac, ok, nil
}

func (m *Memory) PutArtifactContext(_ context.Context, hash string, ac *artifact.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[hash] = ac
	return nil
}

func (m *Memory) GetSourceContext(_ context.Context, sha256 string) (*SourceContext, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.sources[sha256]
	return sc, ok, nil
}

func (m *Memory) PutSourceContext(_ context.Context, sc *SourceContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[sc.SHA256] = sc
	return nil
}

func fileModKey(planContextPath, filePath string, realModifiedAt time.Time) string {
	return planContextPath + "\x00" + filePath + "\x00" + realModifiedAt.UTC().Format(time.RFC3339Nano)
}

func (m *Memory) GetFileModification(_ context.Context, planContextPath, filePath string, realModifiedAt time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.fileModTimes[fileModKey(planContextPath, filePath, realModifiedAt)]
	return t, ok, nil
}

func (m *Memory) PutFileModification(_ context.Context, mod FileModification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileModTimes[fileModKey(mod.PlanContextPath, mod.FilePath, mod.RealModifiedAt)] = mod.AlternateModifiedAt
	return nil
}

func (m *Memory) GetBuildDuration(_ context.Context, buildIdent string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.buildDurations[buildIdent]
	return d, ok, nil
}

func (m *Memory) PutBuildDuration(_ context.Context, buildIdent string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildDurations[buildIdent] = d
	return nil
}

func (m *Memory) Close() error { return nil }
