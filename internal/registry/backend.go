package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// VersionInfo describes one model version in the backend registry.
type VersionInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Stage     BackendStage      `json:"stage"`
	Tags      map[string]string `json:"tags,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Backend is the opaque versioned model registry this package wraps. It
// assigns a monotonically increasing version string per model name.
type Backend interface {
	Register(ctx context.Context, uri, name string, tags map[string]string) (string, error)
	GetVersions(ctx context.Context, name string, stageFilter BackendStage) ([]VersionInfo, error)
	TransitionStage(ctx context.Context, name, version string, stage BackendStage) error
	SetTags(ctx context.Context, name, version string, tags map[string]string) error
	GetRunMetrics(ctx context.Context, runID string) (map[string]float64, error)
}

// MemoryBackend is an in-process Backend for development and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	versions map[string][]VersionInfo
	metrics  map[string]map[string]float64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		versions: make(map[string][]VersionInfo),
		metrics:  make(map[string]map[string]float64),
	}
}

var _ Backend = (*MemoryBackend)(nil)

// Register stores a new version with the next version number for name.
func (b *MemoryBackend) Register(ctx context.Context, uri, name string, tags map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	version := strconv.Itoa(len(b.versions[name]) + 1)
	copied := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		copied[k] = v
	}
	copied["source_uri"] = uri
	b.versions[name] = append(b.versions[name], VersionInfo{
		Name:      name,
		Version:   version,
		Stage:     BackendNone,
		Tags:      copied,
		CreatedAt: time.Now().UTC(),
	})
	return version, nil
}

// GetVersions lists versions for name, newest first, optionally filtered by
// stage. An empty stageFilter returns all versions.
func (b *MemoryBackend) GetVersions(ctx context.Context, name string, stageFilter BackendStage) ([]VersionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []VersionInfo
	for _, v := range b.versions[name] {
		if stageFilter == "" || v.Stage == stageFilter {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// TransitionStage moves a version to a backend stage.
func (b *MemoryBackend) TransitionStage(ctx context.Context, name, version string, stage BackendStage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range b.versions[name] {
		if v.Version == version {
			b.versions[name][i].Stage = stage
			return nil
		}
	}
	return fmt.Errorf("model %s version %s not found", name, version)
}

// SetTags merges tags into a version's tag map.
func (b *MemoryBackend) SetTags(ctx context.Context, name, version string, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range b.versions[name] {
		if v.Version == version {
			if b.versions[name][i].Tags == nil {
				b.versions[name][i].Tags = make(map[string]string, len(tags))
			}
			for k, val := range tags {
				b.versions[name][i].Tags[k] = val
			}
			return nil
		}
	}
	return fmt.Errorf("model %s version %s not found", name, version)
}

// GetRunMetrics returns recorded run metrics, empty when unknown.
func (b *MemoryBackend) GetRunMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.metrics[runID]
	if !ok {
		return map[string]float64{}, nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// PutRunMetrics records metrics for a run id (test helper).
func (b *MemoryBackend) PutRunMetrics(runID string, m map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[runID] = m
}
