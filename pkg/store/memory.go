package store

import (
	"context"
	"maps"
	"sync"

	"github.com/matzehuels/upmirror/pkg/mirror"
)

// Memory is an in-memory metadata store for tests and local development.
// Records are copied on the way in and out so callers never share state
// with the store.
type Memory struct {
	mu   sync.RWMutex
	pkgs map[string]mirror.Package
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{pkgs: make(map[string]mirror.Package)}
}

// Upsert replaces the record for pkg.Name, creating it if absent.
func (m *Memory) Upsert(ctx context.Context, pkg *mirror.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pkgs[pkg.Name] = clonePackage(*pkg)
	return nil
}

// Get fetches one package record by name.
func (m *Memory) Get(ctx context.Context, name string) (*mirror.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.pkgs[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := clonePackage(pkg)
	return &out, nil
}

// All fetches every package record.
func (m *Memory) All(ctx context.Context) ([]*mirror.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkgs := make([]*mirror.Package, 0, len(m.pkgs))
	for _, pkg := range m.pkgs {
		out := clonePackage(pkg)
		pkgs = append(pkgs, &out)
	}
	return pkgs, nil
}

// DeleteAll removes every record.
func (m *Memory) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pkgs = make(map[string]mirror.Package)
	return nil
}

// Ping always succeeds; the in-memory store has no connection to lose.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pkgs)
}

func clonePackage(pkg mirror.Package) mirror.Package {
	out := pkg
	out.DistTags = maps.Clone(pkg.DistTags)
	out.Versions = make(map[string]mirror.Version, len(pkg.Versions))
	for k, v := range pkg.Versions {
		v.Dependencies = maps.Clone(v.Dependencies)
		out.Versions[k] = v
	}
	return out
}
