package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jllopis/skillmesh/pkg/skills"
)

// Memory keeps descriptors in memory.
type Memory struct {
	mu     sync.Mutex
	skills map[string]skills.Descriptor
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{skills: make(map[string]skills.Descriptor)}
}

// SaveSkill inserts or replaces d.
func (m *Memory) SaveSkill(_ context.Context, d skills.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[d.ID] = d.Clone()
	return nil
}

// DeleteSkill removes id. Absent ids are ignored.
func (m *Memory) DeleteSkill(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.skills, id)
	return nil
}

// ListSkills returns every descriptor sorted by id.
func (m *Memory) ListSkills(_ context.Context) ([]skills.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]skills.Descriptor, 0, len(m.skills))
	for _, d := range m.skills {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
