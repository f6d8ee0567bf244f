package memory

import (
	"context"
	"path"
	"sort"
	"sync"
)

type entry struct {
	value      interface{}
	persistent bool
}

// InMemory is the default backend: a process-lifetime map, used by
// tests and as the default `memory.backend`. Grounded on
// internal/database/repositories/cache.go's InMemoryCacheManager
// (single RWMutex guarding a nested map).
type InMemory struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]entry // swarmID -> namespace -> key -> entry
}

// NewInMemory builds an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]map[string]map[string]entry)}
}

func namespaceKey(swarmID, namespace string) string { return swarmID + "\x00" + namespace }

func (m *InMemory) Store(_ context.Context, swarmID, namespace, key string, value interface{}, persistent bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[swarmID]
	if !ok {
		ns = make(map[string]map[string]entry)
		m.data[swarmID] = ns
	}
	keys, ok := ns[namespace]
	if !ok {
		keys = make(map[string]entry)
		ns[namespace] = keys
	}
	keys[key] = entry{value: value, persistent: persistent}
	return true, nil
}

func (m *InMemory) Retrieve(_ context.Context, swarmID, namespace, key string) (interface{}, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.data[swarmID]
	if !ok {
		return nil, false, nil
	}
	keys, ok := ns[namespace]
	if !ok {
		return nil, false, nil
	}
	e, ok := keys[key]
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *InMemory) Delete(_ context.Context, swarmID, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[swarmID]; ok {
		if keys, ok := ns[namespace]; ok {
			delete(keys, key)
		}
	}
	return nil
}

func (m *InMemory) ListKeys(_ context.Context, swarmID, namespace, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	ns, ok := m.data[swarmID]
	if !ok {
		return out, nil
	}
	keys, ok := ns[namespace]
	if !ok {
		return out, nil
	}
	for k := range keys {
		if pattern == "" {
			out = append(out, k)
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemory) ClearNamespace(_ context.Context, swarmID, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[swarmID]; ok {
		delete(ns, namespace)
	}
	return nil
}

func (m *InMemory) GetMemoryStats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Backend: "memory", NamespaceCounts: make(map[string]int)}
	for _, namespaces := range m.data {
		for ns, keys := range namespaces {
			stats.NamespaceCounts[ns] += len(keys)
			stats.TotalKeys += len(keys)
		}
	}
	return stats, nil
}
