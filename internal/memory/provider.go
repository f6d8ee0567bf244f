// Package memory implements the MemoryProvider interface consumed by
// the kernel (spec.md §6) behind three interchangeable backends: an
// in-process map, a Redis-backed volatile store, and a gorm/Postgres
// persistent store.
//
// Grounded on internal/database/repositories/cache.go's
// InMemoryCacheManager (locking idiom for the in-process backend) and
// internal/database/database.go's connection-pool setup (the postgres
// backend's gorm.Open wiring).
package memory

import "context"

// Stats is the read projection returned by GetMemoryStats.
type Stats struct {
	Backend         string         `json:"backend"`
	TotalKeys       int            `json:"total_keys"`
	NamespaceCounts map[string]int `json:"namespace_counts"`
}

// Provider is the MemoryProvider contract every backend implements.
// Persistent writes must survive a process restart; volatile writes may
// be discarded.
type Provider interface {
	Store(ctx context.Context, swarmID, namespace, key string, value interface{}, persistent bool) (bool, error)
	Retrieve(ctx context.Context, swarmID, namespace, key string) (interface{}, bool, error)
	Delete(ctx context.Context, swarmID, namespace, key string) error
	ListKeys(ctx context.Context, swarmID, namespace, pattern string) ([]string, error)
	ClearNamespace(ctx context.Context, swarmID, namespace string) error
	GetMemoryStats(ctx context.Context) (Stats, error)
}
