// Package store persists pattern.Pattern records (spec.md §6's
// "Persisted state layout" and design note 6 / §9). Two layouts satisfy
// the same Store contract: Log (a single append-only JSON-lines file
// plus an in-memory secondary index) and DateDir (the nested
// `YYYY/MM/DD/<pattern_type>_<timestamp>.json` layout named in §6).
// Selected at startup via config's `patterns.storage: "log"|"datedir"`.
package store

import "github.com/moai-flow/swarm-kernel/internal/pattern"

// Store is the save/load/query contract design note 6 requires both
// pattern-storage layouts to implement identically.
type Store interface {
	// Save persists p, overwriting any prior record with the same
	// PatternID.
	Save(p pattern.Pattern) error
	// Load returns every persisted pattern.
	Load() ([]pattern.Pattern, error)
	// Query returns persisted patterns of the given type.
	Query(patternType pattern.Type) ([]pattern.Pattern, error)
}
