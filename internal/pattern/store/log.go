package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moai-flow/swarm-kernel/internal/pattern"
)

// logRecord is one JSON-lines entry; later entries for the same
// PatternID supersede earlier ones on Load.
type logRecord struct {
	Pattern pattern.Pattern `json:"pattern"`
}

// LogStore is the accepted production alternative to DateDir (design
// note 6, §9): a single append-only JSON-lines file, superseded
// records simply re-appended, with an in-memory secondary index keyed
// by (pattern_type, pattern_id) rebuilt on Load.
type LogStore struct {
	path string

	mu    sync.Mutex
	index map[pattern.Type]map[string]pattern.Pattern
}

// NewLogStore opens (creating if absent) the log file at path.
func NewLogStore(path string) (*LogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pattern log dir: %w", err)
	}
	s := &LogStore{path: path, index: make(map[pattern.Type]map[string]pattern.Pattern)}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LogStore) rebuildIndex() error {
	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open pattern log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		s.indexLocked(rec.Pattern)
	}
	return scanner.Err()
}

func (s *LogStore) indexLocked(p pattern.Pattern) {
	byID, ok := s.index[p.PatternType]
	if !ok {
		byID = make(map[string]pattern.Pattern)
		s.index[p.PatternType] = byID
	}
	byID[p.PatternID] = p
}

// Save appends p to the log and updates the in-memory index.
func (s *LogStore) Save(p pattern.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open pattern log for append: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(logRecord{Pattern: p})
	if err != nil {
		return fmt.Errorf("encode pattern: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append pattern log: %w", err)
	}

	s.indexLocked(p)
	return nil
}

// Load returns every pattern currently in the index (i.e. the latest
// saved version of each PatternID).
func (s *LogStore) Load() ([]pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pattern.Pattern
	for _, byID := range s.index {
		for _, p := range byID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Query returns the latest saved version of every pattern of the given
// type.
func (s *LogStore) Query(patternType pattern.Type) ([]pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.index[patternType]
	if !ok {
		return nil, nil
	}
	out := make([]pattern.Pattern, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	return out, nil
}
