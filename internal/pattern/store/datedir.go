package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/moai-flow/swarm-kernel/internal/pattern"
)

// DateDirStore implements the nested `YYYY/MM/DD/<pattern_type>_
// <timestamp>.json` layout named in §6. Older files may be gzipped
// past a configurable age in a full deployment; this reference
// implementation writes plain JSON and leaves compression to an
// external retention job.
type DateDirStore struct {
	root string

	mu sync.Mutex
}

// NewDateDirStore roots the layout at root (typically
// `<config_root>/patterns`).
func NewDateDirStore(root string) (*DateDirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create pattern store root: %w", err)
	}
	return &DateDirStore{root: root}, nil
}

func (s *DateDirStore) pathFor(p pattern.Pattern) string {
	day := p.LastSeen
	if day.IsZero() {
		day = p.FirstSeen
	}
	fileName := fmt.Sprintf("%s_%d.json", p.PatternType, day.UnixNano())
	return filepath.Join(s.root, fmt.Sprintf("%04d", day.Year()), fmt.Sprintf("%02d", day.Month()), fmt.Sprintf("%02d", day.Day()), fileName)
}

// Save writes p to its dated path, creating parent directories as
// needed. Re-saving the same PatternID on the same day overwrites the
// prior file for that day only; a changed LastSeen date writes a new
// file, leaving the old one in place as history.
func (s *DateDirStore) Save(p pattern.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pattern date dir: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pattern file: %w", err)
	}
	return nil
}

// Load walks the entire date tree and returns every persisted pattern.
func (s *DateDirStore) Load() ([]pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walk(func(pattern.Pattern) bool { return true })
}

// Query returns every persisted pattern whose file name carries
// patternType's prefix.
func (s *DateDirStore) Query(patternType pattern.Type) ([]pattern.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walk(func(p pattern.Pattern) bool { return p.PatternType == patternType })
}

func (s *DateDirStore) walk(include func(pattern.Pattern) bool) ([]pattern.Pattern, error) {
	var out []pattern.Pattern
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read pattern file %s: %w", path, err)
		}
		var p pattern.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode pattern file %s: %w", path, err)
		}
		if include(p) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
