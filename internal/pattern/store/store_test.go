package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/pattern"
)

func samplePattern(id string, t time.Time) pattern.Pattern {
	return pattern.Pattern{
		PatternID:   id,
		PatternType: pattern.TypeSequence,
		Description: "test pattern",
		Events:      []string{"a", "b"},
		Confidence:  0.8,
		Occurrences: 5,
		FirstSeen:   t,
		LastSeen:    t,
	}
}

func TestLogStore_SaveLoadQuery(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLogStore(filepath.Join(dir, "patterns.jsonl"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.Save(samplePattern("p1", now)))
	require.NoError(t, s.Save(samplePattern("p2", now)))

	all, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	seq, err := s.Query(pattern.TypeSequence)
	require.NoError(t, err)
	assert.Len(t, seq, 2)

	freq, err := s.Query(pattern.TypeFrequency)
	require.NoError(t, err)
	assert.Empty(t, freq)
}

func TestLogStore_SaveSupersedesOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.jsonl")
	now := time.Now()

	s1, err := NewLogStore(path)
	require.NoError(t, err)
	p := samplePattern("p1", now)
	require.NoError(t, s1.Save(p))

	p.Confidence = 0.95
	require.NoError(t, s1.Save(p))

	s2, err := NewLogStore(path)
	require.NoError(t, err)
	all, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0.95, all[0].Confidence)
}

func TestDateDirStore_SaveLoadQuery(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDateDirStore(dir)
	require.NoError(t, err)

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(samplePattern("p1", now)))

	expectedDir := filepath.Join(dir, "2026", "03", "15")
	entries, err := os.ReadDir(expectedDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p1", all[0].PatternID)

	seq, err := s.Query(pattern.TypeSequence)
	require.NoError(t, err)
	assert.Len(t, seq, 1)

	freq, err := s.Query(pattern.TypeFrequency)
	require.NoError(t, err)
	assert.Empty(t, freq)
}
