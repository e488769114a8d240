// Package summarycache is the content-addressed summary cache: a memory
// map plus atomic on-disk JSON files keyed by a structural hash of the
// request shape. Entries that fail plausibility validation on read are
// treated as misses, never surfaced.
package summarycache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/store/redismirror"
	"github.com/weatherlake/summary-core/internal/summary"
)

const schemaVersion = 2

// Key identifies one cache entry's inputs. Canonical sorts BaselineYears,
// so callers may pass them in any order.
type Key struct {
	RegionID      string
	Month         int
	IncludeMarine bool
	BaselineYears []int
}

// canonicalKey mirrors Key with a fixed JSON field order: version,
// regionId, month, includeMarine, baselineYears. The order is part of
// the on-disk format, since the hash of this string is the file name.
type canonicalKey struct {
	Version       int    `json:"version"`
	RegionID      string `json:"regionId"`
	Month         int    `json:"month"`
	IncludeMarine bool   `json:"includeMarine"`
	BaselineYears []int  `json:"baselineYears"`
}

// Canonical renders the deterministic JSON string this key hashes to.
func (k Key) Canonical() string {
	years := append([]int(nil), k.BaselineYears...)
	sort.Ints(years)
	b, _ := json.Marshal(canonicalKey{
		Version:       schemaVersion,
		RegionID:      k.RegionID,
		Month:         k.Month,
		IncludeMarine: k.IncludeMarine,
		BaselineYears: years,
	})
	return string(b)
}

// Hash returns the hex SHA1 of the key's canonical JSON, which is the
// on-disk filename (sans extension).
func (k Key) Hash() string {
	sum := sha1.Sum([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	KeyInput string                 `json:"keyInput"`
	Summary  summary.MonthlySummary `json:"summary"`
	StoredAt time.Time              `json:"storedAt"`
}

// Store is the content-addressed summary cache.
type Store struct {
	dir    string
	mu     sync.RWMutex
	mem    map[string]entry
	redis  *redismirror.Mirror // optional, may be nil
	logger *zerolog.Logger
}

// New builds a Store rooted at dir, creating it if necessary. redis may
// be nil to disable the distributed mirror.
func New(dir string, redis *redismirror.Mirror, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("summary cache: create dir: %w", err)
	}
	return &Store{dir: dir, mem: make(map[string]entry), redis: redis, logger: logger}, nil
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

// Get returns the cached summary for key, or ok=false on any miss,
// corruption, key mismatch, or plausibility failure.
func (s *Store) Get(ctx context.Context, key Key) (summary.MonthlySummary, bool) {
	keyInput := key.Canonical()
	hash := key.Hash()

	s.mu.RLock()
	e, ok := s.mem[hash]
	s.mu.RUnlock()
	if ok {
		if v, ok := s.validate(e, keyInput); ok {
			s.observe(true)
			return v, true
		}
		return summary.MonthlySummary{}, false
	}

	if s.redis != nil {
		if raw, ok := s.redis.Get(ctx, hash); ok {
			var e entry
			if err := json.Unmarshal(raw, &e); err == nil {
				if v, ok := s.validate(e, keyInput); ok {
					s.mu.Lock()
					s.mem[hash] = e
					s.mu.Unlock()
					s.observe(true)
					return v, true
				}
			}
		}
	}

	b, err := os.ReadFile(s.path(hash))
	if err != nil {
		s.observe(false)
		return summary.MonthlySummary{}, false
	}
	var e2 entry
	if err := json.Unmarshal(b, &e2); err != nil {
		s.observe(false)
		return summary.MonthlySummary{}, false
	}
	v, ok := s.validate(e2, keyInput)
	if !ok {
		s.observe(false)
		return summary.MonthlySummary{}, false
	}
	s.mu.Lock()
	s.mem[hash] = e2
	s.mu.Unlock()
	s.observe(true)
	return v, true
}

func (s *Store) validate(e entry, keyInput string) (summary.MonthlySummary, bool) {
	if e.KeyInput != keyInput {
		return summary.MonthlySummary{}, false
	}
	sm := e.Summary
	if !sm.Validate() {
		return summary.MonthlySummary{}, false
	}
	return sm, true
}

func (s *Store) observe(hit bool) {
	if !observability.Enabled() {
		return
	}
	if hit {
		observability.AddCacheHit("summary")
	} else {
		observability.AddCacheMiss("summary")
	}
}

// Put writes sm under key, atomically replacing any existing file, and
// updates the memory (and optional Redis) mirror only after the write
// succeeds.
func (s *Store) Put(ctx context.Context, key Key, sm summary.MonthlySummary, storedAt time.Time) error {
	keyInput := key.Canonical()
	hash := key.Hash()
	e := entry{KeyInput: keyInput, Summary: sm, StoredAt: storedAt}

	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("summary cache: marshal entry: %w", err)
	}

	if err := atomicWrite(s.path(hash), b); err != nil {
		return err
	}

	s.mu.Lock()
	s.mem[hash] = e
	s.mu.Unlock()

	if s.redis != nil {
		if err := s.redis.Set(ctx, hash, b); err != nil && s.logger != nil {
			s.logger.Warn().Err(err).Str("hash", hash).Msg("summary cache: redis mirror write failed")
		}
	}
	return nil
}

func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp := fmt.Sprintf("%s.%d.%d.tmp", path, os.Getpid(), time.Now().UnixNano())
	f, err := os.CreateTemp(dir, filepath.Base(tmp))
	if err != nil {
		return fmt.Errorf("summary cache: create temp file: %w", err)
	}
	tmpName := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("summary cache: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("summary cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("summary cache: rename temp file: %w", err)
	}
	return nil
}
