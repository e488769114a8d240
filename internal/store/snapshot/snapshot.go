// Package snapshot is the per-region snapshot store: one JSON file per
// region holding a month-indexed map of the last verified summary for
// that month, its fetch provenance, and the baseline-year set it was
// computed from.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/weatherlake/summary-core/internal/summary"
)

const schemaVersion = 1

// MonthEntry is one calendar month's last verified snapshot.
type MonthEntry struct {
	Month         int                    `json:"month"`
	IncludesMarine bool                  `json:"includesMarine"`
	BaselineYears []int                  `json:"baselineYears"`
	FetchedAt     time.Time              `json:"fetchedAt"`
	Source        string                 `json:"source"`
	Summary       summary.MonthlySummary `json:"summary"`
}

// file is the on-disk shape of one region's snapshot.
type file struct {
	Version  int                `json:"version"`
	RegionID string             `json:"regionId"`
	Months   map[string]MonthEntry `json:"months"`
}

// MaxAge bundles the three family-specific staleness thresholds.
type MaxAge struct {
	Climate time.Duration
	Air     time.Duration
	Marine  time.Duration
}

// Store reads/writes per-region snapshot files, caching the parsed
// contents in memory for the life of the process.
type Store struct {
	dir    string
	maxAge MaxAge
	mu     sync.Mutex
	byRegion map[string]*file
}

// New builds a Store rooted at dir, creating it if necessary.
func New(dir string, maxAge MaxAge) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: create dir: %w", err)
	}
	return &Store{dir: dir, maxAge: maxAge, byRegion: make(map[string]*file)}, nil
}

func (s *Store) path(regionID string) string {
	return filepath.Join(s.dir, regionID+".json")
}

// load returns the parsed file for regionID, reading from disk and
// caching on first access. A missing, corrupt, wrong-version, or
// mismatched-regionId file is treated as an empty snapshot, never an
// error. Must be called with s.mu held.
func (s *Store) load(regionID string) *file {
	if f, ok := s.byRegion[regionID]; ok {
		return f
	}
	f := &file{Version: schemaVersion, RegionID: regionID, Months: make(map[string]MonthEntry)}

	b, err := os.ReadFile(s.path(regionID))
	if err == nil {
		var parsed file
		if jsonErr := json.Unmarshal(b, &parsed); jsonErr == nil &&
			parsed.Version == schemaVersion && parsed.RegionID == regionID {
			if parsed.Months == nil {
				parsed.Months = make(map[string]MonthEntry)
			}
			f = &parsed
		}
	}

	s.byRegion[regionID] = f
	return f
}

// Get returns the stored entry for region/month, and whether one exists.
// An entry whose summary fails Validate reads as absent.
func (s *Store) Get(regionID string, month int) (MonthEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load(regionID)
	e, ok := f.Months[monthKey(month)]
	if ok && !e.Summary.Validate() {
		return MonthEntry{}, false
	}
	return e, ok
}

// StaleReason classifies why entry is not fresh, relative to the current
// configured baseline-year set and whether marine was requested. Returns
// "" when the entry is fresh.
func (s *Store) StaleReason(e MonthEntry, currentBaselineYears []int, includeMarine bool, now time.Time) string {
	if !sameYears(e.BaselineYears, currentBaselineYears) {
		return "baseline-years-changed"
	}
	if now.Sub(e.FetchedAt) > s.maxAge.Climate {
		return "climate-expired"
	}
	if now.Sub(e.FetchedAt) > s.maxAge.Air {
		return "air-expired"
	}
	if includeMarine {
		if !e.Summary.HasMarine() {
			return "marine-missing"
		}
		if now.Sub(e.FetchedAt) > s.maxAge.Marine {
			return "marine-expired"
		}
	}
	return ""
}

// Upsert merges entry into the region's file and writes it atomically.
// Marine coverage is sticky: an entry that once included marine data
// keeps includesMarine=true even if this refresh omitted it.
func (s *Store) Upsert(regionID string, entry MonthEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load(regionID)

	key := monthKey(entry.Month)
	if prev, ok := f.Months[key]; ok && prev.IncludesMarine {
		entry.IncludesMarine = true
	}
	f.Months[key] = entry

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot store: marshal %s: %w", regionID, err)
	}
	if err := atomicWrite(s.path(regionID), b); err != nil {
		return err
	}
	s.byRegion[regionID] = f
	return nil
}

func sameYears(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]int(nil), a...)
	sb := append([]int(nil), b...)
	sort.Ints(sa)
	sort.Ints(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func monthKey(month int) string {
	return fmt.Sprintf("%d", month)
}

func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmpPattern := fmt.Sprintf("%s.%d.*.tmp", filepath.Base(path), os.Getpid())
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("snapshot store: create temp file: %w", err)
	}
	tmpName := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: rename temp file: %w", err)
	}
	return nil
}
