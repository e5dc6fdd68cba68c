// Package store implements the keyed multi-series value store (spec.md
// §4.1) shared by the orchestrator and node runtime: per-key series of
// timestamped items with init/append/update/slice semantics and
// single-writer/multi-reader concurrency discipline per key.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/quantflow/backtest-engine/internal/xerrors"
)

// Item is anything with a timestamp the store can order and dedup by.
type Item interface {
	Timestamp() time.Time
}

// series holds one key's ordered, deduplicated item slice guarded by its
// own lock so unrelated keys never contend.
type series struct {
	mu    sync.RWMutex
	items []Item
}

// Store is a generic, key-addressed time series store. Keys are opaque
// strings (callers use a canonical String() form, e.g. KlineKey.String()).
type Store struct {
	mu     sync.RWMutex
	series map[string]*series
}

// New returns an empty Store.
func New() *Store {
	return &Store{series: make(map[string]*series)}
}

func (s *Store) seriesFor(key string) (*series, bool) {
	s.mu.RLock()
	sr, ok := s.series[key]
	s.mu.RUnlock()
	return sr, ok
}

func (s *Store) getOrCreate(key string) *series {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[key]
	if !ok {
		sr = &series{}
		s.series[key] = sr
	}
	return sr
}

// Init sets the series for key only if the key is absent or its current
// series is empty; otherwise it is a no-op.
func (s *Store) Init(key string, items []Item) {
	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.items) != 0 {
		return
	}
	sr.items = sortDedup(items)
}

// Append inserts items into key's series, sorted by timestamp, deduping
// to the last occurrence of any repeated timestamp.
func (s *Store) Append(key string, items []Item) {
	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.items = sortDedup(append(sr.items, items...))
}

// Update inserts or replaces the tail item of key's series: if the series
// is empty, item becomes its sole element; if item's timestamp equals the
// series's last timestamp, it replaces the tail; otherwise it is appended.
func (s *Store) Update(key string, item Item) {
	sr := s.getOrCreate(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.items) == 0 {
		sr.items = []Item{item}
		return
	}
	last := sr.items[len(sr.items)-1]
	if item.Timestamp().Equal(last.Timestamp()) {
		sr.items[len(sr.items)-1] = item
		return
	}
	sr.items = append(sr.items, item)
}

// Slice implements the four index/limit windowing modes of spec.md §4.1.
// index and limit are optional (nil means "None" in the spec's notation).
func (s *Store) Slice(key string, index, limit *int) ([]Item, error) {
	sr, ok := s.seriesFor(key)
	if !ok {
		return nil, xerrors.New(xerrors.CodeKlineKeyNotFound, map[string]string{"key": key})
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	n := len(sr.items)
	switch {
	case index != nil:
		i := *index
		if i < 0 || i >= n {
			return nil, xerrors.New(xerrors.CodePlayIndexOutOfRange, map[string]string{"key": key})
		}
		start := 0
		if limit != nil {
			l := *limit
			if i-l+1 > 0 {
				start = i - l + 1
			}
		}
		out := make([]Item, i-start+1)
		copy(out, sr.items[start:i+1])
		return out, nil
	case limit != nil:
		l := *limit
		if l > n {
			l = n
		}
		out := make([]Item, l)
		copy(out, sr.items[n-l:])
		return out, nil
	default:
		out := make([]Item, n)
		copy(out, sr.items)
		return out, nil
	}
}

// Len returns the current length of key's series, or 0 if unknown.
func (s *Store) Len(key string) int {
	sr, ok := s.seriesFor(key)
	if !ok {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.items)
}

// HasKey reports whether key has been initialized in the store.
func (s *Store) HasKey(key string) bool {
	_, ok := s.seriesFor(key)
	return ok
}

// Reset removes all series, matching a strategy-level reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string]*series)
}

func sortDedup(items []Item) []Item {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp().Before(items[j].Timestamp())
	})
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if len(out) > 0 && out[len(out)-1].Timestamp().Equal(it.Timestamp()) {
			out[len(out)-1] = it
			continue
		}
		out = append(out, it)
	}
	return out
}
