// Package snapshot provides the append-only, tick-indexed record of
// simulation state, planner actions, and evaluation results.
//
// The store is the only channel through which history is observed: the
// evaluation engine and planners read it, the simulation appends to it.
// Values are treated as immutable once written. Writers hand over freshly
// built values; readers must not mutate what they get back.
//
// Thread-safety: NOT thread-safe. A store belongs to one simulation
// goroutine; background work operates on a Clone.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
)

// Category partitions the keys recorded for a tick.
type Category string

const (
	// CategoryState holds observed system state (pre- and post-action keys).
	CategoryState Category = "state"
	// CategoryAction holds the action applied during the tick.
	CategoryAction Category = "action"
	// CategoryEvaluate holds costs and planner timings computed for the tick.
	CategoryEvaluate Category = "evaluate"
)

var validCategories = map[Category]bool{
	CategoryState:    true,
	CategoryAction:   true,
	CategoryEvaluate: true,
}

// IsValidCategory reports whether c is a recognized category.
func IsValidCategory(c Category) bool {
	return validCategories[c]
}

var (
	// ErrNotFound is returned when reading a (tick, category, key) that was
	// never written. No default value is ever synthesized.
	ErrNotFound = errors.New("snapshot entry not found")

	// ErrInvalidCategory is returned when writing to an unknown category.
	ErrInvalidCategory = errors.New("invalid snapshot category")

	// ErrTypeMismatch is returned by Lookup when the stored value has a
	// different type than requested.
	ErrTypeMismatch = errors.New("snapshot value type mismatch")
)

// Store maps tick -> category -> key -> value.
type Store struct {
	data map[int64]map[Category]map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: make(map[int64]map[Category]map[string]any)}
}

func (s *Store) bucket(tick int64, cat Category, create bool) map[string]any {
	byCat, ok := s.data[tick]
	if !ok {
		if !create {
			return nil
		}
		byCat = make(map[Category]map[string]any)
		s.data[tick] = byCat
	}
	b, ok := byCat[cat]
	if !ok && create {
		b = make(map[string]any)
		byCat[cat] = b
	}
	return b
}

// Put writes a single key for (tick, category), overwriting any previous
// value for that key.
func (s *Store) Put(tick int64, cat Category, key string, value any) error {
	if !validCategories[cat] {
		return fmt.Errorf("put %d/%s/%s: %w", tick, cat, key, ErrInvalidCategory)
	}
	s.bucket(tick, cat, true)[key] = value
	return nil
}

// PutAll inserts values as the whole (tick, category) bucket if and only if
// that bucket has not been written yet. The first writer wins; later calls
// report false and change nothing.
func (s *Store) PutAll(tick int64, cat Category, values map[string]any) (bool, error) {
	if !validCategories[cat] {
		return false, fmt.Errorf("put-all %d/%s: %w", tick, cat, ErrInvalidCategory)
	}
	if s.bucket(tick, cat, false) != nil {
		return false, nil
	}
	b := s.bucket(tick, cat, true)
	for k, v := range values {
		b[k] = v
	}
	return true, nil
}

// Get returns the value stored under (tick, category, key).
func (s *Store) Get(tick int64, cat Category, key string) (any, error) {
	b := s.bucket(tick, cat, false)
	if b == nil {
		return nil, fmt.Errorf("get %d/%s/%s: %w", tick, cat, key, ErrNotFound)
	}
	v, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("get %d/%s/%s: %w", tick, cat, key, ErrNotFound)
	}
	return v, nil
}

// Lookup is a typed Get.
func Lookup[T any](s *Store, tick int64, cat Category, key string) (T, error) {
	var zero T
	v, err := s.Get(tick, cat, key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("get %d/%s/%s: stored %T, want %T: %w", tick, cat, key, v, zero, ErrTypeMismatch)
	}
	return typed, nil
}

// Has reports whether anything was recorded for tick.
func (s *Store) Has(tick int64) bool {
	_, ok := s.data[tick]
	return ok
}

// HasCategory reports whether the (tick, category) bucket exists.
func (s *Store) HasCategory(tick int64, cat Category) bool {
	return s.bucket(tick, cat, false) != nil
}

// Ticks returns every recorded tick in ascending order.
func (s *Store) Ticks() []int64 {
	ticks := make([]int64, 0, len(s.data))
	for t := range s.data {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// Keys returns the keys recorded under (tick, category) in ascending order.
func (s *Store) Keys(tick int64, cat Category) []string {
	b := s.bucket(tick, cat, false)
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the store's index. Values are shared, which is safe because
// they are never mutated after being written.
func (s *Store) Clone() *Store {
	out := NewStore()
	for tick, byCat := range s.data {
		cp := make(map[Category]map[string]any, len(byCat))
		for cat, b := range byCat {
			nb := make(map[string]any, len(b))
			for k, v := range b {
				nb[k] = v
			}
			cp[cat] = nb
		}
		out.data[tick] = cp
	}
	return out
}

// Len returns the number of recorded (tick, category, key) entries.
func (s *Store) Len() int {
	n := 0
	for _, byCat := range s.data {
		for _, b := range byCat {
			n += len(b)
		}
	}
	return n
}
