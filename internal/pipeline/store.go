package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// Store owns the shared collection of units. Every read returns a deep copy
// and every write is an atomic read-modify-write under the store's lock, so
// the scheduler and user-triggered actions can share it across goroutines.
type Store struct {
	mu    sync.RWMutex
	units []models.Unit
	index map[string]int
	now   func() time.Time
}

// NewStore creates a store holding units in document order.
func NewStore(units ...models.Unit) *Store {
	s := &Store{now: time.Now}
	s.Replace(units)
	return s
}

// Replace swaps the whole collection, e.g. after loading a checkpoint.
func (s *Store) Replace(units []models.Unit) {
	cp := make([]models.Unit, len(units))
	for i, u := range units {
		cp[i] = u.Clone()
	}
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].SequenceIndex < cp[j].SequenceIndex
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = cp
	s.reindex()
}

// Add appends units, keeping document order. Duplicate ids are rejected.
func (s *Store) Add(units ...models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		if _, exists := s.index[u.ID]; exists {
			return fmt.Errorf("unit %s already exists", u.ID)
		}
	}
	for _, u := range units {
		s.units = append(s.units, u.Clone())
	}
	sort.SliceStable(s.units, func(i, j int) bool {
		return s.units[i].SequenceIndex < s.units[j].SequenceIndex
	})
	s.reindex()
	return nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.units))
	for i, u := range s.units {
		s.index[u.ID] = i
	}
}

// Len returns the number of units.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// Snapshot returns a copy of every unit in document order.
func (s *Store) Snapshot() []models.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Unit, len(s.units))
	for i, u := range s.units {
		out[i] = u.Clone()
	}
	return out
}

// Get returns a copy of one unit.
func (s *Store) Get(id string) (models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Unit{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return s.units[i].Clone(), nil
}

// Update applies fn to a copy of the unit and commits the copy only when fn
// returns nil. The committed unit is returned.
func (s *Store) Update(id string, fn func(u *models.Unit) error) (models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return models.Unit{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	next := s.units[i].Clone()
	if err := fn(&next); err != nil {
		return models.Unit{}, err
	}
	next.ID = s.units[i].ID
	next.SequenceIndex = s.units[i].SequenceIndex
	next.UpdatedAt = s.now().UTC()
	s.units[i] = next
	return next.Clone(), nil
}
