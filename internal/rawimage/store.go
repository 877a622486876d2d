package rawimage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrSealed is returned when a store is modified while a composition job holds it.
var ErrSealed = errors.New("rawimage: store is sealed by a running job")

// Store maps stable integer ids to images. It is shared read-only by all
// workers of a job; Seal prevents modification while a job runs.
type Store struct {
	images map[int]*Image
	next   int
	holds  atomic.Int32
	mu     sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{images: make(map[int]*Image)}
}

// Add stores img under the next free id and returns that id.
func (s *Store) Add(img *Image) (int, error) {
	if img == nil {
		return 0, errors.New("image is nil")
	}
	if s.Sealed() {
		return 0, ErrSealed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if _, taken := s.images[s.next]; !taken {
			break
		}
		s.next++
	}
	id := s.next
	s.images[id] = img
	s.next++
	return id, nil
}

// Put stores img under an explicit id, replacing any previous image.
func (s *Store) Put(id int, img *Image) error {
	if img == nil {
		return fmt.Errorf("image %d is nil", id)
	}
	if s.Sealed() {
		return ErrSealed
	}

	s.mu.Lock()
	s.images[id] = img
	s.mu.Unlock()
	return nil
}

// Get returns the image stored under id.
func (s *Store) Get(id int) (*Image, bool) {
	s.mu.RLock()
	img, ok := s.images[id]
	s.mu.RUnlock()
	return img, ok
}

// Len returns the number of stored images.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// IDs returns the stored ids in ascending order.
func (s *Store) IDs() []int {
	s.mu.RLock()
	ids := make([]int, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Seal blocks Add and Put until the returned release func is called.
// Seals nest, so concurrent jobs can share one store.
func (s *Store) Seal() (release func()) {
	s.holds.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.holds.Add(-1) })
	}
}

// Sealed reports whether any job currently holds the store.
func (s *Store) Sealed() bool {
	return s.holds.Load() > 0
}
