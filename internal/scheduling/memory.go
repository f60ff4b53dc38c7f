package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]booking.Booking
	subjects map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]booking.Booking),
		subjects: make(map[string]string),
	}
}

// RegisterSubject records the display name used in conflict descriptions.
func (s *MemoryStore) RegisterSubject(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[id] = strings.TrimSpace(name)
}

func (s *MemoryStore) Insert(ctx context.Context, b booking.Booking, _ booking.ChangeEvent) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[b.ID]; exists {
		return booking.Booking{}, &booking.ValidationError{Field: "id", Reason: "already exists"}
	}
	if err := s.checkOverlapLocked(b); err != nil {
		return booking.Booking{}, err
	}
	s.bookings[b.ID] = b.Clone()
	return s.withNameLocked(b), nil
}

func (s *MemoryStore) Update(ctx context.Context, b booking.Booking, expected booking.Status, _ booking.ChangeEvent) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.bookings[b.ID]
	if !exists {
		return booking.Booking{}, booking.ErrNotFound
	}
	if current.Status != expected {
		return booking.Booking{}, staleStatus(b, current.Status)
	}
	if err := s.checkOverlapLocked(b); err != nil {
		return booking.Booking{}, err
	}
	s.bookings[b.ID] = b.Clone()
	return s.withNameLocked(b), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return s.withNameLocked(b), nil
}

func (s *MemoryStore) List(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]booking.Booking, 0)
	for _, b := range s.bookings {
		if w.Contains(b) {
			out = append(out, s.withNameLocked(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (s *MemoryStore) checkOverlapLocked(candidate booking.Booking) error {
	if !candidate.Status.Occupies() {
		return nil
	}
	span := candidate.Interval()
	var blocker *booking.Booking
	for _, existing := range s.bookings {
		if existing.ID == candidate.ID || existing.ResourceID != candidate.ResourceID {
			continue
		}
		if !existing.Status.Occupies() {
			continue
		}
		if !existing.Interval().Overlaps(span) {
			continue
		}
		if blocker == nil || existing.Start.Before(blocker.Start) {
			b := existing
			blocker = &b
		}
	}
	if blocker != nil {
		return conflictFor(s.withNameLocked(*blocker))
	}
	return nil
}

func (s *MemoryStore) withNameLocked(b booking.Booking) booking.Booking {
	out := b.Clone()
	if name, ok := s.subjects[b.SubjectID]; ok && name != "" {
		out.SubjectName = name
	}
	return out
}
