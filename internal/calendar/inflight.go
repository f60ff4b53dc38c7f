package calendar

import (
	"strconv"
	"strings"
	"sync"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// inflight serializes mutations per key.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

func (f *inflight) busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func bookingKey(id string) string { return "booking:" + id }

// candidateKey identifies a create so a double submit of the same candidate is
// refused while the first is in flight.
func candidateKey(f booking.Fields) string {
	return "create:" + strings.Join([]string{
		f.ResourceID,
		f.SubjectID,
		strconv.FormatInt(f.Start.UnixNano(), 10),
		strconv.FormatInt(f.End.UnixNano(), 10),
	}, "|")
}
