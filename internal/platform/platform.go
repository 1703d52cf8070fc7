// Package platform wraps the OS primitives Vortex's streaming substrate is
// built on: virtual memory reservation, userfaultfd-based fault interception,
// and the synchronization primitives the streams need (counting
// semaphores, a monotonic timer).
package platform

import (
	"sync/atomic"
	"time"
)

// PageSize is the native page size Vortex reasons about. Every block size
// is required to be a multiple of it.
const PageSize = 4096

// Now returns a monotonic timestamp suitable for speed/ETA reporting.
// time.Now() on every supported Go platform already carries a monotonic
// reading alongside the wall clock, so no extra wrapping is needed.
func Now() time.Time {
	return time.Now()
}

// Semaphore is a channel-backed counting semaphore.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a semaphore with room for up to capacity outstanding
// permits, initialized with initial of them already available. capacity must
// be the stream's real upper bound on outstanding permits (e.g. VortexC's
// M+L+N+1 live-block ceiling) — it is not the same thing as the starting
// count, which for semFull is legitimately 0 even though the stream goes on
// to Release() far more than zero permits over its lifetime.
func NewSemaphore(initial, capacity int) *Semaphore {
	s := &Semaphore{tokens: make(chan struct{}, capacity)}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Acquire blocks until a permit is available.
func (s *Semaphore) Acquire() {
	<-s.tokens
}

// Release returns a permit. Releasing more permits than the semaphore's
// capacity is a caller bug and panics.
func (s *Semaphore) Release() {
	select {
	case s.tokens <- struct{}{}:
	default:
		panic("platform: semaphore released beyond capacity")
	}
}

// ReleaseN releases n permits.
func (s *Semaphore) ReleaseN(n int) {
	for i := 0; i < n; i++ {
		s.Release()
	}
}

// Count is an approximate view of currently available permits, useful only
// for diagnostics.
func (s *Semaphore) Count() int {
	return len(s.tokens)
}

// MinTracker records the minimum value observed across a stream of updates,
// the mechanism behind StreamPool's minAvailableBlocks bookkeeping.
type MinTracker struct {
	v int64
}

// NewMinTracker creates a tracker seeded with the given initial value.
func NewMinTracker(initial int) *MinTracker {
	return &MinTracker{v: int64(initial)}
}

// Observe records a new sample, keeping the running minimum.
func (m *MinTracker) Observe(sample int) {
	for {
		cur := atomic.LoadInt64(&m.v)
		if int64(sample) >= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&m.v, cur, int64(sample)) {
			return
		}
	}
}

// Min returns the minimum sample observed so far.
func (m *MinTracker) Min() int {
	return int(atomic.LoadInt64(&m.v))
}
