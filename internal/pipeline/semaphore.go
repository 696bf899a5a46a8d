package pipeline

import "context"

// Semaphore is the bounded-parallelism gate: at most limit leads are inside
// the processing stages at once. Acquire blocks until a slot frees or the
// context ends.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a gate with the given slot count.
func NewSemaphore(limit int) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{slots: make(chan struct{}, limit)}
}

// Acquire takes a slot, or returns the context error on cancellation/timeout.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		panic("pipeline: release of unacquired semaphore slot")
	}
}

// InFlight returns how many slots are currently held.
func (s *Semaphore) InFlight() int {
	return len(s.slots)
}
