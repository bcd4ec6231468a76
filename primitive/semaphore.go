package primitive

import (
	"sync/atomic"
)

// Semaphore is a process-shared counting semaphore.
type Semaphore struct {
	value uint32
}

// Init sets the initial count. It must be called once, before the region
// is published to other processes.
func (s *Semaphore) Init(value uint32) {
	atomic.StoreUint32(&s.value, value)
}

// Wait decrements the count, blocking while it is zero.
func (s *Semaphore) Wait() error {
	for {
		v := atomic.LoadUint32(&s.value)
		if v == 0 {
			if err := futexWait(&s.value, 0); err != nil {
				return err
			}
			continue
		}
		if atomic.CompareAndSwapUint32(&s.value, v, v-1) {
			return nil
		}
	}
}

// TryWait decrements the count if it is positive.
func (s *Semaphore) TryWait() bool {
	for {
		v := atomic.LoadUint32(&s.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.value, v, v-1) {
			return true
		}
	}
}

// Post increments the count and wakes one waiter.
func (s *Semaphore) Post() error {
	atomic.AddUint32(&s.value, 1)
	return futexWake(&s.value, 1)
}

// Value returns the current count. Only meaningful for diagnostics, the
// value may be stale by the time it is observed.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(&s.value)
}
