package middleware

import "sync"

// storeBreaker tracks the health of the primary bucket store. It opens after
// openAfter consecutive errors and closes again after closeAfter consecutive
// successes while open. Checks made while open are answered by the fallback.
type storeBreaker struct {
	mu         sync.Mutex
	open       bool
	errors     int
	recoveries int
	openAfter  int
	closeAfter int
}

func newStoreBreaker(openAfter, closeAfter int) *storeBreaker {
	return &storeBreaker{openAfter: openAfter, closeAfter: closeAfter}
}

func (b *storeBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// failure records a store error and reports whether the breaker is open.
func (b *storeBreaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recoveries = 0
	b.errors++
	if b.errors >= b.openAfter {
		b.open = true
	}
	return b.open
}

// success records a clean store call and reports whether the primary may be
// trusted again.
func (b *storeBreaker) success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.errors = 0
		return true
	}
	b.recoveries++
	if b.recoveries < b.closeAfter {
		return false
	}
	b.open = false
	b.errors = 0
	b.recoveries = 0
	return true
}
