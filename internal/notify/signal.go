// Package notify lets the query cache tell subscribers that a cached
// bucket was invalidated without handing them the invalidated key
// itself — per §4.5.2, invalidation is deferred and batched, so the
// only thing a waiter needs is "something changed, re-check your query".
package notify

import "sync"

// Signal is a level-triggered wakeup: callers wait on C(), and any call
// to Notify() wakes every current waiter at once by closing the channel
// and swapping in a fresh one. A caller that re-queries after waking
// re-reads whatever state it cares about directly, rather than being
// told what changed — Signal only carries "something changed", never a
// payload.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes every goroutine currently blocked on C().
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that closes on the next Notify() call. Callers
// must re-call C() after each wakeup to wait on the next one.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}
