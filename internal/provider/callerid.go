package provider

import "sync"

// CallerIDPool rotates outbound caller numbers round-robin so consecutive
// dials are spread across the account's numbers. It lives alongside the
// call-control client rather than as package state.
type CallerIDPool struct {
	mu      sync.Mutex
	numbers []string
	next    int
}

// NewCallerIDPool creates a pool over the given E.164 numbers. The pool
// must not be empty.
func NewCallerIDPool(numbers []string) *CallerIDPool {
	return &CallerIDPool{numbers: numbers}
}

// Next returns the next caller number in rotation.
func (p *CallerIDPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.numbers[p.next]
	p.next = (p.next + 1) % len(p.numbers)
	return n
}

// Size returns the number of configured caller numbers.
func (p *CallerIDPool) Size() int {
	return len(p.numbers)
}
