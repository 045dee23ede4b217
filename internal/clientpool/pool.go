// Package clientpool hands out a fixed set of client handles round-robin.
package clientpool

import (
	"errors"
	"sync"
)

// Pool is a fixed-size round-robin pool. Handles are shared, not leased:
// Get never blocks and never grows the pool.
type Pool[T any] struct {
	mu      sync.Mutex
	clients []T
	next    int
}

// New creates a pool of n handles built by factory.
func New[T any](n int, factory func(i int) T) (*Pool[T], error) {
	if n <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	clients := make([]T, n)
	for i := range clients {
		clients[i] = factory(i)
	}
	return &Pool[T]{clients: clients}, nil
}

// Get returns the next handle in rotation.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.next]
	p.next = (p.next + 1) % len(p.clients)
	return c
}

// Size returns the number of handles.
func (p *Pool[T]) Size() int { return len(p.clients) }
