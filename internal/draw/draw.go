// Package draw implements shuffle-and-draw without replacement. The session
// selector and the theory structure generator both consume it.
package draw

import "math/rand/v2"

// Source yields uniform integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it, which lets tests pass a seeded generator.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Default draws from the process-wide generator.
var Default Source = globalSource{}

// Shuffle permutes items in place using Fisher-Yates.
func Shuffle[T any](src Source, items []T) {
	if src == nil {
		src = Default
	}
	for i := len(items) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// Take returns a random permutation of items truncated to n elements when
// 0 < n < len(items). items itself is left untouched.
func Take[T any](src Source, items []T, n int) []T {
	out := make([]T, len(items))
	copy(out, items)
	Shuffle(src, out)
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Pool hands out items in random order, each at most once.
type Pool[T any] struct {
	items []T
}

func NewPool[T any](src Source, items []T) *Pool[T] {
	out := make([]T, len(items))
	copy(out, items)
	Shuffle(src, out)
	return &Pool[T]{items: out}
}

// Pop removes and returns the next item. ok is false once the pool is empty.
func (p *Pool[T]) Pop() (item T, ok bool) {
	if p == nil || len(p.items) == 0 {
		return item, false
	}
	last := len(p.items) - 1
	item = p.items[last]
	p.items = p.items[:last]
	return item, true
}

func (p *Pool[T]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}
