package book

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultPoolCapacity is the number of order slots preallocated when no
// explicit capacity is configured.
const DefaultPoolCapacity = 100_000

var ErrPoolExhausted = errors.New("order pool exhausted")

// OrderPool is a bounded LIFO recycler of OrderRecord slots. All records
// live in a single preallocated slab; Borrow and Return move pointers on
// and off a free stack and never allocate.
//
// Every live record is in exactly one place: the free stack, an OrderLevel,
// or transiently held by a single engine operation. Returning a record
// twice, or returning a record the pool does not own, is a memory-safety
// bug and panics.
type OrderPool struct {
	mu   sync.Mutex
	slab []OrderRecord
	free []*OrderRecord
}

func NewOrderPool(capacity int) *OrderPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	p := &OrderPool{
		slab: make([]OrderRecord, capacity),
		free: make([]*OrderRecord, 0, capacity),
	}
	// Stack the slots so slot 0 is borrowed first.
	for i := capacity - 1; i >= 0; i-- {
		r := &p.slab[i]
		r.slot = i
		r.free = true
		p.free = append(p.free, r)
	}
	return p
}

// Borrow hands out a free slot. The caller owns the record until it is
// either inserted into the book or returned.
func (p *OrderPool) Borrow() (*OrderRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	r := p.free[n-1]
	p.free = p.free[:n-1]
	r.free = false
	return r, nil
}

// Return resets r and publishes its slot as free again. The record must be
// unlinked from any level before it is returned.
func (p *OrderPool) Return(r *OrderRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r == nil || r.slot < 0 || r.slot >= len(p.slab) || &p.slab[r.slot] != r {
		panic(fmt.Sprintf("order pool: return of foreign record %p", r))
	}
	if r.free {
		panic(fmt.Sprintf("order pool: double return of slot %d", r.slot))
	}
	if len(p.free) >= len(p.slab) {
		panic("order pool: overflow, more returns than borrows")
	}
	r.gen.Add(1)
	r.reset()
	r.free = true
	p.free = append(p.free, r)
}

// Available reports how many slots remain free.
func (p *OrderPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Capacity reports the total number of slots.
func (p *OrderPool) Capacity() int {
	return len(p.slab)
}
