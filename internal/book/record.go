package book

import (
	"sync/atomic"

	"fulcrum/internal/common"
)

// OrderRecord is the fixed-width order datum. Records double as intrusive
// list nodes inside an OrderLevel, so a record belongs to at most one level
// at a time. All records are slab-owned by an OrderPool; their identity is
// stable for the lifetime of the pool.
type OrderRecord struct {
	OrderID  uint64
	Side     common.Side
	Price    int64
	Quantity uint64 // remaining quantity, > 0 while resting

	// Intrusive links. Both nil whenever the record is not in a level.
	next *OrderRecord
	prev *OrderRecord

	slot int  // index into the owning pool's slab
	free bool // guarded by the pool lock

	// gen is bumped on every return to the pool. Cancellation snapshots it
	// to detect that a record it located was consumed and recycled while it
	// waited for the level lock.
	gen atomic.Uint64
}

// Generation returns the record's current recycle stamp.
func (r *OrderRecord) Generation() uint64 {
	return r.gen.Load()
}

// reset zeroes the order fields and unlinks the record. Called by the pool,
// under the pool lock, before the slot is published as free.
func (r *OrderRecord) reset() {
	r.OrderID = 0
	r.Side = common.Buy
	r.Price = 0
	r.Quantity = 0
	r.next = nil
	r.prev = nil
}
