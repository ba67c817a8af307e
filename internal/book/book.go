package book

import (
	"sync"
	"sync/atomic"

	"fulcrum/internal/common"

	"github.com/tidwall/btree"
)

// LevelSummary is a read-only view of one price level, used for depth
// snapshots and the stats surface.
type LevelSummary struct {
	Price    int64
	Quantity uint64
	Orders   int
}

// bookSide is one sorted half of the book: a btree of levels keyed by
// price (bids descending, asks ascending) plus the short structural lock
// that makes level creation, first insertion and conditional removal a
// single observable step per price key.
//
// The version stamp is bumped on every structural change so best-price
// readers can validate an optimistic, lock-free read of the tree minimum.
type bookSide struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[*OrderLevel]
	version atomic.Uint64
}

func newBookSide(side common.Side) *bookSide {
	less := func(a, b *OrderLevel) bool { return a.price < b.price }
	if side == common.Buy {
		less = func(a, b *OrderLevel) bool { return a.price > b.price }
	}
	return &bookSide{tree: btree.NewBTreeG(less)}
}

func (s *bookSide) probe(price int64) *OrderLevel {
	return &OrderLevel{price: price}
}

// best returns the side's best price. Optimistic: read the tree minimum
// without the structural lock, validate against the version stamp, and
// fall back to a shared read lock when the stamp moved underneath us.
func (s *bookSide) best() (int64, bool) {
	for range 2 {
		v := s.version.Load()
		level, ok := s.tree.Min()
		if s.version.Load() == v {
			if !ok {
				return 0, false
			}
			return level.price, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.tree.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// OrderBook is the two-sided sorted book plus the id index. It owns no
// records itself; records flow between the pool, the levels and the
// transient grip of a single engine operation.
type OrderBook struct {
	bids  *bookSide
	asks  *bookSide
	index *OrderIndex
	pool  *OrderPool
}

func NewOrderBook(pool *OrderPool) *OrderBook {
	return &OrderBook{
		bids:  newBookSide(common.Buy),
		asks:  newBookSide(common.Sell),
		index: NewOrderIndex(),
		pool:  pool,
	}
}

func (b *OrderBook) side(s common.Side) *bookSide {
	if s == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) Pool() *OrderPool { return b.pool }

// AddOrder inserts a record at its price on its own side, creating the
// level if absent or if the mapped level is tombstoned, and indexes the
// record. Creation and first insertion are one observable step under the
// side's structural lock, which closes the lost-update window against a
// concurrent empty-level reclamation.
func (b *OrderBook) AddOrder(r *OrderRecord) {
	s := b.side(r.Side)

	s.mu.Lock()
	level, ok := s.tree.Get(s.probe(r.Price))
	if !ok {
		level = NewOrderLevel(r.Price, r.Side)
		s.tree.Set(level)
		s.version.Add(1)
	}
	level.Lock()
	if level.IsRemoved() {
		// A reclaimer tombstoned this instance after we fetched it.
		// Replace it with a fresh level under the structural lock; the
		// reclaimer's conditional delete will no longer match.
		level.Unlock()
		level = NewOrderLevel(r.Price, r.Side)
		s.tree.Set(level)
		s.version.Add(1)
		level.Lock()
	}
	level.AddLast(r)
	b.index.Put(r.OrderID, r)
	level.Unlock()
	s.mu.Unlock()
}

// RemoveOrder unlinks a resting record located through the index, for the
// cancellation path. It returns false when the record lost the race: a
// matcher consumed it (and possibly recycled the slot) between the index
// lookup and the level lock. On success the caller owns the record again
// and is responsible for returning it to the pool.
func (b *OrderBook) RemoveOrder(r *OrderRecord) bool {
	// Snapshot identity before the record can be recycled under us. If gen
	// moves, the slot went back through the pool and anything read below
	// is void.
	gen := r.Generation()
	price, side := r.Price, r.Side
	if r.Generation() != gen {
		return false
	}
	s := b.side(side)

	for {
		level, ok := s.tree.Get(s.probe(price))
		if !ok {
			// A resting record keeps its level mapped, so a miss means the
			// record is gone unless the index still vouches for it.
			if cur, found := b.index.Get(r.OrderID); !found || cur != r || r.Generation() != gen {
				return false
			}
			continue
		}

		level.Lock()
		if cur, found := b.index.Get(r.OrderID); !found || cur != r || r.Generation() != gen {
			level.Unlock()
			return false
		}
		if level.IsRemoved() {
			// Tombstoned instance still mapped; the record rests in its
			// replacement. Retry against the current mapping.
			level.Unlock()
			continue
		}

		level.Remove(r)
		b.index.Remove(r.OrderID)
		emptied := false
		if level.IsEmpty() {
			level.SetRemoved()
			emptied = true
		}
		level.Unlock()

		if emptied {
			b.DropLevel(side, price, level)
		}
		return true
	}
}

// FirstLevel returns the best level on a side, if any.
func (b *OrderBook) FirstLevel(side common.Side) (*OrderLevel, bool) {
	return b.side(side).tree.Min()
}

// DropLevel removes the map entry at price, but only while it still holds
// the given (tombstoned) level instance. A fresh level installed by a
// concurrent inserter is left alone.
func (b *OrderBook) DropLevel(side common.Side, price int64, level *OrderLevel) {
	s := b.side(side)
	s.mu.Lock()
	if cur, ok := s.tree.Get(s.probe(price)); ok && cur == level {
		s.tree.Delete(s.probe(price))
		s.version.Add(1)
	}
	s.mu.Unlock()
}

// Unindex drops a fully-filled order's id. Safe to call under a level
// lock; the index lock is a leaf.
func (b *OrderBook) Unindex(id uint64) {
	b.index.Remove(id)
}

// FindOrder locates a resting record by id.
func (b *OrderBook) FindOrder(id uint64) (*OrderRecord, bool) {
	return b.index.Get(id)
}

// Contains reports whether id currently rests in the book.
func (b *OrderBook) Contains(id uint64) bool {
	return b.index.Contains(id)
}

// ActiveOrders reports the number of resting orders.
func (b *OrderBook) ActiveOrders() int {
	return b.index.Size()
}

// BestBid returns the highest bid price, if any bid rests.
func (b *OrderBook) BestBid() (int64, bool) {
	return b.bids.best()
}

// BestAsk returns the lowest ask price, if any ask rests.
func (b *OrderBook) BestAsk() (int64, bool) {
	return b.asks.best()
}

// Quote returns the current L1 view.
func (b *OrderBook) Quote() common.Quote {
	var q common.Quote
	q.BestBid, q.HasBid = b.BestBid()
	q.BestAsk, q.HasAsk = b.BestAsk()
	return q
}

// LevelCount reports the number of mapped price levels on a side.
func (b *OrderBook) LevelCount(side common.Side) int {
	return b.side(side).tree.Len()
}

// Levels walks a side in priority order and summarizes each level.
// Tombstoned or momentarily empty levels are skipped.
func (b *OrderBook) Levels(side common.Side) []LevelSummary {
	var out []LevelSummary
	b.side(side).tree.Scan(func(level *OrderLevel) bool {
		qty, orders := level.Snapshot()
		if qty > 0 {
			out = append(out, LevelSummary{Price: level.price, Quantity: qty, Orders: orders})
		}
		return true
	})
	return out
}
