package book

import (
	"testing"

	"fulcrum/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook(t *testing.T) (*OrderBook, *OrderPool) {
	t.Helper()
	pool := NewOrderPool(16)
	return NewOrderBook(pool), pool
}

func borrow(t *testing.T, pool *OrderPool, id uint64, side common.Side, price int64, qty uint64) *OrderRecord {
	t.Helper()
	r, err := pool.Borrow()
	require.NoError(t, err)
	r.OrderID = id
	r.Side = side
	r.Price = price
	r.Quantity = qty
	return r
}

func TestBookAddAndFind(t *testing.T) {
	b, pool := newTestBook(t)

	r := borrow(t, pool, 1, common.Buy, 10000, 50)
	b.AddOrder(r)

	found, ok := b.FindOrder(1)
	require.True(t, ok)
	assert.Same(t, r, found)
	assert.True(t, b.Contains(1))
	assert.Equal(t, 1, b.ActiveOrders())
	assert.Equal(t, 1, b.LevelCount(common.Buy))
}

func TestBookBestPrices(t *testing.T) {
	b, pool := newTestBook(t)

	b.AddOrder(borrow(t, pool, 1, common.Buy, 10000, 10))
	b.AddOrder(borrow(t, pool, 2, common.Buy, 10100, 10))
	b.AddOrder(borrow(t, pool, 3, common.Sell, 10200, 10))
	b.AddOrder(borrow(t, pool, 4, common.Sell, 10150, 10))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(10100), bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(10150), ask)

	q := b.Quote()
	assert.True(t, q.HasBid)
	assert.True(t, q.HasAsk)
	spread, ok := q.Spread()
	require.True(t, ok)
	assert.Equal(t, int64(50), spread)
}

func TestBookEmptySides(t *testing.T) {
	b, _ := newTestBook(t)

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)

	q := b.Quote()
	assert.False(t, q.HasBid)
	assert.False(t, q.HasAsk)
	_, ok = q.Spread()
	assert.False(t, ok)
}

func TestBookRemoveOrder(t *testing.T) {
	b, pool := newTestBook(t)

	r := borrow(t, pool, 1, common.Buy, 10000, 50)
	b.AddOrder(r)

	require.True(t, b.RemoveOrder(r))
	pool.Return(r)

	assert.False(t, b.Contains(1))
	assert.Zero(t, b.LevelCount(common.Buy), "emptied level leaves the map")
	assert.Equal(t, pool.Capacity(), pool.Available())
}

func TestBookRemoveLosesRaceAfterConsumption(t *testing.T) {
	b, pool := newTestBook(t)

	r := borrow(t, pool, 1, common.Buy, 10000, 50)
	b.AddOrder(r)

	// Simulate the matcher consuming the order: detach, unindex, tombstone,
	// reclaim, recycle.
	level, ok := b.FirstLevel(common.Buy)
	require.True(t, ok)
	level.Lock()
	level.Remove(r)
	b.Unindex(r.OrderID)
	level.SetRemoved()
	level.Unlock()
	b.DropLevel(common.Buy, 10000, level)
	pool.Return(r)

	assert.False(t, b.RemoveOrder(r), "cancel loses the race")
}

func TestBookLevelsAggregation(t *testing.T) {
	b, pool := newTestBook(t)

	b.AddOrder(borrow(t, pool, 1, common.Sell, 10100, 10))
	b.AddOrder(borrow(t, pool, 2, common.Sell, 10100, 15))
	b.AddOrder(borrow(t, pool, 3, common.Sell, 10300, 20))
	b.AddOrder(borrow(t, pool, 4, common.Buy, 10000, 5))

	asks := b.Levels(common.Sell)
	require.Len(t, asks, 2)
	assert.Equal(t, LevelSummary{Price: 10100, Quantity: 25, Orders: 2}, asks[0])
	assert.Equal(t, LevelSummary{Price: 10300, Quantity: 20, Orders: 1}, asks[1])

	bids := b.Levels(common.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, LevelSummary{Price: 10000, Quantity: 5, Orders: 1}, bids[0])
}

func TestBookTombstonedLevelReplacedOnInsert(t *testing.T) {
	b, pool := newTestBook(t)

	r1 := borrow(t, pool, 1, common.Sell, 10100, 10)
	b.AddOrder(r1)

	stale, ok := b.FirstLevel(common.Sell)
	require.True(t, ok)

	// Matcher empties and tombstones the level but has not yet dropped the
	// map entry.
	stale.Lock()
	stale.Remove(r1)
	b.Unindex(r1.OrderID)
	stale.SetRemoved()
	stale.Unlock()
	pool.Return(r1)

	// An insert at the same price must land in a fresh instance.
	r2 := borrow(t, pool, 2, common.Sell, 10100, 20)
	b.AddOrder(r2)

	fresh, ok := b.FirstLevel(common.Sell)
	require.True(t, ok)
	assert.NotSame(t, stale, fresh)
	assert.False(t, fresh.IsRemoved())
	assert.Equal(t, uint64(20), fresh.TotalQuantity())

	// The late conditional drop must not remove the fresh level.
	b.DropLevel(common.Sell, 10100, stale)
	assert.Equal(t, 1, b.LevelCount(common.Sell))
	assert.True(t, b.Contains(2))
}

func TestBookDropLevelIsConditional(t *testing.T) {
	b, pool := newTestBook(t)

	r := borrow(t, pool, 1, common.Sell, 10100, 10)
	b.AddOrder(r)
	level, ok := b.FirstLevel(common.Sell)
	require.True(t, ok)

	// Dropping with a different instance is a no-op.
	b.DropLevel(common.Sell, 10100, NewOrderLevel(10100, common.Sell))
	assert.Equal(t, 1, b.LevelCount(common.Sell))

	// Dropping the observed instance removes the entry.
	level.Lock()
	level.Remove(r)
	b.Unindex(r.OrderID)
	level.SetRemoved()
	level.Unlock()
	b.DropLevel(common.Sell, 10100, level)
	assert.Zero(t, b.LevelCount(common.Sell))
	pool.Return(r)
}
