package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fulcrum/internal/book"
	"fulcrum/internal/common"
	"fulcrum/internal/metrics"

	"github.com/rs/zerolog/log"
)

// MatchingEngine implements price-time priority matching over an OrderBook.
// All public operations are safe to call from any number of goroutines.
//
// Lock discipline, outermost first: side structural lock, level lock, then
// the pool and index locks as leaves. The engine ascends at most one level
// lock at a time and never calls a listener while holding any of them.
type MatchingEngine struct {
	book    *book.OrderBook
	pool    *book.OrderPool
	metrics *metrics.Metrics

	listeners []Listener

	quoteMu   sync.Mutex
	lastQuote common.Quote

	nextID atomic.Uint64
}

func New(b *book.OrderBook, m *metrics.Metrics) *MatchingEngine {
	return &MatchingEngine{
		book:    b,
		pool:    b.Pool(),
		metrics: m,
	}
}

// AddListener registers a market-data listener. Not safe to call once
// orders are flowing; wire listeners at bootstrap.
func (e *MatchingEngine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// NextOrderID hands out a process-unique order id for callers that did not
// choose their own.
func (e *MatchingEngine) NextOrderID() uint64 {
	return e.nextID.Add(1)
}

// Book exposes the underlying book for read-only surfaces.
func (e *MatchingEngine) Book() *book.OrderBook {
	return e.book
}

// ProcessOrder borrows a record for the incoming order, matches it against
// the opposite side and rests any residue. It returns every trade this
// call produced, in the (price, time) priority order of the resting orders
// consumed.
func (e *MatchingEngine) ProcessOrder(orderID uint64, side common.Side, price int64, quantity uint64) ([]common.Trade, error) {
	start := time.Now()

	if quantity == 0 {
		return nil, common.ErrInvalidQuantity
	}
	if e.book.Contains(orderID) {
		return nil, fmt.Errorf("%w: %d", common.ErrDuplicateOrder, orderID)
	}

	r, err := e.pool.Borrow()
	if err != nil {
		log.Warn().Uint64("orderID", orderID).Msg("order rejected, pool exhausted")
		return nil, err
	}
	r.OrderID = orderID
	r.Side = side
	r.Price = price
	r.Quantity = quantity

	trades, depth := e.match(r)

	if r.Quantity > 0 {
		residue := r.Quantity
		e.book.AddOrder(r)
		depth = append(depth, common.DepthUpdate{Side: side, Price: price, Delta: int64(residue)})
	} else {
		e.pool.Return(r)
	}

	e.metrics.RecordOrder(side)
	e.metrics.RecordTrades(trades)
	e.metrics.ObserveMatchLatency(time.Since(start))
	e.publish(trades, depth)
	return trades, nil
}

// match consumes crossing levels on the opposite side, best price first,
// head of queue first. Fully-filled resting records go back to the pool
// inside the level lock; the pool lock is a leaf so this cannot deadlock.
func (e *MatchingEngine) match(r *book.OrderRecord) ([]common.Trade, []common.DepthUpdate) {
	var trades []common.Trade
	var depth []common.DepthUpdate
	opp := r.Side.Opposite()

	for r.Quantity > 0 {
		level, ok := e.book.FirstLevel(opp)
		if !ok {
			break
		}

		level.Lock()
		if level.IsRemoved() || level.IsEmpty() {
			// A stale entry another thread emptied but has not dropped yet.
			// Help reclaim it and look again.
			if !level.IsRemoved() {
				level.SetRemoved()
			}
			price := level.Price()
			level.Unlock()
			e.book.DropLevel(opp, price, level)
			continue
		}
		if !crosses(r.Side, r.Price, level.Price()) {
			level.Unlock()
			break
		}

		var consumed uint64
		for r.Quantity > 0 && !level.IsEmpty() {
			cp := level.Peek()
			if cp.Quantity == 0 {
				panic(fmt.Sprintf("matching engine: resting order %d with zero quantity", cp.OrderID))
			}
			fill := min(r.Quantity, cp.Quantity)
			trades = append(trades, newTrade(r, cp, fill))
			r.Quantity -= fill
			cp.Quantity -= fill
			consumed += fill
			if cp.Quantity == 0 {
				level.PollFirst()
				e.book.Unindex(cp.OrderID)
				e.pool.Return(cp)
			}
		}

		emptied := false
		if level.IsEmpty() {
			level.SetRemoved()
			emptied = true
		}
		price := level.Price()
		level.Unlock()

		depth = append(depth, common.DepthUpdate{Side: opp, Price: price, Delta: -int64(consumed)})
		if emptied {
			e.book.DropLevel(opp, price, level)
		}
	}
	return trades, depth
}

// CancelOrder removes a resting order and returns its slot to the pool.
// False means the id was not resting: unknown, already filled, or lost the
// race against a concurrent match.
func (e *MatchingEngine) CancelOrder(orderID uint64) bool {
	r, ok := e.book.FindOrder(orderID)
	if !ok {
		e.metrics.RecordCancel(false)
		return false
	}
	if !e.book.RemoveOrder(r) {
		e.metrics.RecordCancel(false)
		return false
	}

	// The record is exclusively ours between removal and return.
	remaining := r.Quantity
	price, side := r.Price, r.Side
	e.pool.Return(r)

	e.metrics.RecordCancel(true)
	e.publish(nil, []common.DepthUpdate{{Side: side, Price: price, Delta: -int64(remaining)}})
	return true
}

// ModifyOrder is cancel followed by resubmission under the same id with a
// fresh timestamp; time priority is lost even when price and quantity are
// unchanged. An unknown id yields no trades and inserts nothing. The two
// halves are not atomic with respect to interleaved orders.
func (e *MatchingEngine) ModifyOrder(orderID uint64, side common.Side, price int64, quantity uint64) ([]common.Trade, error) {
	if !e.CancelOrder(orderID) {
		return nil, nil
	}
	return e.ProcessOrder(orderID, side, price, quantity)
}

// publish pushes trades and depth deltas to every listener and emits an L1
// update when the top of book moved. Called with no locks held.
func (e *MatchingEngine) publish(trades []common.Trade, depth []common.DepthUpdate) {
	if len(e.listeners) == 0 {
		return
	}

	for _, l := range e.listeners {
		for _, t := range trades {
			l.OnTrade(t)
		}
		for _, u := range depth {
			l.OnDepth(u)
		}
	}

	quote := e.book.Quote()
	e.quoteMu.Lock()
	changed := quote != e.lastQuote
	if changed {
		e.lastQuote = quote
	}
	e.quoteMu.Unlock()
	if changed {
		for _, l := range e.listeners {
			l.OnQuote(quote)
		}
	}
}

func newTrade(aggressor, resting *book.OrderRecord, fill uint64) common.Trade {
	t := common.Trade{
		// Execution happens at the resting order's price.
		Price:     resting.Price,
		Quantity:  fill,
		Timestamp: time.Now(),
	}
	if aggressor.Side == common.Buy {
		t.BuyOrderID = aggressor.OrderID
		t.SellOrderID = resting.OrderID
	} else {
		t.BuyOrderID = resting.OrderID
		t.SellOrderID = aggressor.OrderID
	}
	return t
}

// crosses reports whether an incoming order at price can trade against the
// opposite side's best.
func crosses(side common.Side, price, best int64) bool {
	if side == common.Buy {
		return price >= best
	}
	return price <= best
}
