package common

import (
	"fmt"
	"time"
)

// Trade records a single execution between two resting/aggressing orders.
// Trades are immutable once emitted.
type Trade struct {
	BuyOrderID  uint64    `json:"buy_order_id"`
	SellOrderID uint64    `json:"sell_order_id"`
	Price       int64     `json:"price"`
	Quantity    uint64    `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

func (t Trade) String() string {
	return fmt.Sprintf("trade buy=%d sell=%d price=%s qty=%d",
		t.BuyOrderID, t.SellOrderID, PriceToDecimal(t.Price), t.Quantity)
}

// Quote is a top-of-book (L1) snapshot. HasBid/HasAsk distinguish an
// empty side from a zero price.
type Quote struct {
	BestBid int64
	BestAsk int64
	HasBid  bool
	HasAsk  bool
}

// Spread returns ask minus bid when both sides are quoted.
func (q Quote) Spread() (int64, bool) {
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return q.BestAsk - q.BestBid, true
}

// DepthUpdate is an incremental L2 change: Delta is the signed quantity
// change at Price on Side. Consumers accumulate deltas; a level whose
// running total reaches zero is gone.
type DepthUpdate struct {
	Side  Side
	Price int64
	Delta int64
}
