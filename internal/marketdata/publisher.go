package marketdata

import (
	"sync"
	"time"

	"fulcrum/internal/common"

	"github.com/huandu/skiplist"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// subscriberBuffer is the per-subscriber event backlog. A subscriber that
// falls further behind loses events rather than stalling the engine.
const subscriberBuffer = 256

// priceKeyAsc orders ask depth lowest price first.
type priceKeyAsc struct{}

func (priceKeyAsc) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(int64), rhs.(int64)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func (priceKeyAsc) CalcScore(key interface{}) float64 {
	return float64(key.(int64))
}

// priceKeyDesc orders bid depth highest price first.
type priceKeyDesc struct{}

func (priceKeyDesc) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(int64), rhs.(int64)
	switch {
	case l > r:
		return -1
	case l < r:
		return 1
	}
	return 0
}

func (priceKeyDesc) CalcScore(key interface{}) float64 {
	return -float64(key.(int64))
}

// DepthEntry is one aggregated L2 level.
type DepthEntry struct {
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
}

// TradeView is the wire form of a trade event.
type TradeView struct {
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    uint64          `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// QuoteView is the wire form of an L1 event. Nil prices mean the side is
// empty.
type QuoteView struct {
	BestBid *decimal.Decimal `json:"best_bid"`
	BestAsk *decimal.Decimal `json:"best_ask"`
	Spread  *decimal.Decimal `json:"spread"`
}

// DepthView is the wire form of a single-level L2 change: the new absolute
// aggregate at that price, zero when the level is gone.
type DepthView struct {
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
}

// Event is one frame on the market-data stream.
type Event struct {
	Type  string     `json:"type"` // trade | quote | depth
	Trade *TradeView `json:"trade,omitempty"`
	Quote *QuoteView `json:"quote,omitempty"`
	Depth *DepthView `json:"depth,omitempty"`
}

// Publisher observes the engine and maintains the externally visible
// market data: the recent-trade ring, the last L1 quote, and aggregated
// L2 depth per side in skip lists keyed by price. Every hook is quick and
// never blocks: slow websocket subscribers drop events.
//
// Depth deltas from concurrent engine operations may arrive out of order,
// so per-price totals are accumulated as signed values; a level is only
// shown while its running total is positive.
type Publisher struct {
	mu       sync.Mutex
	bidDepth *skiplist.SkipList // int64 price -> int64 aggregate quantity
	askDepth *skiplist.SkipList
	quote    common.Quote

	trades *TradeRing

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

func NewPublisher(tradeRingSize int) *Publisher {
	return &Publisher{
		bidDepth: skiplist.New(priceKeyDesc{}),
		askDepth: skiplist.New(priceKeyAsc{}),
		trades:   NewTradeRing(tradeRingSize),
		subs:     make(map[chan Event]struct{}),
	}
}

func (p *Publisher) OnTrade(t common.Trade) {
	p.trades.Push(t)
	p.fanout(Event{Type: "trade", Trade: &TradeView{
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       common.PriceToDecimal(t.Price),
		Quantity:    t.Quantity,
		Timestamp:   t.Timestamp,
	}})
}

func (p *Publisher) OnQuote(q common.Quote) {
	p.mu.Lock()
	p.quote = q
	p.mu.Unlock()
	p.fanout(Event{Type: "quote", Quote: quoteView(q)})
}

func (p *Publisher) OnDepth(u common.DepthUpdate) {
	list := p.askDepth
	if u.Side == common.Buy {
		list = p.bidDepth
	}

	p.mu.Lock()
	total := u.Delta
	if cur, ok := list.GetValue(u.Price); ok {
		total += cur.(int64)
	}
	if total == 0 {
		list.Remove(u.Price)
	} else {
		list.Set(u.Price, total)
	}
	p.mu.Unlock()

	shown := total
	if shown < 0 {
		shown = 0
	}
	p.fanout(Event{Type: "depth", Depth: &DepthView{
		Side:     u.Side.String(),
		Price:    common.PriceToDecimal(u.Price),
		Quantity: uint64(shown),
	}})
}

// Depth returns up to max aggregated levels for a side in priority order.
// max <= 0 means all levels.
func (p *Publisher) Depth(side common.Side, max int) []DepthEntry {
	list := p.askDepth
	if side == common.Buy {
		list = p.bidDepth
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []DepthEntry
	for elem := list.Front(); elem != nil; elem = elem.Next() {
		if max > 0 && len(out) >= max {
			break
		}
		qty := elem.Value.(int64)
		if qty <= 0 {
			continue
		}
		out = append(out, DepthEntry{
			Price:    common.PriceToDecimal(elem.Key().(int64)),
			Quantity: uint64(qty),
		})
	}
	return out
}

// LastQuote returns the most recently published L1 view.
func (p *Publisher) LastQuote() common.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quote
}

// RecentTrades returns up to n retained trades, newest last.
func (p *Publisher) RecentTrades(n int) []common.Trade {
	return p.trades.Recent(n)
}

// TradeCount reports how many trades the ring currently retains.
func (p *Publisher) TradeCount() int {
	return p.trades.Len()
}

// Subscribe registers a stream consumer. The returned cancel func must be
// called exactly once; after it returns the channel is closed.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		p.subMu.Unlock()
	}
	return ch, cancel
}

func (p *Publisher) fanout(ev Event) {
	p.subMu.Lock()
	for ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; losing a frame beats blocking the
			// matching thread.
			log.Debug().Str("type", ev.Type).Msg("dropping market data frame for slow subscriber")
		}
	}
	p.subMu.Unlock()
}

func quoteView(q common.Quote) *QuoteView {
	var v QuoteView
	if q.HasBid {
		d := common.PriceToDecimal(q.BestBid)
		v.BestBid = &d
	}
	if q.HasAsk {
		d := common.PriceToDecimal(q.BestAsk)
		v.BestAsk = &d
	}
	if spread, ok := q.Spread(); ok {
		d := common.PriceToDecimal(spread)
		v.Spread = &d
	}
	return &v
}
