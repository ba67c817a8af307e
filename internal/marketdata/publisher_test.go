package marketdata

import (
	"testing"
	"time"

	"fulcrum/internal/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(buy, sell uint64, price int64, qty uint64) common.Trade {
	return common.Trade{
		BuyOrderID:  buy,
		SellOrderID: sell,
		Price:       price,
		Quantity:    qty,
		Timestamp:   time.Now(),
	}
}

func TestTradeRingWraps(t *testing.T) {
	r := NewTradeRing(4)
	for i := uint64(1); i <= 6; i++ {
		r.Push(trade(i, 100+i, 10000, i))
	}

	assert.Equal(t, 4, r.Len())
	recent := r.Recent(10)
	require.Len(t, recent, 4)
	// Oldest first, newest last.
	assert.Equal(t, uint64(3), recent[0].BuyOrderID)
	assert.Equal(t, uint64(6), recent[3].BuyOrderID)
}

func TestTradeRingRecentLimit(t *testing.T) {
	r := NewTradeRing(8)
	for i := uint64(1); i <= 5; i++ {
		r.Push(trade(i, 10+i, 10000, i))
	}

	recent := r.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].BuyOrderID)
	assert.Equal(t, uint64(5), recent[1].BuyOrderID)
}

func TestTradeRingRoundsUpToPowerOfTwo(t *testing.T) {
	r := NewTradeRing(5)
	for i := uint64(1); i <= 8; i++ {
		r.Push(trade(i, 0, 10000, 1))
	}
	assert.Equal(t, 8, r.Len())
}

func TestPublisherDepthAggregation(t *testing.T) {
	p := NewPublisher(16)

	p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10100, Delta: 100})
	p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10100, Delta: 50})
	p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10300, Delta: 30})
	p.OnDepth(common.DepthUpdate{Side: common.Buy, Price: 10000, Delta: 25})
	p.OnDepth(common.DepthUpdate{Side: common.Buy, Price: 9900, Delta: 10})

	asks := p.Depth(common.Sell, 0)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(decimal.RequireFromString("101")))
	assert.Equal(t, uint64(150), asks[0].Quantity)
	assert.Equal(t, uint64(30), asks[1].Quantity)

	// Bids come back highest price first.
	bids := p.Depth(common.Buy, 0)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, bids[1].Price.Equal(decimal.RequireFromString("99")))
}

func TestPublisherDepthLevelDisappearsAtZero(t *testing.T) {
	p := NewPublisher(16)

	p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10100, Delta: 100})
	p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10100, Delta: -100})
	assert.Empty(t, p.Depth(common.Sell, 0))
}

func TestPublisherDepthToleratesReordering(t *testing.T) {
	p := NewPublisher(16)

	// The consume delta from one thread can land before the add delta from
	// another. The level must not surface while its total is negative.
	p.OnDepth(common.DepthUpdate{Side: common.Buy, Price: 10000, Delta: -100})
	assert.Empty(t, p.Depth(common.Buy, 0))

	p.OnDepth(common.DepthUpdate{Side: common.Buy, Price: 10000, Delta: 100})
	assert.Empty(t, p.Depth(common.Buy, 0))
}

func TestPublisherDepthLimit(t *testing.T) {
	p := NewPublisher(16)
	for i := int64(0); i < 5; i++ {
		p.OnDepth(common.DepthUpdate{Side: common.Sell, Price: 10100 + i, Delta: 10})
	}
	assert.Len(t, p.Depth(common.Sell, 3), 3)
}

func TestPublisherRecentTrades(t *testing.T) {
	p := NewPublisher(16)
	p.OnTrade(trade(2, 1, 10500, 50))
	p.OnTrade(trade(4, 3, 10400, 25))

	trades := p.RecentTrades(10)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(2), trades[0].BuyOrderID)
	assert.Equal(t, uint64(4), trades[1].BuyOrderID)
	assert.Equal(t, 2, p.TradeCount())
}

func TestPublisherQuote(t *testing.T) {
	p := NewPublisher(16)
	q := common.Quote{BestBid: 10000, BestAsk: 10100, HasBid: true, HasAsk: true}
	p.OnQuote(q)
	assert.Equal(t, q, p.LastQuote())
}

func TestPublisherSubscribe(t *testing.T) {
	p := NewPublisher(16)
	events, cancel := p.Subscribe()

	p.OnTrade(trade(2, 1, 10500, 50))
	p.OnQuote(common.Quote{BestBid: 10000, HasBid: true})
	p.OnDepth(common.DepthUpdate{Side: common.Buy, Price: 10000, Delta: 10})

	ev := <-events
	require.Equal(t, "trade", ev.Type)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, uint64(2), ev.Trade.BuyOrderID)
	assert.True(t, ev.Trade.Price.Equal(decimal.RequireFromString("105")))

	ev = <-events
	require.Equal(t, "quote", ev.Type)
	require.NotNil(t, ev.Quote)
	require.NotNil(t, ev.Quote.BestBid)
	assert.Nil(t, ev.Quote.BestAsk)

	ev = <-events
	require.Equal(t, "depth", ev.Type)
	require.NotNil(t, ev.Depth)
	assert.Equal(t, uint64(10), ev.Depth.Quantity)

	cancel()
	_, open := <-events
	assert.False(t, open, "cancel closes the stream")
}

func TestPublisherUnsubscribedSeesNothing(t *testing.T) {
	p := NewPublisher(16)
	events, cancel := p.Subscribe()
	cancel()

	p.OnTrade(trade(2, 1, 10500, 50))
	_, open := <-events
	assert.False(t, open)
}
