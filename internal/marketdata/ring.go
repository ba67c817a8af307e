package marketdata

import (
	"sync"

	"fulcrum/internal/common"
)

// DefaultTradeRingSize bounds the recent-trade history when no explicit
// size is configured.
const DefaultTradeRingSize = 1 << 12

// TradeRing is a bounded ring of executed trades. The newest trade
// overwrites the oldest once the ring is full. Multi-producer safe.
type TradeRing struct {
	mu   sync.Mutex
	buf  []common.Trade
	mask uint64
	pos  uint64 // next write position; monotonically increasing
}

func NewTradeRing(size int) *TradeRing {
	if size <= 0 {
		size = DefaultTradeRingSize
	}
	// Round up to a power of two for mask-based wrapping.
	n := 1
	for n < size {
		n <<= 1
	}
	return &TradeRing{
		buf:  make([]common.Trade, n),
		mask: uint64(n - 1),
	}
}

func (r *TradeRing) Push(t common.Trade) {
	r.mu.Lock()
	r.buf[r.pos&r.mask] = t
	r.pos++
	r.mu.Unlock()
}

// Len reports how many trades are currently retained.
func (r *TradeRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos > uint64(len(r.buf)) {
		return len(r.buf)
	}
	return int(r.pos)
}

// Recent returns up to n retained trades, oldest first, newest last.
func (r *TradeRing) Recent(n int) []common.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.pos
	if count > uint64(len(r.buf)) {
		count = uint64(len(r.buf))
	}
	if n >= 0 && uint64(n) < count {
		count = uint64(n)
	}
	out := make([]common.Trade, 0, count)
	for i := r.pos - count; i < r.pos; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}
