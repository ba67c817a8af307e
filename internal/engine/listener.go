package engine

import "fulcrum/internal/common"

// Listener receives market-data events synchronously from the thread that
// produced them, after that thread has released every book lock.
// Implementations must be non-blocking and must not call back into the
// engine.
type Listener interface {
	OnTrade(t common.Trade)
	OnQuote(q common.Quote)
	OnDepth(u common.DepthUpdate)
}
