package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulcrum/internal/book"
	"fulcrum/internal/common"
	"fulcrum/internal/engine"
	"fulcrum/internal/marketdata"
	"fulcrum/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const defaultTradeLimit = 100

// Server is the REST/JSON boundary: a thin request translator over the
// engine contract plus read-only book, trade and stats views.
type Server struct {
	engine   *engine.MatchingEngine
	md       *marketdata.Publisher
	metrics  *metrics.Metrics
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(eng *engine.MatchingEngine, md *marketdata.Publisher, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  eng,
		md:      md,
		metrics: m,
		router:  gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	api.GET("/quote", s.handleQuote)
	api.GET("/book", s.handleBook)
	api.POST("/orders", s.handlePlaceOrder)
	api.DELETE("/orders/:id", s.handleCancelOrder)
	api.GET("/trades", s.handleTrades)
	api.GET("/stats", s.handleStats)

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/ws", s.handleStream)
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("address", addr).Msg("api server running")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type quoteResponse struct {
	BestBid *decimal.Decimal `json:"best_bid"`
	BestAsk *decimal.Decimal `json:"best_ask"`
	Spread  *decimal.Decimal `json:"spread"`
}

func (s *Server) handleQuote(c *gin.Context) {
	q := s.engine.Book().Quote()
	var resp quoteResponse
	if q.HasBid {
		d := common.PriceToDecimal(q.BestBid)
		resp.BestBid = &d
	}
	if q.HasAsk {
		d := common.PriceToDecimal(q.BestAsk)
		resp.BestAsk = &d
	}
	if spread, ok := q.Spread(); ok {
		d := common.PriceToDecimal(spread)
		resp.Spread = &d
	}
	c.JSON(http.StatusOK, resp)
}

type bookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
	Orders   int             `json:"orders"`
}

func (s *Server) handleBook(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bids": bookLevels(s.engine.Book().Levels(common.Buy)),
		"asks": bookLevels(s.engine.Book().Levels(common.Sell)),
	})
}

func bookLevels(levels []book.LevelSummary) []bookLevel {
	out := make([]bookLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, bookLevel{
			Price:    common.PriceToDecimal(l.Price),
			Quantity: l.Quantity,
			Orders:   l.Orders,
		})
	}
	return out
}

type orderRequest struct {
	Side     string          `json:"side" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Quantity uint64          `json:"quantity" binding:"required"`
	OrderID  *uint64         `json:"order_id"`
}

type orderResponse struct {
	OrderID           uint64 `json:"order_id"`
	Status            string `json:"status"`
	TradesCount       int    `json:"trades_count"`
	RemainingQuantity uint64 `json:"remaining_quantity"`
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	side, err := common.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := common.DecimalToPrice(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := s.engine.NextOrderID()
	if req.OrderID != nil {
		orderID = *req.OrderID
	}

	trades, err := s.engine.ProcessOrder(orderID, side, price, req.Quantity)
	switch {
	case errors.Is(err, common.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, book.ErrPoolExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	remaining := req.Quantity
	for _, t := range trades {
		remaining -= t.Quantity
	}
	status := "ACCEPTED"
	if len(trades) > 0 {
		status = "MATCHED"
	}
	c.JSON(http.StatusOK, orderResponse{
		OrderID:           orderID,
		Status:            status,
		TradesCount:       len(trades),
		RemainingQuantity: remaining,
	})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if !s.engine.CancelOrder(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "CANCELLED"})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	trades := s.md.RecentTrades(limit)
	out := make([]marketdata.TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, marketdata.TradeView{
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Price:       common.PriceToDecimal(t.Price),
			Quantity:    t.Quantity,
			Timestamp:   t.Timestamp,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	b := s.engine.Book()
	pool := b.Pool()
	capacity := pool.Capacity()
	available := pool.Available()
	utilization := 0.0
	if capacity > 0 {
		utilization = float64(capacity-available) / float64(capacity)
	}
	c.JSON(http.StatusOK, gin.H{
		"pool": gin.H{
			"capacity":    capacity,
			"available":   available,
			"utilization": utilization,
		},
		"active_orders":   b.ActiveOrders(),
		"bid_levels":      b.LevelCount(common.Buy),
		"ask_levels":      b.LevelCount(common.Sell),
		"trades_retained": s.md.TradeCount(),
	})
}

// handleStream upgrades to a websocket and relays market-data events until
// the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.md.Subscribe()
	defer cancel()

	// Drain client frames so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
