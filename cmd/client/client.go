package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fulcrum/internal/common"
	fulcrumNet "fulcrum/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the matching engine")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'storm']")

	// Order parameters.
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.String("price", "100.00", "Limit price in decimal dollars")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	orderID := flag.Uint64("id", 0, "Order id (0 lets the engine assign one on place)")

	// Storm parameters.
	count := flag.Int("count", 1000, "Number of random orders to fire in storm mode")
	mid := flag.Int64("mid", 10000, "Storm midpoint as a scaled price (10000 = $100.00)")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Executions stream back asynchronously.
	go readExecutions(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	scaledPrice, err := parsePrice(*price)
	if err != nil {
		log.Fatalf("Invalid price %q: %v", *price, err)
	}

	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			send(conn, fulcrumNet.Message{
				Type:     fulcrumNet.MsgAdd,
				Side:     side,
				OrderID:  *orderID,
				Price:    scaledPrice,
				Quantity: q,
			})
		}
	case "cancel":
		send(conn, fulcrumNet.Message{Type: fulcrumNet.MsgCancel, OrderID: *orderID})
	case "modify":
		quantities := parseQuantities(*qtyStr)
		send(conn, fulcrumNet.Message{
			Type:     fulcrumNet.MsgModify,
			Side:     side,
			OrderID:  *orderID,
			Price:    scaledPrice,
			Quantity: quantities[0],
		})
	case "storm":
		storm(conn, *count, *mid)
	default:
		fmt.Printf("Unknown action %q\n", *action)
		flag.Usage()
		os.Exit(1)
	}

	// Give late execution reports a moment to arrive.
	time.Sleep(500 * time.Millisecond)
}

// storm fires count random orders around mid, both sides, to exercise the
// matching path under load.
func storm(conn net.Conn, count int, mid int64) {
	start := time.Now()
	for i := 0; i < count; i++ {
		side := common.Buy
		if rand.Intn(2) == 1 {
			side = common.Sell
		}
		// Spread orders across +-50 ticks of the midpoint.
		price := mid + int64(rand.Intn(101)-50)
		send(conn, fulcrumNet.Message{
			Type:     fulcrumNet.MsgAdd,
			Side:     side,
			Price:    price,
			Quantity: uint64(rand.Intn(100) + 1),
		})
	}
	elapsed := time.Since(start)
	fmt.Printf("Sent %d orders in %v (%.0f orders/sec)\n",
		count, elapsed, float64(count)/elapsed.Seconds())
}

func send(conn net.Conn, m fulcrumNet.Message) {
	if _, err := conn.Write(m.Encode()); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}
}

// readExecutions prints incoming 'E' frames until the connection closes.
func readExecutions(conn net.Conn) {
	frame := make([]byte, fulcrumNet.MessageSize)
	for {
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		m, err := fulcrumNet.ParseMessage(frame)
		if err != nil || m.Type != fulcrumNet.MsgExecute {
			continue
		}
		fmt.Printf("EXEC order=%d side=%s price=%s qty=%d\n",
			m.OrderID, m.Side, common.PriceToDecimal(m.Price), m.Quantity)
	}
}

// parsePrice converts a decimal dollar string into a scaled price.
func parsePrice(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * common.PriceScale)), nil
}

func parseQuantities(s string) []uint64 {
	parts := strings.Split(s, ",")
	quantities := make([]uint64, 0, len(parts))
	for _, part := range parts {
		q, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || q == 0 {
			log.Fatalf("Invalid quantity %q", part)
		}
		quantities = append(quantities, q)
	}
	if len(quantities) == 0 {
		log.Fatal("No quantities supplied")
	}
	return quantities
}
