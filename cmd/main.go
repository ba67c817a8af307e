package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fulcrum/internal/api"
	"fulcrum/internal/book"
	"fulcrum/internal/common"
	"fulcrum/internal/engine"
	"fulcrum/internal/marketdata"
	"fulcrum/internal/metrics"
	fulcrumNet "fulcrum/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	tomb "gopkg.in/tomb.v2"
)

var flags struct {
	tcpHost      string
	tcpPort      int
	httpAddr     string
	poolCapacity int
	tradeRing    int
	seedLevels   int
	prettyLogs   bool
}

var rootCmd = &cobra.Command{
	Use:   "fulcrum",
	Short: "In-memory central limit order book matching engine",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flags.tcpHost, "tcp-host", "0.0.0.0", "order entry TCP listen host")
	rootCmd.Flags().IntVar(&flags.tcpPort, "tcp-port", 9001, "order entry TCP listen port")
	rootCmd.Flags().StringVar(&flags.httpAddr, "http-addr", ":8080", "REST/market data listen address")
	rootCmd.Flags().IntVar(&flags.poolCapacity, "pool-capacity", book.DefaultPoolCapacity, "preallocated order slots")
	rootCmd.Flags().IntVar(&flags.tradeRing, "trade-ring", marketdata.DefaultTradeRingSize, "recent trades retained")
	rootCmd.Flags().IntVar(&flags.seedLevels, "seed", 0, "seed this many resting levels per side at boot")
	rootCmd.Flags().BoolVar(&flags.prettyLogs, "pretty-logs", false, "human readable log output")
}

func run(cmd *cobra.Command, _ []string) error {
	if flags.prettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	pool := book.NewOrderPool(flags.poolCapacity)
	orderBook := book.NewOrderBook(pool)

	m := metrics.New()
	m.RegisterBookGauges(
		func() float64 { return float64(pool.Available()) },
		func() float64 { return float64(pool.Capacity()) },
		func() float64 { return float64(orderBook.ActiveOrders()) },
		func() float64 { return float64(orderBook.LevelCount(common.Buy)) },
		func() float64 { return float64(orderBook.LevelCount(common.Sell)) },
	)

	eng := engine.New(orderBook, m)
	publisher := marketdata.NewPublisher(flags.tradeRing)
	eng.AddListener(publisher)

	if flags.seedLevels > 0 {
		seedBook(eng, flags.seedLevels)
	}

	tcpServer := fulcrumNet.NewServer(flags.tcpHost, flags.tcpPort, eng)
	apiServer := api.NewServer(eng, publisher, m)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return tcpServer.Run(ctx) })
	t.Go(func() error { return apiServer.Run(ctx, flags.httpAddr) })

	<-ctx.Done()
	return t.Wait()
}

// seedBook rests a ladder of bids below and asks above a reference price
// so the book is quotable from boot.
func seedBook(eng *engine.MatchingEngine, levels int) {
	const (
		mid  = 100_00 // $100.00
		tick = 10     // ten cents between levels
		qty  = 100
	)
	for i := 1; i <= levels; i++ {
		step := int64(i * tick)
		if _, err := eng.ProcessOrder(eng.NextOrderID(), common.Buy, mid-step, qty); err != nil {
			log.Error().Err(err).Msg("unable to seed bid")
		}
		if _, err := eng.ProcessOrder(eng.NextOrderID(), common.Sell, mid+step, qty); err != nil {
			log.Error().Err(err).Msg("unable to seed ask")
		}
	}
	log.Info().Int("levels", levels).Msg("seeded order book")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("fulcrum exited")
	}
}
