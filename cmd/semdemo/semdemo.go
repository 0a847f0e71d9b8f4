package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"github.com/blackhawk42/permits/pkg/exchange"
)

type CLI struct {
	Producers   int           `default:"4" short:"p" help:"Number of producers putting items in the queue."`
	Consumers   int           `default:"4" short:"c" help:"Number of consumers taking items from the queue."`
	Items       int           `default:"1000" short:"n" help:"Total number of items to exchange."`
	Capacity    int           `default:"16" short:"q" help:"Capacity of the queue between producers and consumers."`
	Workers     int           `default:"${DEFAULT_WORKERS}" short:"w" help:"Maximum number of consumers verifying items at once. Defaults to the number of detected CPUs."`
	PayloadSize int           `default:"${DEFAULT_PAYLOAD_SIZE}" short:"s" help:"Size in bytes of each item's payload."`
	Fair        bool          `default:"false" short:"f" help:"Use fair semaphores, granting permits in arrival order."`
	Timeout     time.Duration `default:"1m" short:"t" help:"Give up if the exchange takes longer than this."`
	Verbose     bool          `default:"false" short:"v" help:"Log every step of every producer and consumer."`
}

func main() {
	cli := CLI{}
	kongCtx := kong.Parse(
		&cli,
		kong.Description("A demonstration of producers and consumers coordinated by counting semaphores"),
		kong.Vars{
			"DEFAULT_WORKERS":      fmt.Sprint(runtime.NumCPU()),
			"DEFAULT_PAYLOAD_SIZE": fmt.Sprint(4096),
		},
	)

	log := newLogger(cli.Verbose)

	ex, err := exchange.New(exchange.Config{
		Producers:   cli.Producers,
		Consumers:   cli.Consumers,
		Items:       cli.Items,
		Capacity:    cli.Capacity,
		Workers:     cli.Workers,
		PayloadSize: cli.PayloadSize,
		Fair:        cli.Fair,
	}, log)
	kongCtx.FatalIfErrorf(err)

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	policy := "non-fair"
	if cli.Fair {
		policy = "fair"
	}
	log.Infof("exchanging %d items: %d producers, %d consumers, queue of %d, %d workers, %s",
		cli.Items, cli.Producers, cli.Consumers, cli.Capacity, cli.Workers, policy)

	start := time.Now()
	report, err := ex.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		kongCtx.Errorf("error: %v", err)
	}

	fmt.Printf("produced:     %d\n", report.Produced)
	fmt.Printf("consumed:     %d\n", report.Consumed)
	fmt.Printf("duplicates:   %d\n", report.Duplicates)
	fmt.Printf("corrupted:    %d\n", report.Corrupted)
	if len(report.Rejected) > 0 {
		fmt.Printf("rejected ids: %v\n", report.Rejected)
	}
	fmt.Printf("missing:      %d\n", len(report.Missing))
	fmt.Printf("peak workers: %d/%d\n", report.PeakWorkers, report.Workers)
	fmt.Printf("elapsed:      %v\n", elapsed)

	if err == nil && !report.OK() {
		err = errors.New("exchange lost, duplicated or corrupted items")
	}
	kongCtx.FatalIfErrorf(err)
}
