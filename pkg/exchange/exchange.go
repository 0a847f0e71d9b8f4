package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/blackhawk42/permits/pkg/boundedqueue"
	"github.com/blackhawk42/permits/pkg/itemprint"
	"github.com/blackhawk42/permits/pkg/semaphore"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig is returned by New for configurations that can't run.
var ErrInvalidConfig = errors.New("exchange: invalid config")

// Config describes a producer/consumer run.
type Config struct {
	Producers   int  // goroutines generating items
	Consumers   int  // goroutines taking items off the queue
	Items       int  // total items to exchange
	Capacity    int  // capacity of the queue between producers and consumers
	Workers     int  // maximum consumers verifying an item at the same time
	PayloadSize int  // bytes of payload per item
	Fair        bool // fairness policy of every semaphore involved
}

func (c Config) validate() error {
	switch {
	case c.Producers < 1:
		return fmt.Errorf("%w: need at least one producer", ErrInvalidConfig)
	case c.Consumers < 1:
		return fmt.Errorf("%w: need at least one consumer", ErrInvalidConfig)
	case c.Items < 0:
		return fmt.Errorf("%w: negative items (%d)", ErrInvalidConfig, c.Items)
	case c.Workers < 1:
		return fmt.Errorf("%w: need at least one worker", ErrInvalidConfig)
	case c.PayloadSize < 0:
		return fmt.Errorf("%w: negative payload size (%d)", ErrInvalidConfig, c.PayloadSize)
	}

	return nil
}

// Report summarizes a finished run.
type Report struct {
	Produced    int
	Consumed    int
	Duplicates  int
	Corrupted   int
	Rejected    []int // ids of the items that failed verification, in order
	Missing     []int // ids never consumed, in order
	PeakWorkers int   // highest number of consumers verifying at once
	Workers     int   // configured limit for PeakWorkers
}

// OK reports whether every item was consumed exactly once, intact, without
// exceeding the worker limit.
func (r Report) OK() bool {
	return r.Produced == r.Consumed &&
		r.Duplicates == 0 &&
		r.Corrupted == 0 &&
		len(r.Missing) == 0 &&
		r.PeakWorkers <= r.Workers
}

// Exchange moves items from producers to consumers through a bounded queue.
//
// Producers generate sealed items and put them in the queue. Consumers take
// them out, and verify them while holding a permit of the workers semaphore,
// which bounds how many verifications run at once. Every consumed id is
// recorded, so lost and duplicated items show up in the Report.
//
// An Exchange runs once: create a new one for every run.
type Exchange struct {
	config      Config
	queue       *boundedqueue.Queue[*itemprint.ItemPrint]
	workers     *semaphore.Semaphore
	hashingPool *itemprint.HashingPool
	consumed    mapset.Set[int]
	log         *logging.Logger

	rejectedMu sync.Mutex
	rejected   itemprint.ItemPrintSlice

	produced   atomic.Int64
	claimed    atomic.Int64
	duplicates atomic.Int64
	active     atomic.Int64
	peak       atomic.Int64
}

// New creates a new Exchange. log may be nil to stay quiet.
func New(config Config, log *logging.Logger) (*Exchange, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	queue, err := boundedqueue.New[*itemprint.ItemPrint](config.Capacity, config.Fair)
	if err != nil {
		return nil, fmt.Errorf("while creating queue: %w", err)
	}

	workers, err := semaphore.New(config.Workers, config.Fair)
	if err != nil {
		return nil, fmt.Errorf("while creating workers semaphore: %w", err)
	}

	return &Exchange{
		config:      config,
		queue:       queue,
		workers:     workers,
		hashingPool: itemprint.NewHashingPool(),
		consumed:    mapset.NewSet[int](),
		log:         log,
	}, nil
}

// Run starts all producers and consumers and waits for them to finish.
//
// The first failure, or ctx ending, stops the whole run; the error is returned
// along with a Report of what was exchanged until then.
func (ex *Exchange) Run(ctx context.Context) (Report, error) {
	g, ctx := errgroup.WithContext(ctx)

	for p := 0; p < ex.config.Producers; p++ {
		producer := p
		g.Go(func() error {
			return ex.produce(ctx, producer)
		})
	}

	for c := 0; c < ex.config.Consumers; c++ {
		consumer := c
		g.Go(func() error {
			return ex.consume(ctx, consumer)
		})
	}

	err := g.Wait()
	return ex.report(), err
}

// produce generates the items whose id belongs to producer, i. e., every id
// congruent to it modulo the amount of producers.
func (ex *Exchange) produce(ctx context.Context, producer int) error {
	for id := producer; id < ex.config.Items; id += ex.config.Producers {
		item, err := itemprint.Generate(id, producer, ex.config.PayloadSize, ex.hashingPool)
		if err != nil {
			return err
		}

		if err := ex.queue.Put(ctx, item); err != nil {
			return fmt.Errorf("producer %d while putting item %d: %w", producer, id, err)
		}
		ex.produced.Add(1)
		ex.debugf("producer %d put item %d (queue %d/%d)", producer, id, ex.queue.Len(), ex.queue.Cap())
	}

	ex.debugf("producer %d done", producer)
	return nil
}

// consume takes items until every item has been claimed by some consumer.
func (ex *Exchange) consume(ctx context.Context, consumer int) error {
	for ex.claimed.Add(1) <= int64(ex.config.Items) {
		item, err := ex.queue.Take(ctx)
		if err != nil {
			return fmt.Errorf("consumer %d while taking an item: %w", consumer, err)
		}

		if err := ex.verify(ctx, consumer, item); err != nil {
			return err
		}
	}

	ex.debugf("consumer %d done", consumer)
	return nil
}

// verify checks item while holding a worker permit, and records it.
func (ex *Exchange) verify(ctx context.Context, consumer int, item *itemprint.ItemPrint) error {
	if err := ex.workers.Acquire(ctx); err != nil {
		return fmt.Errorf("consumer %d while waiting for a worker: %w", consumer, err)
	}
	defer ex.workers.Release()

	active := ex.active.Add(1)
	defer ex.active.Add(-1)
	for {
		peak := ex.peak.Load()
		if active <= peak || ex.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	if err := item.Verify(); err != nil {
		ex.rejectedMu.Lock()
		ex.rejected = append(ex.rejected, item)
		ex.rejectedMu.Unlock()
		ex.warningf("consumer %d: %v", consumer, err)
	}

	if !ex.consumed.Add(item.ID()) {
		ex.duplicates.Add(1)
		ex.warningf("consumer %d: item %d consumed twice", consumer, item.ID())
	}

	ex.debugf("consumer %d verified item %d (%d workers active)", consumer, item.ID(), active)
	return nil
}

func (ex *Exchange) report() Report {
	var missing []int
	for id := 0; id < ex.config.Items; id++ {
		if !ex.consumed.ContainsOne(id) {
			missing = append(missing, id)
		}
	}

	ex.rejectedMu.Lock()
	rejected := make(itemprint.ItemPrintSlice, len(ex.rejected))
	copy(rejected, ex.rejected)
	ex.rejectedMu.Unlock()

	sort.Sort(rejected)
	rejectedIDs := make([]int, 0, len(rejected))
	for _, item := range rejected {
		rejectedIDs = append(rejectedIDs, item.ID())
	}

	return Report{
		Produced:    int(ex.produced.Load()),
		Consumed:    ex.consumed.Cardinality() + int(ex.duplicates.Load()),
		Duplicates:  int(ex.duplicates.Load()),
		Corrupted:   len(rejected),
		Rejected:    rejectedIDs,
		Missing:     missing,
		PeakWorkers: int(ex.peak.Load()),
		Workers:     ex.config.Workers,
	}
}

func (ex *Exchange) debugf(format string, args ...any) {
	if ex.log != nil {
		ex.log.Debugf(format, args...)
	}
}

func (ex *Exchange) warningf(format string, args ...any) {
	if ex.log != nil {
		ex.log.Warningf(format, args...)
	}
}
