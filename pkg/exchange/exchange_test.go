package exchange

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/blackhawk42/permits/pkg/itemprint"
	"github.com/blackhawk42/permits/pkg/semaphore"
	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	valid := Config{Producers: 1, Consumers: 1, Items: 1, Capacity: 1, Workers: 1}

	for name, mutate := range map[string]func(*Config){
		"no producers":     func(c *Config) { c.Producers = 0 },
		"no consumers":     func(c *Config) { c.Consumers = 0 },
		"negative items":   func(c *Config) { c.Items = -1 },
		"no workers":       func(c *Config) { c.Workers = 0 },
		"negative payload": func(c *Config) { c.PayloadSize = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			config := valid
			mutate(&config)
			_, err := New(config, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	config := valid
	config.Capacity = 0
	_, err := New(config, nil)
	assert.Error(t, err)
}

func TestRunExchangesEveryItemOnce(t *testing.T) {
	for _, fair := range []bool{true, false} {
		ex, err := New(Config{
			Producers:   4,
			Consumers:   6,
			Items:       400,
			Capacity:    5,
			Workers:     2,
			PayloadSize: 256,
			Fair:        fair,
		}, nil)
		require.NoError(t, err)

		report, err := ex.Run(context.Background())
		require.NoError(t, err)

		assert.True(t, report.OK(), "fair=%v: %+v", fair, report)
		assert.Equal(t, 400, report.Produced)
		assert.Equal(t, 400, report.Consumed)
		assert.Empty(t, report.Missing)
		assert.Empty(t, report.Rejected)
		assert.LessOrEqual(t, report.PeakWorkers, 2)
		assert.Positive(t, report.PeakWorkers)
	}
}

func TestRunWithoutItems(t *testing.T) {
	ex, err := New(Config{Producers: 2, Consumers: 2, Capacity: 1, Workers: 1}, nil)
	require.NoError(t, err)

	report, err := ex.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Zero(t, report.Consumed)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	ex, err := New(Config{Producers: 1, Consumers: 2, Items: 10, Capacity: 1, Workers: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	report, err := ex.Run(ctx)
	require.ErrorIs(t, err, semaphore.ErrInterrupted)
	assert.False(t, report.OK())
	assert.NotEmpty(t, report.Missing)
}

func TestRunLogsProgress(t *testing.T) {
	var buf bytes.Buffer
	backend := logging.AddModuleLevel(logging.NewLogBackend(&buf, "", 0))
	backend.SetLevel(logging.DEBUG, "exchange-test")

	log := logging.MustGetLogger("exchange-test")
	log.SetBackend(backend)

	ex, err := New(Config{Producers: 1, Consumers: 1, Items: 3, Capacity: 1, Workers: 1}, log)
	require.NoError(t, err)

	_, err = ex.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "producer 0 put item 2")
	assert.Contains(t, buf.String(), "consumer 0 verified item 2")
}

func TestVerifyRejectsBadItems(t *testing.T) {
	ex, err := New(Config{Producers: 1, Consumers: 1, Items: 10, Capacity: 1, Workers: 1}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Items that were never sealed can't be verified, and are reported the same
	// way as corrupted ones.
	for _, id := range []int{7, 2, 5} {
		item := itemprint.NewItemPrint(id, 0, []byte("payload"), ex.hashingPool)
		require.NoError(t, ex.verify(ctx, 0, item))
	}

	good, err := itemprint.Generate(3, 0, 16, ex.hashingPool)
	require.NoError(t, err)
	require.NoError(t, ex.verify(ctx, 0, good))
	require.NoError(t, ex.verify(ctx, 0, good))

	report := ex.report()
	assert.Equal(t, 3, report.Corrupted)
	assert.Equal(t, []int{2, 5, 7}, report.Rejected)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 5, report.Consumed)
	assert.False(t, report.OK())
	assert.Equal(t, 1, ex.workers.Available(), "worker permits must all be returned")
}

func TestReportOK(t *testing.T) {
	good := Report{Produced: 3, Consumed: 3, PeakWorkers: 1, Workers: 2}
	assert.True(t, good.OK())

	for name, bad := range map[string]Report{
		"duplicate":     {Produced: 3, Consumed: 4, Duplicates: 1, Workers: 1},
		"corrupted":     {Produced: 3, Consumed: 3, Corrupted: 1, Workers: 1},
		"missing":       {Produced: 3, Consumed: 2, Missing: []int{1}, Workers: 1},
		"too many held": {Produced: 3, Consumed: 3, PeakWorkers: 3, Workers: 2},
	} {
		assert.False(t, bad.OK(), name)
	}
}
