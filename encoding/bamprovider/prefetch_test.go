package bamprovider_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/dedup/encoding/bamprovider"
	"github.com/grailbio/dedup/workpool"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanCountingIterator wraps an Iterator and fails the test if two goroutines
// call Scan at the same time.
type scanCountingIterator struct {
	t       *testing.T
	inner   bamprovider.Iterator
	inScan  int32
	scans   int64
	failAt  int64
	failErr error
	delay   time.Duration
}

func (i *scanCountingIterator) Scan() bool {
	if !atomic.CompareAndSwapInt32(&i.inScan, 0, 1) {
		i.t.Error("concurrent Scan calls")
	}
	defer atomic.StoreInt32(&i.inScan, 0)
	if i.delay > 0 {
		time.Sleep(i.delay)
	}
	n := atomic.AddInt64(&i.scans, 1)
	if i.failErr != nil && n > i.failAt {
		return false
	}
	return i.inner.Scan()
}

func (i *scanCountingIterator) Record() *sam.Record { return i.inner.Record() }

func (i *scanCountingIterator) Err() error {
	if i.failErr != nil && atomic.LoadInt64(&i.scans) > i.failAt {
		return i.failErr
	}
	return i.inner.Err()
}

func (i *scanCountingIterator) Close() error {
	if err := i.inner.Close(); err != nil {
		return err
	}
	return i.Err()
}

func readAll(t *testing.T, iter bamprovider.Iterator) []string {
	var names []string
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	return names
}

func TestPrefetchPreservesOrder(t *testing.T) {
	pool := workpool.New(3)
	defer pool.Close()
	header, recs := newTestData(t, 25000)
	for _, opts := range []bamprovider.PrefetchOpts{
		{Pool: pool},
		{Pool: pool, LowWater: 5, HighWater: 10},
		{Pool: pool, LowWater: 1, HighWater: 1},
		{Pool: pool, LowWater: 100, HighWater: 100000},
	} {
		src := &scanCountingIterator{t: t, inner: bamprovider.NewFakeProvider(header, recs).NewIterator()}
		iter, err := bamprovider.NewPrefetchIterator(src, opts)
		require.NoError(t, err)
		assert.Equal(t, expectedNames(recs), readAll(t, iter))
		// Scan keeps returning false after the end.
		assert.False(t, iter.Scan())
		require.NoError(t, iter.Close())

		high := opts.HighWater
		if high == 0 {
			high = bamprovider.DefaultHighWater
		}
		stats := iter.Stats()
		assert.True(t, stats.MaxDepth <= high, "stats: %+v", stats)
		assert.Equal(t, 1, stats.MaxConcurrentJobs)
		assert.Equal(t, int64(len(recs)), stats.Records)
	}
}

func TestPrefetchRefillsBelowLowWater(t *testing.T) {
	pool := workpool.New(2)
	defer pool.Close()
	header, recs := newTestData(t, 100)
	src := bamprovider.NewFakeProvider(header, recs).NewIterator()
	iter, err := bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{Pool: pool, LowWater: 5, HighWater: 10})
	require.NoError(t, err)
	var names []string
	for iter.Scan() {
		names = append(names, iter.Record().Name)
		// A slow consumer lets every fill job run up to the high watermark.
		time.Sleep(100 * time.Microsecond)
	}
	assert.Equal(t, expectedNames(recs), names)
	require.NoError(t, iter.Close())
	stats := iter.Stats()
	assert.True(t, stats.Jobs > 1, "stats: %+v", stats)
	assert.True(t, stats.MaxDepth <= 10, "stats: %+v", stats)
	assert.Equal(t, 1, stats.MaxConcurrentJobs)
}

func TestPrefetchSlowSource(t *testing.T) {
	pool := workpool.New(2)
	defer pool.Close()
	header, recs := newTestData(t, 30)
	src := &scanCountingIterator{
		t:     t,
		inner: bamprovider.NewFakeProvider(header, recs).NewIterator(),
		delay: time.Millisecond,
	}
	iter, err := bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{Pool: pool, LowWater: 2, HighWater: 4})
	require.NoError(t, err)
	assert.Equal(t, expectedNames(recs), readAll(t, iter))
	require.NoError(t, iter.Close())
	assert.Equal(t, 1, iter.Stats().MaxConcurrentJobs)
}

func TestPrefetchError(t *testing.T) {
	header, recs := newTestData(t, 50)
	src := &scanCountingIterator{
		t:       t,
		inner:   bamprovider.NewFakeProvider(header, recs).NewIterator(),
		failAt:  20,
		failErr: errors.New("disk on fire"),
	}
	iter, err := bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{LowWater: 3, HighWater: 7})
	require.NoError(t, err)
	assert.Equal(t, expectedNames(recs[:20]), readAll(t, iter))
	assert.EqualError(t, iter.Err(), "disk on fire")
	assert.EqualError(t, iter.Close(), "disk on fire")
}

func TestPrefetchEarlyClose(t *testing.T) {
	pool := workpool.New(1)
	defer pool.Close()
	header, recs := newTestData(t, 1000)
	src := bamprovider.NewFakeProvider(header, recs).NewIterator()
	iter, err := bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{Pool: pool, LowWater: 10, HighWater: 20})
	require.NoError(t, err)
	require.True(t, iter.Scan())
	assert.Equal(t, "read0", iter.Record().Name)
	require.NoError(t, iter.Close())
}

func TestPrefetchBadWatermarks(t *testing.T) {
	header, recs := newTestData(t, 1)
	src := bamprovider.NewFakeProvider(header, recs).NewIterator()
	_, err := bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{LowWater: 10, HighWater: 5})
	assert.Error(t, err)
	_, err = bamprovider.NewPrefetchIterator(src, bamprovider.PrefetchOpts{LowWater: -1})
	assert.Error(t, err)
}
