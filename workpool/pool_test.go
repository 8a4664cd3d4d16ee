package workpool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsEveryJob(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n int64
	jobs := make([]*Job, 0, 1000)
	for i := 0; i < 1000; i++ {
		jobs = append(jobs, p.Submit(func() { atomic.AddInt64(&n, 1) }))
	}
	for _, job := range jobs {
		job.Wait()
		assert.True(t, job.Finished())
		assert.False(t, job.Running())
	}
	assert.Equal(t, int64(1000), atomic.LoadInt64(&n))

	stats := p.Stats()
	assert.Equal(t, 4, stats.Workers)
	assert.Equal(t, int64(1000), stats.Submitted)
	assert.Equal(t, int64(1000), stats.Completed)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Queued)
}

func TestJobStates(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	first := p.Submit(func() {
		close(started)
		<-release
	})
	second := p.Submit(func() {})

	<-started
	assert.True(t, first.Running())
	assert.False(t, first.Finished())
	// The only worker is busy, so the second job must still be queued.
	assert.False(t, second.Running())
	assert.False(t, second.Finished())
	assert.Equal(t, 1, p.Stats().Queued)

	close(release)
	<-first.Done()
	second.Wait()
	assert.True(t, first.Finished())
	assert.True(t, second.Finished())
}

func TestCloseDrainsQueue(t *testing.T) {
	p := New(2)
	var n int64
	for i := 0; i < 100; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.Close()
	assert.Equal(t, int64(100), atomic.LoadInt64(&n))
	require.Panics(t, func() { p.Submit(func() {}) })
}

func TestShared(t *testing.T) {
	p0 := Shared()
	p1 := Shared()
	require.True(t, p0 == p1)
	assert.True(t, p0.NumWorkers() > 0)
	p0.Submit(func() {}).Wait()
}

func TestDefaultWorkers(t *testing.T) {
	p := New(0)
	defer p.Close()
	assert.True(t, p.NumWorkers() > 0)
}
