package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	p := NewPool(4)
	var n int64
	for i := 0; i < 100; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.Stop()
	assert.EqualValues(t, 100, atomic.LoadInt64(&n))
}

func TestPoolStopDrainsQueue(t *testing.T) {
	p := NewPool(1)
	var n int64
	for i := 0; i < 10; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.Stop()
	assert.EqualValues(t, 10, atomic.LoadInt64(&n))
}
