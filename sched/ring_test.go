package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushPopFIFO(t *testing.T) {
	r := NewRing[int](4)
	require.True(t, r.Push(1))
	require.True(t, r.Push(2))
	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestRing_FullPushReturnsFalse(t *testing.T) {
	r := NewRing[int](2)
	require.True(t, r.Push(1))
	require.True(t, r.Push(2))
	assert.False(t, r.Push(3), "ring sized for 2 elements must reject a third without a pop")
}

func TestRing_CapacityRoundsUpToPowerOfTwo(t *testing.T) {
	r := NewRing[int](3)
	assert.Equal(t, 4, len(r.buf))
}

func TestRing_ConcurrentProducerConsumer(t *testing.T) {
	r := NewRing[int](1024)
	const n = 10000
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			for !r.Push(i) {
			}
		}
		close(done)
	}()
	sum := 0
	received := 0
	for received < n {
		if v, ok := r.Pop(); ok {
			sum += v
			received++
		}
	}
	<-done
	assert.Equal(t, n*(n-1)/2, sum)
}
