package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedQueueDropsNewest(t *testing.T) {
	q := NewQueue[int](2)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3))
	assert.Equal(t, uint64(1), q.Dropped())

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, q.Push(4))
	assert.Equal(t, []int{2, 4}, q.Drain())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestUnboundedQueue(t *testing.T) {
	q := NewQueue[int](0)
	for i := 0; i < 1000; i++ {
		assert.True(t, q.Push(i))
	}
	assert.Equal(t, 1000, q.Len())
	assert.Equal(t, uint64(0), q.Dropped())

	neg := NewQueue[int](-5)
	assert.True(t, neg.Push(1))
}
