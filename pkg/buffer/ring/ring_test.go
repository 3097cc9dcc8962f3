package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushAndLen(t *testing.T) {
	r := New[int](3)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, r.Cap())

	assert.False(t, r.Push(1))
	assert.False(t, r.Push(2))
	assert.False(t, r.Push(3))
	assert.Equal(t, 3, r.Len())

	// 写满后覆盖最旧元素。
	assert.True(t, r.Push(4))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{2, 3, 4}, r.Snapshot())
}

func TestRingDrainWhere(t *testing.T) {
	r := New[int](8)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}

	odd := r.DrainWhere(func(v int) bool { return v%2 == 1 })
	assert.Equal(t, []int{1, 3, 5}, odd)
	assert.Equal(t, []int{2, 4, 6}, r.Snapshot())
	assert.Equal(t, 3, r.Len())

	rest := r.DrainWhere(func(v int) bool { return true })
	assert.Equal(t, []int{2, 4, 6}, rest)
	assert.Equal(t, 0, r.Len())
}

func TestRingReset(t *testing.T) {
	r := New[string](2)
	r.Push("a")
	r.Push("b")
	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRingZeroCapPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
