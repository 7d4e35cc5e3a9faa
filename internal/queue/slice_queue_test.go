package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceQueue(t *testing.T) {
	assert := assert.New(t)
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewSliceQueue[string](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Empty(item)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewSliceQueue[string](1)

		q.Enqueue("data1")
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		q.Enqueue("data2")
		assert.Equal(2, q.Length())

		item1, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal("data1", item1)
		assert.Equal(1, q.Length())

		item2, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal("data2", item2)
		assert.True(q.IsEmpty())

		_, ok = q.Dequeue()
		assert.False(ok)
		assert.True(q.IsEmpty())
	})

	t.Run("FIFO order", func(t *testing.T) {
		q := NewSliceQueue[int](8)

		for i := 0; i < 100; i++ {
			q.Enqueue(i)
		}
		for i := 0; i < 100; i++ {
			item, ok := q.Dequeue()
			assert.True(ok)
			assert.Equal(i, item)
		}
		assert.True(q.IsEmpty())
	})

	t.Run("Pointer items", func(t *testing.T) {
		type entry struct{ id int }
		q := NewSliceQueue[*entry](1)

		e := &entry{id: 42}
		q.Enqueue(e)

		item, ok := q.Dequeue()
		assert.True(ok)
		assert.Same(e, item)
	})
}
