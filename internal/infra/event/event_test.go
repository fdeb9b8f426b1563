package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList(t *testing.T) {
	var l List[int]
	var got []int

	unsubA := l.Subscribe(func(v int) { got = append(got, v) })
	l.Subscribe(func(v int) { got = append(got, v*10) })
	assert.Equal(t, 2, l.Len())

	l.Emit(1)
	assert.Equal(t, []int{1, 10}, got)

	unsubA()
	unsubA()
	assert.Equal(t, 1, l.Len())

	l.Emit(2)
	assert.Equal(t, []int{1, 10, 20}, got)
}

func TestListSubscribeDuringEmit(t *testing.T) {
	var l List[string]
	calls := 0
	l.Subscribe(func(string) {
		calls++
		l.Subscribe(func(string) { calls++ })
	})

	l.Emit("a")
	assert.Equal(t, 1, calls, "handler added during Emit runs next time")
	l.Emit("b")
	assert.Equal(t, 3, calls)
}
