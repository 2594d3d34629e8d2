package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutor_DrainRunsNestedPostsInOrder(t *testing.T) {
	e := newExecutor()
	var got []int

	e.post(func(context.Context) {
		got = append(got, 1)
		e.post(func(context.Context) { got = append(got, 3) })
	})
	e.post(func(context.Context) { got = append(got, 2) })

	<-e.wake
	e.drain(context.Background())
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestExecutor_DrainStopsOnCancel(t *testing.T) {
	e := newExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0

	e.post(func(context.Context) { ran++; cancel() })
	e.post(func(context.Context) { ran++ })

	e.drain(ctx)
	assert.Equal(t, 1, ran)
}
