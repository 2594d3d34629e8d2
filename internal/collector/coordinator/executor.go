package coordinator

import (
	"context"
	"sync"
)

// executor is an unbounded FIFO of jobs drained by the coordinator's run
// loop. post never blocks, so jobs may post further jobs.
type executor struct {
	mu    sync.Mutex
	queue []func(context.Context)
	wake  chan struct{}
}

func newExecutor() *executor {
	return &executor{wake: make(chan struct{}, 1)}
}

func (e *executor) post(job func(context.Context)) {
	e.mu.Lock()
	e.queue = append(e.queue, job)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// drain runs the queued jobs, including those posted while draining.
func (e *executor) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		job(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}
