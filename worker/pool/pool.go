package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError carries a panic recovered at the task boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// WorkerPool runs submitted tasks with a fixed concurrency limit. Tasks are
// never dropped: a submitted task runs to completion even if the submitter
// went away.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	onPanic func(*PanicError)
}

type Option func(*WorkerPool)

// WithPanicHandler receives panics raised by done callbacks. Without it they
// are recovered and dropped.
func WithPanicHandler(fn func(*PanicError)) Option {
	return func(p *WorkerPool) { p.onPanic = fn }
}

func NewWorkerPool(maxWorkers int, opts ...Option) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	p := &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues task and returns immediately. done, if non-nil, receives the
// task's result; a panic inside task is reported to done as *PanicError.
// A panic inside done is passed to the panic handler.
func (p *WorkerPool) Submit(ctx context.Context, task func(context.Context) error, done func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		err := runTask(ctx, task)
		if done != nil {
			p.runDone(done, err)
		}
	}()
}

func (p *WorkerPool) runDone(done func(error), err error) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	done(err)
}

func runTask(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// WaitContext waits for all submitted tasks or until ctx is done.
func (p *WorkerPool) WaitContext(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capacity returns the configured concurrency limit.
func (p *WorkerPool) Capacity() int {
	return cap(p.sem)
}
