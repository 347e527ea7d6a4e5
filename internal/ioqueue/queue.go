// Package ioqueue serializes the storage core's disk I/O: tasks start in
// submission order with at most MaxInFlight running at once. Every page
// read, write, and allocation goes through a Queue.
package ioqueue

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"
)

// MaxInFlight bounds the number of tasks the Queue will run concurrently.
const MaxInFlight = 16

// Future is the result of a task submitted to the Queue. Await blocks until
// the task has run and returns its value or its error.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the task completes and returns its outcome.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.val, f.err
}

// Queue is a bounded-concurrency, FIFO-start task dispatcher. The zero
// value is not usable; construct with New.
type Queue struct {
	mu      sync.Mutex
	pending *list.List // of func()
	wake    chan struct{}
	sem     chan struct{}
	started atomic.Bool

	inFlight atomic.Int64
}

// New creates a Queue. Tasks enqueued before Start accumulate and do not
// run until Start is called.
func New() *Queue {
	return &Queue{
		pending: list.New(),
		wake:    make(chan struct{}, 1),
		sem:     make(chan struct{}, MaxInFlight),
	}
}

// Start marks the queue ready and begins dispatching any pending tasks.
// Calling Start more than once has no additional effect.
func (q *Queue) Start() {
	if !q.started.CAS(false, true) {
		return
	}
	go q.dispatch()
}

// Enqueue registers a task and returns a Future that resolves to its
// result. A task's error is reported only to its own Future; the queue
// keeps running regardless of individual task failures.
func Enqueue[T any](q *Queue, task func() (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	q.submit(func() {
		defer close(fut.done)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				fut.val = zero
				fut.err = panicError(r)
			}
		}()
		fut.val, fut.err = task()
	})
	return fut
}

func (q *Queue) submit(job func()) {
	q.mu.Lock()
	q.pending.PushBack(job)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch pops pending jobs strictly in FIFO order and starts each only
// once a concurrency slot is free, waiting until a job's goroutine is
// running before popping the next one; jobs then run independently of one
// another once started.
func (q *Queue) dispatch() {
	for {
		job, ok := q.pop()
		if !ok {
			<-q.wake
			continue
		}

		q.sem <- struct{}{}
		q.inFlight.Inc()
		running := make(chan struct{})
		go func() {
			defer func() {
				<-q.sem
				q.inFlight.Dec()
			}()
			close(running)
			job()
		}()
		<-running
	}
}

func (q *Queue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem := q.pending.Front()
	if elem == nil {
		return nil, false
	}
	q.pending.Remove(elem)
	return elem.Value.(func()), true
}

// InFlight reports the number of tasks currently executing.
func (q *Queue) InFlight() int64 {
	return q.inFlight.Load()
}

type panicErr struct{ v interface{} }

func (e panicErr) Error() string {
	return "ioqueue: task panicked: " + errString(e.v)
}

func panicError(v interface{}) error { return panicErr{v} }

func errString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
