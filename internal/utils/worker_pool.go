package utils

import (
	"sync"
)

// WorkerPool manages a fixed number of goroutines executing submitted tasks.
type WorkerPool struct {
	workers   int
	jobQueue  chan func()
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.jobQueue {
		task()
	}
}

// Submit queues a task, blocking while every worker is busy and the queue is full.
func (wp *WorkerPool) Submit(task func()) {
	wp.jobQueue <- task
}

// Shutdown waits for all queued tasks to finish. The pool cannot be reused.
func (wp *WorkerPool) Shutdown() {
	close(wp.jobQueue)
	wp.waitGroup.Wait()
}

// RunIndexed calls fn for every index in [0, n) on at most workers goroutines and waits for
// all of them. It returns the error of the lowest failing index, so the result does not
// depend on scheduling.
func RunIndexed(workers, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, n)
	pool := NewWorkerPool(min(workers, n))
	for i := 0; i < n; i++ {
		pool.Submit(func() { errs[i] = fn(i) })
	}
	pool.Shutdown()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
