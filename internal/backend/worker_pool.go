package backend

import (
	"runtime"
	"sync"
)

// WorkerPool runs pixel conversion bands concurrently. It is shared by all pipelines.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	once     sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

// Workers returns the number of workers
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		job()
	}
}

// Submit queues a job. It returns false once the pool has been closed.
func (wp *WorkerPool) Submit(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.jobQueue <- job
	return true
}

// Close shuts down the worker pool
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobQueue)
	}
}

// ForEachBand splits [0, rows) into bands and calls fn for each, blocking until all are done.
// A nil or closed pool runs the bands on the calling goroutine.
func (wp *WorkerPool) ForEachBand(rows int, fn func(y0, y1 int)) {
	if rows <= 0 {
		return
	}
	bands := 1
	if wp != nil {
		bands = wp.workers
	}
	if bands > rows {
		bands = rows
	}
	step := (rows + bands - 1) / bands

	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += step {
		y1 := min(y0+step, rows)
		wg.Add(1)
		job := func() {
			defer wg.Done()
			fn(y0, y1)
		}
		if wp == nil || !wp.Submit(job) {
			job()
		}
	}
	wg.Wait()
}
