package dispatcher

import (
	"context"
	"fmt"
	"sync"
)

// workerPool runs callback tasks on a fixed set of goroutines fed by a
// bounded queue. Submit blocks while the queue is full.
type workerPool struct {
	queue chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight int
	idle     chan struct{}
}

func newWorkerPool(workers, depth int) *workerPool {
	p := &workerPool{
		queue: make(chan func(), depth),
		quit:  make(chan struct{}),
		idle:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run()
		}()
	}
	return p
}

func (p *workerPool) run() {
	for {
		select {
		case task := <-p.queue:
			p.exec(task)
		case <-p.quit:
			return
		}
	}
}

func (p *workerPool) exec(task func()) {
	defer p.done()
	task()
}

// Submit hands task to a worker, waiting for queue space. It returns false
// when the pool is closed or ctx ends first; the caller then owns the task.
func (p *workerPool) Submit(ctx context.Context, task func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.inflight++
	p.mu.Unlock()

	select {
	case p.queue <- task:
		return true
	default:
	}
	select {
	case p.queue <- task:
		return true
	case <-ctx.Done():
		p.done()
		return false
	}
}

func (p *workerPool) done() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()
}

// WaitIdle blocks until no submitted task is queued or running.
func (p *workerPool) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.inflight == 0 {
			p.mu.Unlock()
			return nil
		}
		wait := p.idle
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for callback workers: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Close rejects new tasks, waits for accepted ones and stops the workers. If
// ctx ends first the workers keep running until the backlog clears.
func (p *workerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.WaitIdle(ctx)
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.WaitIdle(ctx); err != nil {
		go func() {
			_ = p.WaitIdle(context.Background())
			close(p.quit)
		}()
		return err
	}
	close(p.quit)
	p.wg.Wait()
	return nil
}

// QueueLen returns how many tasks are waiting for a worker.
func (p *workerPool) QueueLen() int {
	return len(p.queue)
}
