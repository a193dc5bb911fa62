// Package worker runs background jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
)

var ErrClosed = errors.New("worker pool closed")

// Pool bounds concurrency with a semaphore channel. Jobs run with the pool's
// context, not the submitter's, so they outlive the request that queued them.
type Pool struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(ctx context.Context, name string, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{name: name, ctx: ctx, cancel: cancel, sem: make(chan struct{}, size)}
}

// Go queues fn. It returns immediately; fn starts once a slot frees up.
func (p *Pool) Go(label string, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[%s] job %s panicked: %v", p.name, label, r)
			}
		}()
		if err := fn(p.ctx); err != nil {
			log.Printf("[%s] job %s failed: %v", p.name, label, err)
		}
	}()
	return nil
}

// Wait blocks until every queued job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting jobs, cancels running ones and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
