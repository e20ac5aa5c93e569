// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package worker provides a bounded job queue processed by a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when submitting to a closed Pool.
var ErrClosed = errors.New("worker pool is closed")

// Job is a unit of work. A returned error is logged.
type Job func(ctx context.Context) error

// Pool of workers. Jobs still queued on Close are executed before Close returns.
type Pool struct {
	name string
	jobs chan Job

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mutex  sync.RWMutex
	closed bool

	failed atomic.Uint64
}

// NewPool starts workers goroutines fetching from a queue of depth entries. The context passed to each Job is
// derived from ctx and is cancelled on Close.
func NewPool(ctx context.Context, name string, workers, depth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:   name,
		jobs:   make(chan Job, depth),
		ctx:    ctx,
		cancel: cancel,
		group:  new(errgroup.Group),
	}

	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for job := range p.jobs {
		if err := job(p.ctx); err != nil {
			p.failed.Add(1)
			log.WithFields(log.Fields{
				"pool": p.name,
			}).WithError(err).Debug("Job failed")
		}
	}
	return nil
}

// Submit a Job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// TrySubmit enqueues a Job without blocking. It returns false if the queue is full or the Pool is closed.
func (p *Pool) TrySubmit(job Job) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Failed returns the number of Jobs which returned an error.
func (p *Pool) Failed() uint64 {
	return p.failed.Load()
}

// Close the Pool and wait for all queued Jobs. Their context is already cancelled.
func (p *Pool) Close() error {
	p.cancel()

	p.mutex.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mutex.Unlock()

	return p.group.Wait()
}
