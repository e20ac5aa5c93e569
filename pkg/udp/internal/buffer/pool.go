// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package buffer provides reference-counted views on pooled, fixed-size network buffers.
//
// A Lease creates the single owning View of a buffer. Handing the data to another goroutine which outlives the
// current one requires either Share, which increments the reference count and returns a new View, or Transfer,
// which moves the ownership to a new View without incrementing. Each View must be released exactly once. The
// buffer returns to its Pool when the last View was released.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Pool of equally sized buffers.
type Pool struct {
	size int
	free sync.Pool

	leased atomic.Int64
}

// slot is the shared state of all Views of one buffer.
type slot struct {
	pool *Pool
	data []byte
	refs atomic.Int32
}

// NewPool for buffers of the given size.
func NewPool(size int) *Pool {
	pool := &Pool{size: size}
	pool.free.New = func() interface{} {
		return &slot{pool: pool, data: make([]byte, size)}
	}
	return pool
}

// Size of each buffer of this Pool.
func (pool *Pool) Size() int {
	return pool.size
}

// Leased returns the amount of buffers currently in use.
func (pool *Pool) Leased() int64 {
	return pool.leased.Load()
}

// Lease a buffer. The returned View is its only owner.
func (pool *Pool) Lease() *View {
	s := pool.free.Get().(*slot)
	s.refs.Store(1)
	pool.leased.Add(1)

	return &View{slot: s, length: pool.size}
}

// LeaseCopy leases a buffer and fills it with data, which must fit into the buffer.
func (pool *Pool) LeaseCopy(data []byte) *View {
	if len(data) > pool.size {
		panic("buffer: data exceeds buffer size")
	}

	view := pool.Lease()
	view.length = copy(view.slot.data, data)
	return view
}

// giveBack is called by the last released View of a slot.
func (pool *Pool) giveBack(s *slot) {
	pool.leased.Add(-1)
	pool.free.Put(s)
}
