// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPoolExecutesAll(t *testing.T) {
	const jobs = 1000

	p := NewPool(context.Background(), "test", 4, 16)

	var done atomic.Int64
	for i := 0; i < jobs; i++ {
		if err := p.Submit(context.Background(), func(context.Context) error {
			done.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if n := done.Load(); n != jobs {
		t.Fatalf("Executed %d of %d jobs", n, jobs)
	}
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(context.Background(), "test", 1, 1)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing twice is fine.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if err := p.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit on closed pool returned %v", err)
	}
	if p.TrySubmit(func(context.Context) error { return nil }) {
		t.Fatal("TrySubmit on closed pool succeeded")
	}
}

func TestPoolBounded(t *testing.T) {
	p := NewPool(context.Background(), "test", 1, 1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if !p.TrySubmit(func(context.Context) error { return nil }) {
		t.Fatal("Queue should have room for one job")
	}
	if p.TrySubmit(func(context.Context) error { return nil }) {
		t.Fatal("Full queue accepted another job")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit to full queue returned %v", err)
	}

	close(block)
}

func TestPoolFailedJobs(t *testing.T) {
	p := NewPool(context.Background(), "test", 2, 4)
	for i := 0; i < 3; i++ {
		_ = p.Submit(context.Background(), func(context.Context) error { return errors.New("nope") })
	}
	_ = p.Close()

	if n := p.Failed(); n != 3 {
		t.Fatalf("Counted %d failed jobs", n)
	}
}
