// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

func TestFilterDetectsDuplicates(t *testing.T) {
	f := NewFilter(DefaultConfig(), clock.NewMock())

	first, second := uuid.New(), uuid.New()

	if fresh := f.TestAndInsert([]uuid.UUID{first}); !fresh[0] {
		t.Fatal("First sighting was reported as duplicate")
	}

	fresh := f.TestAndInsert([]uuid.UUID{first, second, second})
	if fresh[0] {
		t.Fatal("Repeated identifier was reported as new")
	}
	if !fresh[1] {
		t.Fatal("New identifier was reported as duplicate")
	}
	if fresh[2] {
		t.Fatal("Duplicate within the same batch was reported as new")
	}
}

func TestFilterWindow(t *testing.T) {
	config := DefaultConfig()
	f := NewFilter(config, clock.NewMock())

	id := uuid.New()
	f.TestAndInsert([]uuid.UUID{id})

	// The identifier survives Buckets-1 rotations.
	for i := 0; i < config.Buckets-1; i++ {
		f.Rotate()
	}
	if fresh := f.TestAndInsert([]uuid.UUID{id}); fresh[0] {
		t.Fatal("Identifier was forgotten within the window")
	}

	// The last test re-inserted it into the current bucket; a full turn forgets it.
	for i := 0; i < config.Buckets; i++ {
		f.Rotate()
	}
	if fresh := f.TestAndInsert([]uuid.UUID{id}); !fresh[0] {
		t.Fatal("Identifier is still known after a full rotation")
	}
}

func TestFilterRunRotates(t *testing.T) {
	config := DefaultConfig()
	config.Buckets = 3

	mock := clock.NewMock()
	f := NewFilter(config, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	id := uuid.New()
	f.TestAndInsert([]uuid.UUID{id})

	// Let Run register its ticker before advancing the mock clock.
	time.Sleep(10 * time.Millisecond)
	mock.Add(config.RotationInterval)

	deadline := time.Now().Add(time.Second)
	for {
		f.mutex.Lock()
		current := f.current
		f.mutex.Unlock()

		if current == 1 {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("Filter did not rotate, current bucket %d", current)
		}
		time.Sleep(time.Millisecond)
	}

	if fresh := f.TestAndInsert([]uuid.UUID{id}); fresh[0] {
		t.Fatal("Identifier was forgotten after a single rotation")
	}

	cancel()
	<-done
}

func TestFilterNoFalseNegatives(t *testing.T) {
	f := NewFilter(DefaultConfig(), clock.NewMock())

	ids := make([]uuid.UUID, 10000)
	for i := range ids {
		ids[i] = uuid.New()
	}
	f.TestAndInsert(ids)

	for i, fresh := range f.TestAndInsert(ids) {
		if fresh {
			t.Fatalf("Known identifier %d was reported as new", i)
		}
	}
}
