// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dedup detects already received reliable packets within a sliding time window.
package dedup

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
)

// Config of a Filter.
type Config struct {
	// Buckets is the number of bloom filters in the ring, at least two.
	Buckets int

	// RotationInterval after which the oldest bucket is cleared. An identifier stays known for at least
	// (Buckets-1) * RotationInterval.
	RotationInterval time.Duration

	// Capacity is the expected number of identifiers per bucket.
	Capacity uint

	// FalsePositiveRate of each bucket at its Capacity.
	FalsePositiveRate float64
}

// DefaultConfig remembers identifiers for 90 to 120 seconds.
func DefaultConfig() Config {
	return Config{
		Buckets:           4,
		RotationInterval:  30 * time.Second,
		Capacity:          1 << 16,
		FalsePositiveRate: 1e-6,
	}
}

// Filter is a ring of time-bucketed bloom filters. Identifiers are tested against all buckets and inserted into the
// current one. A periodic rotation clears the oldest bucket and makes it the current one.
//
// A false positive reports a new identifier as already known. Its probability is bounded by the configured
// FalsePositiveRate per bucket.
type Filter struct {
	clock   clock.Clock
	config  Config
	buckets []*bloom.BloomFilter
	current int
	mutex   sync.Mutex
}

// NewFilter creates an empty Filter. A nil clock defaults to the wall clock.
func NewFilter(config Config, clk clock.Clock) *Filter {
	if config.Buckets < 2 {
		config.Buckets = 2
	}
	if clk == nil {
		clk = clock.New()
	}

	f := &Filter{
		clock:   clk,
		config:  config,
		buckets: make([]*bloom.BloomFilter, config.Buckets),
	}
	for i := range f.buckets {
		f.buckets[i] = bloom.NewWithEstimates(config.Capacity, config.FalsePositiveRate)
	}
	return f
}

// TestAndInsert reports for each identifier whether it is new. All identifiers are inserted afterwards, so a
// duplicate within the same batch is reported as known.
func (f *Filter) TestAndInsert(ids []uuid.UUID) []bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	fresh := make([]bool, len(ids))
	for i, id := range ids {
		known := false
		for _, bucket := range f.buckets {
			if bucket.Test(id[:]) {
				known = true
				break
			}
		}

		fresh[i] = !known
		f.buckets[f.current].Add(id[:])
	}
	return fresh
}

// Rotate clears the oldest bucket and makes it the current one.
func (f *Filter) Rotate() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.current = (f.current + 1) % len(f.buckets)
	f.buckets[f.current].ClearAll()
}

// Run rotates the buckets until the context is done.
func (f *Filter) Run(ctx context.Context) {
	ticker := f.clock.Ticker(f.config.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			f.Rotate()
			log.WithField("interval", f.config.RotationInterval).Trace("Duplicate filter rotated")
		}
	}
}
