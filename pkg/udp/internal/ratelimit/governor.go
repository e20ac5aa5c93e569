// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ratelimit implements the per-peer outbound send governor.
//
// The Governor performs an additive increase of its send rate over time and a multiplicative decrease towards a
// base rate on packet loss. The resulting rate feeds a token bucket which carries fractional permits between ticks.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Config of a Governor. Rates are sends per second.
type Config struct {
	InitialRate float64
	BaseRate    float64
	// Velocity is the rate's additive increase per second.
	Velocity float64
	// Decay is applied to the rate's amount above BaseRate on packet loss.
	Decay float64
	// Burst limits how many permits might accumulate.
	Burst int
}

// DefaultConfig with a decay of 0.9.
func DefaultConfig() Config {
	return Config{
		InitialRate: 200,
		BaseRate:    50,
		Velocity:    100,
		Decay:       0.9,
		Burst:       256,
	}
}

// Validate the Config's values.
func (c Config) Validate() error {
	switch {
	case c.BaseRate <= 0:
		return fmt.Errorf("base rate %f must be positive", c.BaseRate)
	case c.InitialRate < c.BaseRate:
		return fmt.Errorf("initial rate %f is below base rate %f", c.InitialRate, c.BaseRate)
	case c.Velocity < 0:
		return fmt.Errorf("velocity %f is negative", c.Velocity)
	case c.Decay <= 0 || c.Decay >= 1:
		return fmt.Errorf("decay %f must be within (0, 1)", c.Decay)
	case c.Burst <= 0:
		return fmt.Errorf("burst %d must be positive", c.Burst)
	default:
		return nil
	}
}

// Governor of one peer's outbound sends.
type Governor struct {
	clock  clock.Clock
	config Config

	mutex   sync.Mutex
	current float64
	last    time.Time
	bucket  *rate.Limiter
}

// NewGovernor starting at the Config's InitialRate. A nil clock.Clock falls back to the wall clock.
func NewGovernor(config Config, clk clock.Clock) *Governor {
	if clk == nil {
		clk = clock.New()
	}

	now := clk.Now()
	bucket := rate.NewLimiter(rate.Limit(config.InitialRate), config.Burst)
	// Start with an empty bucket; permits are earned by ticks.
	bucket.AllowN(now, config.Burst)

	return &Governor{
		clock:   clk,
		config:  config,
		current: config.InitialRate,
		last:    now,
		bucket:  bucket,
	}
}

// Tick advances the rate by the elapsed time since the previous Tick and returns the number of sends currently
// permitted. Permits are consumed by Take.
func (g *Governor) Tick() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.clock.Now()
	if elapsed := now.Sub(g.last); elapsed > 0 {
		g.current += elapsed.Seconds() * g.config.Velocity
		g.last = now
	}
	g.bucket.SetLimitAt(now, rate.Limit(g.current))

	return int(math.Floor(g.bucket.TokensAt(now)))
}

// Take n permits, if available.
func (g *Governor) Take(n int) bool {
	if n <= 0 {
		return true
	}
	return g.bucket.AllowN(g.clock.Now(), n)
}

// HandlePacketLoss decays the rate towards the base rate.
func (g *Governor) HandlePacketLoss() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.current = (g.current-g.config.BaseRate)*g.config.Decay + g.config.BaseRate
	g.bucket.SetLimitAt(g.clock.Now(), rate.Limit(g.current))
}

// CurrentRate in sends per second.
func (g *Governor) CurrentRate() float64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.current
}
