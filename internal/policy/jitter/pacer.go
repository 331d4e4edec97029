// Package jitter spaces out requests with randomized politeness delays.
package jitter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/urlcrawl/internal/metrics"
)

// Spread is the fraction the base delay may vary by in either direction.
const Spread = 0.25

// Config selects the delay. When Min and Max are both set the delay is drawn
// uniformly from [Min, Max]; otherwise it is Base scaled by a factor in
// [1-Spread, 1+Spread], or exactly Base when Disabled.
type Config struct {
	Base     time.Duration
	Disabled bool
	Min      time.Duration
	Max      time.Duration
}

// Validate rejects negative or inverted ranges.
func (c Config) Validate() error {
	if c.Base < 0 {
		return fmt.Errorf("delay must be >= 0, got %s", c.Base)
	}
	if c.Min < 0 || c.Max < 0 {
		return fmt.Errorf("jitter range must be >= 0, got [%s, %s]", c.Min, c.Max)
	}
	if c.Max > 0 && c.Min > c.Max {
		return fmt.Errorf("jitter min %s exceeds max %s", c.Min, c.Max)
	}
	return nil
}

// Pacer implements crawler.Pacer.
type Pacer struct {
	cfg   Config
	float func() float64
}

// New builds a Pacer.
func New(cfg Config) (*Pacer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pacer{cfg: cfg, float: rand.Float64}, nil
}

// Next returns the next delay without sleeping.
func (p *Pacer) Next() time.Duration {
	switch {
	case p.cfg.Max > 0:
		span := float64(p.cfg.Max - p.cfg.Min)
		return p.cfg.Min + time.Duration(span*p.float())
	case p.cfg.Disabled:
		return p.cfg.Base
	default:
		factor := 1 - Spread + 2*Spread*p.float()
		return time.Duration(float64(p.cfg.Base) * factor)
	}
}

// Pause sleeps for the next delay or until ctx is done, returning the time
// actually slept.
func (p *Pacer) Pause(ctx context.Context) time.Duration {
	delay := p.Next()
	if delay <= 0 {
		return 0
	}
	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	slept := time.Since(start)
	metrics.ObservePause(slept)
	return slept
}
