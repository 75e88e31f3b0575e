// Package ratelimit implements per-submitter admission control for report
// submissions: a minimum spacing between attempts plus a cap per sliding
// window. State lives in process memory only; running several replicas
// multiplies the effective limits.
package ratelimit

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultWindow       = 10 * time.Minute
	DefaultMaxPerWindow = 5
	DefaultMinInterval  = 10 * time.Second

	// sweep tuning: only consider a full sweep once the key space is this
	// large, and then only on a small fraction of calls.
	defaultSweepThreshold   = 100
	defaultSweepProbability = 0.02
)

// Decision is the outcome of CheckAndRecord. RetryAfterSeconds is set only
// when Allowed is false.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// SlidingWindow keeps the admitted attempt timestamps per key.
type SlidingWindow struct {
	Window       time.Duration
	MaxPerWindow int
	MinInterval  time.Duration

	SweepThreshold   int
	SweepProbability float64

	// Now and Rand are overridable for tests.
	Now  func() time.Time
	Rand func() float64

	mu      sync.Mutex
	entries map[string][]time.Time
}

// New returns a limiter; non-positive arguments fall back to defaults.
func New(window time.Duration, maxPerWindow int, minInterval time.Duration) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxPerWindow
	}
	if minInterval < 0 {
		minInterval = DefaultMinInterval
	}
	return &SlidingWindow{
		Window:           window,
		MaxPerWindow:     maxPerWindow,
		MinInterval:      minInterval,
		SweepThreshold:   defaultSweepThreshold,
		SweepProbability: defaultSweepProbability,
		Now:              time.Now,
		Rand:             rand.Float64,
		entries:          make(map[string][]time.Time),
	}
}

// CheckAndRecord evaluates key and, if admitted, records the attempt. The
// whole read-check-write runs under one lock.
func (s *SlidingWindow) CheckAndRecord(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	s.maybeSweep(now)

	active := s.prune(s.entries[key], now)
	if n := len(active); n > 0 {
		if since := now.Sub(active[n-1]); since < s.MinInterval {
			return Decision{RetryAfterSeconds: ceilSeconds(s.MinInterval - since)}
		}
	}
	if len(active) >= s.MaxPerWindow {
		retry := 60
		if len(active) > 0 {
			retry = ceilSeconds(s.Window - now.Sub(active[0]))
		}
		s.store(key, active)
		return Decision{RetryAfterSeconds: retry}
	}
	s.entries[key] = append(active, now)
	return Decision{Allowed: true}
}

// Len reports how many keys are currently tracked.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops every key without in-window timestamps.
func (s *SlidingWindow) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.Now())
}

func (s *SlidingWindow) maybeSweep(now time.Time) {
	if len(s.entries) < s.SweepThreshold || s.Rand() > s.SweepProbability {
		return
	}
	s.sweep(now)
}

func (s *SlidingWindow) sweep(now time.Time) {
	for k, ts := range s.entries {
		s.store(k, s.prune(ts, now))
	}
}

func (s *SlidingWindow) store(key string, ts []time.Time) {
	if len(ts) == 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = ts
}

// prune returns the suffix of ts still inside the window. Timestamps are
// appended in order, so the expired ones are always a prefix.
func (s *SlidingWindow) prune(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= s.Window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
