// Package maintenance runs the periodic housekeeping of a running server.
// It sweeps idle keys out of the submission limiter and the HTTP throttle
// and pings the report store.
package maintenance

import (
	"context"
	"log"
	"sync"
	"time"

	"fraud-report-intake/internal/metrics"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultPingTimeout = 5 * time.Second
	maxBackoff         = 5 * time.Minute
)

type Sweeper interface {
	Sweep()
	Len() int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner ticks every Interval. A failed store ping switches it to
// exponential backoff until the store answers again.
type Runner struct {
	Limiter     Sweeper // optional; submission sliding window
	Throttle    Sweeper // optional; HTTP token buckets
	Store       Pinger  // optional
	Interval    time.Duration
	PingTimeout time.Duration
	Logger      *log.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu                  sync.Mutex // guards runOnce (manual vs background)
	consecutiveFailures int
}

func New(limiter, throttle Sweeper, store Pinger, logger *log.Logger) *Runner {
	return &Runner{
		Limiter:     limiter,
		Throttle:    throttle,
		Store:       store,
		Interval:    DefaultInterval,
		PingTimeout: DefaultPingTimeout,
		Logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the background loop.
func (r *Runner) Start() { go r.loop() }

// Stop signals termination and waits for the loop to exit. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Runner) loop() {
	defer close(r.doneCh)
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var backoff time.Duration
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if r.RunNow() {
				if backoff != 0 {
					backoff = 0
					ticker.Reset(interval)
					r.logf("maintenance: store recovered")
				}
				continue
			}
			if backoff == 0 {
				backoff = interval
			} else {
				backoff *= 2
			}
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			ticker.Reset(backoff)
			r.logf("maintenance: next store ping in %s", backoff)
		}
	}
}

// RunNow performs one synchronous pass. It returns false when the store
// ping failed.
func (r *Runner) RunNow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Limiter != nil {
		r.Limiter.Sweep()
		metrics.SubmissionLimiterKeys.Set(float64(r.Limiter.Len()))
	}
	if r.Throttle != nil {
		r.Throttle.Sweep()
		metrics.ThrottleKeys.Set(float64(r.Throttle.Len()))
	}
	if r.Store == nil {
		return true
	}

	timeout := r.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Store.Ping(ctx); err != nil {
		r.consecutiveFailures++
		metrics.StorePingFailuresTotal.Inc()
		metrics.StoreConsecutiveFailures.Set(float64(r.consecutiveFailures))
		metrics.StoreUp.Set(0)
		r.logf("maintenance: store ping failed err=%v", err)
		if r.consecutiveFailures == 5 || r.consecutiveFailures == 10 {
			r.logf("maintenance: ERROR: %d consecutive failed store pings", r.consecutiveFailures)
		}
		return false
	}
	r.consecutiveFailures = 0
	metrics.StoreConsecutiveFailures.Set(0)
	metrics.StoreUp.Set(1)
	return true
}

// ConsecutiveFailures reports the current failed ping streak.
func (r *Runner) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
