// Command bench drives POST /api/reports with synthetic submissions to
// exercise the HTTP throttle, the submission window and the timing checks.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	mrand "math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// recorder keeps latencies in microseconds.
type recorder struct {
	mu   sync.Mutex
	durs []int64
}

func (r *recorder) add(d time.Duration) {
	us := d.Microseconds()
	if us < 0 {
		us = 0
	}
	r.mu.Lock()
	r.durs = append(r.durs, us)
	r.mu.Unlock()
}

func (r *recorder) percentiles() (p50, p95, p99 time.Duration) {
	r.mu.Lock()
	d := make([]int64, len(r.durs))
	copy(d, r.durs)
	r.mu.Unlock()
	if len(d) == 0 {
		return 0, 0, 0
	}
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	at := func(p float64) time.Duration {
		i := min(max(int(float64(len(d)-1)*p), 0), len(d)-1)
		return time.Duration(d[i]) * time.Microsecond
	}
	return at(0.50), at(0.95), at(0.99)
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// submission mirrors the POST /api/reports body.
type submission struct {
	URL            string   `json:"url"`
	Title          string   `json:"title,omitempty"`
	Email          string   `json:"email"`
	PlatformID     int      `json:"platformId"`
	CategoryID     int      `json:"categoryId"`
	TurnstileToken string   `json:"turnstileToken"`
	SpamTrap       string   `json:"spamTrap,omitempty"`
	FormStartedAt  float64  `json:"formStartedAt"`
	ScreenshotURLs []string `json:"screenshotUrls,omitempty"`
}

func newSubmission(target string, seq int64, now time.Time, formAge time.Duration, token string, honeypot bool) submission {
	s := submission{
		URL:            target,
		Title:          fmt.Sprintf("bench report %d", seq),
		Email:          fmt.Sprintf("bench%05d@%s.example.com", seq%100000, randHex(2)),
		PlatformID:     1 + int(seq%3),
		CategoryID:     1 + int(seq%4),
		TurnstileToken: token,
		FormStartedAt:  float64(now.Add(-formAge).UnixMilli()),
	}
	if honeypot {
		s.SpamTrap = "https://spam.example.net"
	}
	return s
}

// spoofedIP returns the i-th address of a TEST-NET-3 style pool, or "" when
// the pool is disabled.
func spoofedIP(pool int, i int64) string {
	if pool <= 0 {
		return ""
	}
	n := i % int64(pool)
	return fmt.Sprintf("203.0.%d.%d", 113+n/250, 1+n%250)
}

// errorCode extracts error.code from an API error body.
func errorCode(r io.Reader) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil || body.Error.Code == "" {
		return "unknown"
	}
	return body.Error.Code
}

type options struct {
	endpoint    string
	duration    time.Duration
	warmup      time.Duration
	timeout     time.Duration
	concurrency int
	qps         int
	formAge     time.Duration
	token       string
	honeypot    float64
	ipPool      int
	reported    []string
}

type counter struct{ m sync.Map }

func (c *counter) inc(k any) {
	v, _ := c.m.LoadOrStore(k, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (c *counter) each(fn func(k any, n int64)) {
	c.m.Range(func(k, v any) bool {
		fn(k, v.(*atomic.Int64).Load())
		return true
	})
}

type stats struct {
	sent, created, httpErrors atomic.Int64
	netErrors, timeouts       atomic.Int64
	refused, otherNet, traps  atomic.Int64
	statuses, codes           counter
	latency                   recorder
}

func (s *stats) netError(err error) {
	s.netErrors.Add(1)
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout(), errors.Is(err, context.DeadlineExceeded):
		s.timeouts.Add(1)
	case strings.Contains(err.Error(), "connection refused"), strings.Contains(err.Error(), "No connection could be made"):
		s.refused.Add(1)
	default:
		s.otherNet.Add(1)
	}
}

func (s *stats) print(w io.Writer, o options, elapsed time.Duration) {
	p50, p95, p99 := s.latency.percentiles()
	fmt.Fprintln(w, "=== Submission Benchmark Summary ===")
	fmt.Fprintf(w, "Target:      %s\n", o.endpoint)
	fmt.Fprintf(w, "Duration:    %s (warmup %s)\n", elapsed.Truncate(time.Millisecond), o.warmup)
	fmt.Fprintf(w, "Workers:     %d\n", o.concurrency)
	if o.qps > 0 {
		fmt.Fprintf(w, "QPS cap:     %d\n", o.qps)
	}
	fmt.Fprintf(w, "Form age:    %s  ip pool: %d  honeypot: %d\n", o.formAge, o.ipPool, s.traps.Load())
	fmt.Fprintf(w, "Requests:    %d (created %d, http_error %d, net_error %d)\n", s.sent.Load(), s.created.Load(), s.httpErrors.Load(), s.netErrors.Load())
	fmt.Fprintf(w, "Throughput:  %.1f req/s\n", float64(s.sent.Load())/elapsed.Seconds())
	fmt.Fprintf(w, "Latency p50: %s  p95: %s  p99: %s\n", p50, p95, p99)
	fmt.Fprintln(w, "Status codes:")
	s.statuses.each(func(k any, n int64) { fmt.Fprintf(w, "  %d: %d\n", k.(int), n) })
	if s.httpErrors.Load() > 0 {
		fmt.Fprintln(w, "Error codes:")
		s.codes.each(func(k any, n int64) { fmt.Fprintf(w, "  %s: %d\n", k.(string), n) })
	}
	if s.netErrors.Load() > 0 {
		fmt.Fprintln(w, "Network errors:")
		fmt.Fprintf(w, "  timeouts: %d\n", s.timeouts.Load())
		fmt.Fprintf(w, "  refused:  %d\n", s.refused.Load())
		fmt.Fprintf(w, "  other:    %d\n", s.otherNet.Load())
	}
}

// submitOnce sends the seq-th submission and records its outcome.
func submitOnce(ctx context.Context, client *http.Client, o options, s *stats, worker int, seq int64, measure bool) error {
	trap := o.honeypot > 0 && mrand.Float64() < o.honeypot
	if trap {
		s.traps.Add(1)
	}
	body, err := json.Marshal(newSubmission(o.reported[seq%int64(len(o.reported))], seq, time.Now(), o.formAge, o.token, trap))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("fraud-intake-bench/%d", worker))
	if ip := spoofedIP(o.ipPool, seq); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if measure {
		s.latency.add(time.Since(start))
	}
	if err != nil {
		if ctx.Err() == nil {
			s.netError(err)
		}
		return nil
	}
	defer resp.Body.Close()
	s.statuses.inc(resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.created.Add(1)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	s.httpErrors.Add(1)
	s.codes.inc(errorCode(resp.Body))
	return nil
}

func run(ctx context.Context, client *http.Client, o options) *stats {
	s := &stats{}
	warmupUntil := time.Now().Add(o.warmup)

	var tick <-chan time.Time
	if o.qps > 0 {
		t := time.NewTicker(time.Second / time.Duration(o.qps))
		defer t.Stop()
		tick = t.C
	}

	var wg sync.WaitGroup
	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for ctx.Err() == nil {
				if tick != nil {
					select {
					case <-tick:
					case <-ctx.Done():
						return
					}
				}
				seq := s.sent.Add(1)
				if err := submitOnce(ctx, client, o, s, worker, seq, time.Now().After(warmupUntil)); err != nil {
					fmt.Fprintln(os.Stderr, "build request:", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	return s
}

func loadTargets(path string) ([]string, error) {
	var out []string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				out = append(out, line)
			}
		}
	}
	if len(out) == 0 {
		// .invalid never resolves so previews fail fast
		for i := 0; i < 1000; i++ {
			out = append(out, fmt.Sprintf("https://shop-%03d-%s.invalid/deal", i, randHex(3)))
		}
	}
	return out, nil
}

func fail(msg ...any) {
	fmt.Fprintln(os.Stderr, msg...)
	os.Exit(1)
}

func main() {
	var o options
	flag.StringVar(&o.endpoint, "url", "http://127.0.0.1:8080/api/reports", "Submission endpoint (POST)")
	flag.DurationVar(&o.duration, "duration", 10*time.Second, "Test duration")
	flag.IntVar(&o.concurrency, "c", runtime.NumCPU(), "Number of concurrent workers")
	flag.IntVar(&o.qps, "qps", 0, "Global approximate submissions per second (0 = max possible)")
	flag.DurationVar(&o.warmup, "warmup", 0, "Optional warmup period (excluded from latency stats)")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "Per request timeout")
	flag.DurationVar(&o.formAge, "form-age", 10*time.Second, "Declared form fill time; below the server minimum yields too_fast")
	flag.StringVar(&o.token, "token", "bench-token", "Challenge token sent with every submission")
	flag.Float64Var(&o.honeypot, "honeypot", 0, "Fraction of submissions that fill the spam trap (0..1)")
	flag.IntVar(&o.ipPool, "ips", 0, "Spoofed X-Forwarded-For pool size (0 = send none)")
	targetsFile := flag.String("targets", "", "Optional file with newline-separated reported URLs")
	allowHTTP := flag.Bool("allow-http", true, "Allow plain HTTP (set false to require https)")
	flag.Parse()

	if u, err := url.Parse(o.endpoint); err != nil || u.Host == "" {
		fail("invalid url:", o.endpoint)
	}
	if !*allowHTTP && !strings.HasPrefix(o.endpoint, "https://") {
		fail("refusing non-https target (use -allow-http=true to override)")
	}
	if o.honeypot < 0 || o.honeypot > 1 {
		fail("-honeypot must be between 0 and 1")
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	reported, err := loadTargets(*targetsFile)
	if err != nil {
		fail("read targets file:", err)
	}
	o.reported = reported

	client := &http.Client{
		Timeout: o.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10000,
			MaxIdleConnsPerHost: 10000,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   2 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	start := time.Now()
	ctx, cancel := context.WithDeadline(context.Background(), start.Add(o.duration))
	defer cancel()
	s := run(ctx, client, o)
	s.print(os.Stdout, o, time.Since(start))
}
