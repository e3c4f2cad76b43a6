package app

import (
	"sync"
	"time"
)

// ProgressReporter coalesces progress values and writes at most one per interval.
// The first value is written immediately and Close flushes the latest pending one.
// Report never blocks; a newer value replaces an unwritten older one.
type ProgressReporter struct {
	updates  chan float64
	write    func(float64)
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

// NewProgressReporter start the writer goroutine
func NewProgressReporter(interval time.Duration, write func(float64)) *ProgressReporter {
	return newProgressReporter(interval, write, time.Now)
}

func newProgressReporter(interval time.Duration, write func(float64), now func() time.Time) *ProgressReporter {
	if interval <= 0 {
		interval = time.Second
	}
	r := &ProgressReporter{
		updates:  make(chan float64, 1),
		write:    write,
		interval: interval,
		now:      now,
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

// Report queue p, replacing any value the writer has not picked up yet.
// Must not be called after Close.
func (r *ProgressReporter) Report(p float64) {
	for {
		select {
		case r.updates <- p:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// Close flush and stop the writer, safe to call twice
func (r *ProgressReporter) Close() {
	r.once.Do(func() { close(r.updates) })
	<-r.done
}

func (r *ProgressReporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		pending float64
		has     bool
		last    time.Time
	)
	flush := func() {
		if has {
			r.write(pending)
			has = false
			last = r.now()
		}
	}

	for {
		select {
		case p, ok := <-r.updates:
			if !ok {
				flush()
				return
			}
			pending, has = p, true
			if last.IsZero() || r.now().Sub(last) >= r.interval {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// progressTracker keeps reported job progress non-decreasing, across retries too
type progressTracker struct {
	mu   sync.Mutex
	last float64
}

// next clamp p to [last, 100] and remember it
func (t *progressTracker) next(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p > 100 {
		p = 100
	}
	if p < t.last {
		p = t.last
	}
	t.last = p
	return p
}

func (t *progressTracker) current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
