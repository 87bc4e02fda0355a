package ndt

import (
	"sync"
	"time"

	"despeed/internal/domain"
)

// meter accumulates transferred bytes from the moment the connection was established.
type meter struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	total uint64
	rate  float64
}

func newMeter(now func() time.Time) *meter {
	m := &meter{now: now}
	m.reset()
	return m
}

func (m *meter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.start = m.now()
	m.total = 0
	m.rate = 0
}

// add records n bytes and returns the elapsed time since reset.
func (m *meter) add(n int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total += uint64(n)
	return m.now().Sub(m.start)
}

func (m *meter) elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now().Sub(m.start)
}

// finish computes and stores the rate at the current instant.
func (m *meter) finish() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rate = domain.MegabitsPerSecond(m.total, m.now().Sub(m.start))
	return m.rate
}

// last is the most recently computed rate, 0 when finish was never called.
func (m *meter) last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rate
}

// closeRate is the rate to report when the peer closed: the computed rate if any, else
// a rate derived from the bytes counted so far.
func (m *meter) closeRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rate == 0 && m.total > 0 {
		m.rate = domain.MegabitsPerSecond(m.total, m.now().Sub(m.start))
	}
	return m.rate
}

func (m *meter) sample() domain.SpeedSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	return domain.SpeedSample{TotalBytes: m.total, Elapsed: m.now().Sub(m.start)}
}

// result is resolved by the first terminal event of a test; later events are ignored.
type result struct {
	once sync.Once
	done chan struct{}
	mbps float64
}

func newResult() *result {
	return &result{done: make(chan struct{})}
}

func (r *result) resolve(mbps float64) {
	r.once.Do(func() {
		r.mbps = mbps
		close(r.done)
	})
}

func (r *result) value() float64 {
	<-r.done
	return r.mbps
}
