package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMeterWindow is the window over which actual throughput is measured.
const DefaultMeterWindow = 30 * time.Second

// Meter tracks successful calls and reports the achieved rate over a sliding window.
type Meter struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
	now    func() time.Time
	gauge  prometheus.Gauge
}

// NewMeter creates a meter. window <= 0 uses DefaultMeterWindow.
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = DefaultMeterWindow
	}
	return &Meter{window: window, now: time.Now}
}

// WithGauge mirrors the measured rate into a Prometheus gauge.
func (m *Meter) WithGauge(g prometheus.Gauge) *Meter {
	m.gauge = g
	return m
}

// RecordSuccess registers one successful call.
func (m *Meter) RecordSuccess() {
	m.mu.Lock()
	now := m.now()
	m.times = append(m.times, now)
	m.pruneLocked(now)
	rate := m.rateLocked()
	m.mu.Unlock()

	if m.gauge != nil {
		m.gauge.Set(rate)
	}
}

// Rate returns successful calls per second over the window.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	return m.rateLocked()
}

func (m *Meter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(m.times) && now.Sub(m.times[cut]) > m.window {
		cut++
	}
	if cut > 0 {
		m.times = append(m.times[:0], m.times[cut:]...)
	}
}

func (m *Meter) rateLocked() float64 {
	return float64(len(m.times)) / m.window.Seconds()
}
