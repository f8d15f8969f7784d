package smoothing

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/lyrapointer/internal/detector"
)

// Bank holds one One-Euro filter per landmark coordinate of a tracked hand.
// It belongs to a single session and is not safe for concurrent use.
type Bank struct {
	params  Params
	filters [detector.NumLandmarks][3]OneEuro
}

// NewBank creates a filter bank for one hand.
func NewBank(p Params) *Bank {
	b := &Bank{}
	b.SetParams(p)
	return b
}

// Filter returns a smoothed copy of raw. raw itself is not modified.
func (b *Bank) Filter(raw detector.HandFrame) detector.HandFrame {
	out := raw
	ts := raw.Timestamp
	for i := range raw.Points {
		ch := &b.filters[i]
		out.Points[i] = detector.Point3D{
			X: ch[0].Filter(raw.Points[i].X, ts),
			Y: ch[1].Filter(raw.Points[i].Y, ts),
			Z: ch[2].Filter(raw.Points[i].Z, ts),
		}
	}
	return out
}

// Params returns the current filter parameters.
func (b *Bank) Params() Params {
	return b.params
}

// SetParams updates every channel. Filter state is kept.
func (b *Bank) SetParams(p Params) {
	b.params = p
	for i := range b.filters {
		for c := range b.filters[i] {
			b.filters[i][c].SetParams(p)
		}
	}
}

// Reset clears every channel.
func (b *Bank) Reset() {
	for i := range b.filters {
		for c := range b.filters[i] {
			b.filters[i][c].Reset()
		}
	}
}

// JitterReport compares raw and smoothed cursor variance over a window.
type JitterReport struct {
	Samples          int     `json:"samples"`
	RawVariance      float64 `json:"raw_variance"`
	FilteredVariance float64 `json:"filtered_variance"`
	// Reduction is 1 - filtered/raw, or 0 when there is no raw variance.
	Reduction float64 `json:"reduction"`
}

// JitterMonitor keeps a window of raw and smoothed index tip positions.
type JitterMonitor struct {
	mu       sync.Mutex
	size     int
	raw      []float64
	filtered []float64
	next     int
	full     bool
}

// NewJitterMonitor creates a monitor over the last size samples.
func NewJitterMonitor(size int) *JitterMonitor {
	if size < 2 {
		size = 2
	}
	return &JitterMonitor{
		size:     size,
		raw:      make([]float64, size),
		filtered: make([]float64, size),
	}
}

// Observe records the index tip x coordinate of a raw frame and its smoothed copy.
func (m *JitterMonitor) Observe(raw, smoothed detector.HandFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.raw[m.next] = raw.Points[detector.IndexTip].X
	m.filtered[m.next] = smoothed.Points[detector.IndexTip].X
	m.next = (m.next + 1) % m.size
	if m.next == 0 {
		m.full = true
	}
}

// Report computes the variances of the current window.
func (m *JitterMonitor) Report() JitterReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = m.size
	}
	if n < 2 {
		return JitterReport{Samples: n}
	}

	r := JitterReport{
		Samples:          n,
		RawVariance:      stat.Variance(m.raw[:n], nil),
		FilteredVariance: stat.Variance(m.filtered[:n], nil),
	}
	if r.RawVariance > 0 {
		r.Reduction = 1 - r.FilteredVariance/r.RawVariance
	}
	return r
}
