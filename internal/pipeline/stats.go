package pipeline

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/smoothing"
)

// latencyWindow is the number of per-frame processing times kept.
const latencyWindow = 256

// LatencyStats summarizes per-frame processing time in milliseconds.
type LatencyStats struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	StdDev  float64 `json:"std_dev_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// Stats is a point-in-time view of the runner.
type Stats struct {
	State           string `json:"state"`
	Session         string `json:"session,omitempty"`
	Paused          bool   `json:"paused"`
	SettingsVersion uint64 `json:"settings_version"`

	Frames        uint64 `json:"frames"`
	Processed     uint64 `json:"processed"`
	Discarded     uint64 `json:"discarded"`
	LowConfidence uint64 `json:"low_confidence"`
	Misses        uint64 `json:"misses"`
	Sessions      uint64 `json:"sessions"`

	Mailbox  MailboxStats           `json:"mailbox"`
	Dispatch dispatch.Stats         `json:"dispatch"`
	Latency  LatencyStats           `json:"latency"`
	Jitter   smoothing.JitterReport `json:"jitter"`
}

// latencies keeps a ring of recent processing times.
type latencies struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func newLatencies(size int) *latencies {
	return &latencies{samples: make([]float64, size)}
}

func (l *latencies) observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[l.next] = float64(d) / float64(time.Millisecond)
	l.next = (l.next + 1) % len(l.samples)
	if l.next == 0 {
		l.full = true
	}
}

func (l *latencies) report() LatencyStats {
	l.mu.Lock()
	n := l.next
	if l.full {
		n = len(l.samples)
	}
	xs := append([]float64(nil), l.samples[:n]...)
	l.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Float64s(xs)
	mean, std := stat.MeanStdDev(xs, nil)
	if n == 1 {
		std = 0
	}
	return LatencyStats{
		Samples: n,
		MeanMs:  mean,
		StdDev:  std,
		P95Ms:   stat.Quantile(0.95, stat.Empirical, xs, nil),
		MaxMs:   xs[n-1],
	}
}
