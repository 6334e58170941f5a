package detect

import (
	"fmt"
	"sync"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/capture"
	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/config"
	"github.com/netsentinel/ids/internal/slidingwindow"
)

// ICMP detects ICMP floods: an unusually high rate of ICMP echo
// request/reply packets arriving from one or more sources.
type ICMP struct {
	base

	windowSeconds float64

	mu                  sync.Mutex
	bySource            map[string]*slidingwindow.Window
	lastMetricPublishAt float64
}

// NewICMP returns an ICMP detector using windowSeconds as the per-source
// sliding-window length.
func NewICMP(sink Sink, c clock.Clock, thresholds *config.ThresholdStore, windowSeconds float64) *ICMP {
	return &ICMP{
		base:          newBase(sink, c, thresholds),
		windowSeconds: windowSeconds,
		bySource:      make(map[string]*slidingwindow.Window),
	}
}

// Accept implements capture.Sink.
func (d *ICMP) Accept(p capture.Packet) {
	isICMPEcho := (p.Transport == capture.TransportICMP && (p.ICMPType == 0 || p.ICMPType == 8)) ||
		(p.Transport == capture.TransportICMPv6 && (p.ICMPType == 128 || p.ICMPType == 129))
	if !isICMPEcho || p.SrcIP == nil {
		return
	}

	now := d.clock.Now()
	src := p.SrcIP.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.bySource[src]
	if !ok {
		w = &slidingwindow.Window{}
		d.bySource[src] = w
	}
	w.Add(now)
	w.Prune(now, d.windowSeconds)

	pps := d.countAllSince(now - 1.0)

	if now-d.lastMetricPublishAt >= 1.0 {
		d.sink.PushMetric(alert.MetricSample{
			Timestamp: now,
			Metric:    alert.MetricICMPPacketsPerSecond,
			Value:     float64(pps),
		})
		d.lastMetricPublishAt = now
	}

	threshold := d.thresholds.Get("icmp")
	if threshold > 0 && pps >= threshold {
		d.sink.PushAlert(alert.Alert{
			Timestamp: now,
			Severity:  alert.SeverityHigh,
			Detector:  alert.DetectorICMPFlood,
			Message:   fmt.Sprintf("ICMP flood detected from %s: %d packets/sec", src, pps),
			Fields: map[string]any{
				"src": src,
				"pps": pps,
			},
		})
		w.Clear()
	}
}

// countAllSince must be called with mu held. It sums, across every known
// source, the number of retained timestamps at or after since.
func (d *ICMP) countAllSince(since float64) int {
	total := 0
	for _, w := range d.bySource {
		total += w.CountSince(since)
	}
	return total
}

// Sweep discards per-source windows that are currently empty, bounding
// memory growth for long-running deployments (design note "Per-source
// state growth").
func (d *ICMP) Sweep() {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for src, w := range d.bySource {
		w.Prune(now, d.windowSeconds)
		if w.Empty() {
			delete(d.bySource, src)
		}
	}
}
