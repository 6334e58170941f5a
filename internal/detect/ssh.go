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

const (
	sshWindowSeconds = 60
	sshAlertCooldown = 300
)

// SSH detects SSH brute-force attempts: an unusually high rate of SYN
// packets to TCP port 22 from one source, rate-limited by a per-source
// cooldown so a sustained attack does not compound alerts.
type SSH struct {
	base

	whitelist *Whitelist

	mu                  sync.Mutex
	bySource            map[string]*slidingwindow.Window
	lastAlertAt         map[string]float64
	lastMetricPublishAt float64
}

// NewSSH returns an SSH detector. whitelistIPs lists source addresses to
// ignore outright.
func NewSSH(sink Sink, c clock.Clock, thresholds *config.ThresholdStore, whitelistIPs []string) *SSH {
	return &SSH{
		base:        newBase(sink, c, thresholds),
		whitelist:   NewWhitelist(whitelistIPs),
		bySource:    make(map[string]*slidingwindow.Window),
		lastAlertAt: make(map[string]float64),
	}
}

// Accept implements capture.Sink. Only IPv4 TCP SYN (no ACK) packets to
// destination port 22 are considered; everything else is ignored.
func (d *SSH) Accept(p capture.Packet) {
	if p.Transport != capture.TransportTCP || p.SrcIP == nil || p.SrcIP.To4() == nil {
		return
	}
	if p.TCPDstPort != 22 {
		return
	}
	if !p.TCPFlags.Has(capture.TCPFlagSYN) || p.TCPFlags.Has(capture.TCPFlagACK) {
		return
	}

	src := p.SrcIP.String()
	if d.whitelist.Contains(p.SrcIP) {
		return
	}

	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.bySource[src]
	if !ok {
		w = &slidingwindow.Window{}
		d.bySource[src] = w
	}
	w.Add(now)
	w.Prune(now, sshWindowSeconds)

	if now-d.lastMetricPublishAt >= 1.0 {
		total := 0
		for _, ww := range d.bySource {
			total += ww.Len()
		}
		d.sink.PushMetric(alert.MetricSample{
			Timestamp: now,
			Metric:    alert.MetricSSHAttemptsPerSecond,
			Value:     float64(total) / sshWindowSeconds,
		})
		d.lastMetricPublishAt = now
	}

	count := w.Len()
	threshold := d.thresholds.Get("ssh")
	if threshold <= 0 || count < threshold {
		return
	}

	if lastAlert, alerted := d.lastAlertAt[src]; alerted && now-lastAlert < sshAlertCooldown {
		// Threshold reached but cooldown has not elapsed: clear without
		// alerting, to prevent compounding.
		w.Clear()
		return
	}

	d.lastAlertAt[src] = now
	d.sink.PushAlert(alert.Alert{
		Timestamp: now,
		Severity:  alert.SeverityHigh,
		Detector:  alert.DetectorSSHBruteforce,
		Message:   fmt.Sprintf("Repeated SSH login attempts detected from %s (%d in %ds)", src, count, sshWindowSeconds),
		Fields: map[string]any{
			"src": src,
		},
	})
	w.Clear()
}

// Sweep discards per-source state for sources with no recent attempts and
// no outstanding cooldown.
func (d *SSH) Sweep() {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for src, w := range d.bySource {
		w.Prune(now, sshWindowSeconds)
		if !w.Empty() {
			continue
		}
		if now-d.lastAlertAt[src] < sshAlertCooldown {
			continue
		}
		delete(d.bySource, src)
		delete(d.lastAlertAt, src)
	}
}
