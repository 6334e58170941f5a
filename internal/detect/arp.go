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

// ARP detects ARP spoofing: an IP address whose sender MAC changes at
// least a threshold number of times within a window, suggesting an attacker
// is impersonating a device on the local network.
type ARP struct {
	base

	windowSeconds float64

	mu          sync.Mutex
	knownMACs   map[string]map[string]struct{}
	changeTimes map[string]*slidingwindow.Window
}

// NewARP returns an ARP detector using windowSeconds as the MAC-change
// sliding-window length.
func NewARP(sink Sink, c clock.Clock, thresholds *config.ThresholdStore, windowSeconds float64) *ARP {
	return &ARP{
		base:          newBase(sink, c, thresholds),
		windowSeconds: windowSeconds,
		knownMACs:     make(map[string]map[string]struct{}),
		changeTimes:   make(map[string]*slidingwindow.Window),
	}
}

// Accept implements capture.Sink.
func (d *ARP) Accept(p capture.Packet) {
	if p.EtherType != 0x0806 || p.ARPSenderIP == nil || p.ARPSenderMAC == nil {
		return
	}

	ip := p.ARPSenderIP.String()
	mac := p.ARPSenderMAC.String()
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	macs, seen := d.knownMACs[ip]
	if !seen {
		macs = make(map[string]struct{})
		d.knownMACs[ip] = macs
	}

	w, ok := d.changeTimes[ip]
	if !ok {
		w = &slidingwindow.Window{}
		d.changeTimes[ip] = w
	}

	if seen && len(macs) > 0 {
		if _, known := macs[mac]; !known {
			w.Add(now)
		}
	}
	macs[mac] = struct{}{}

	w.Prune(now, d.windowSeconds)
	count := w.Len()

	threshold := d.thresholds.Get("arp")
	if threshold <= 0 || count < threshold {
		return
	}

	knownList := make([]string, 0, len(macs))
	for m := range macs {
		knownList = append(knownList, m)
	}

	d.sink.PushAlert(alert.Alert{
		Timestamp: now,
		Severity:  alert.SeverityHigh,
		Detector:  alert.DetectorARPSpoof,
		Message: fmt.Sprintf(
			"ARP spoofing detected! IP %s has been associated with %d different MAC addresses in %v seconds. Current MAC: %s, All MACs seen: %v",
			ip, count, d.windowSeconds, mac, knownList,
		),
		Fields: map[string]any{
			"ip":             ip,
			"mac":            mac,
			"known_macs":     knownList,
			"mac_changes":    count,
			"window_seconds": d.windowSeconds,
			"threshold":      threshold,
		},
	})
	w.Clear()
}

// Sweep discards per-IP state for IPs with no recent MAC changes.
func (d *ARP) Sweep() {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for ip, w := range d.changeTimes {
		w.Prune(now, d.windowSeconds)
		if w.Empty() {
			delete(d.changeTimes, ip)
			delete(d.knownMACs, ip)
		}
	}
}
