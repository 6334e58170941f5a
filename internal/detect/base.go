// Package detect implements the four statistical intrusion-detection
// heuristics: ICMP flood, SSH brute-force, ARP spoofing, and TCP/UDP port
// scanning. Each detector is a small struct holding a handle to the alert
// sink and the live threshold store — the struct-not-inheritance
// substitute for the Python prototype's centralized_detector base class,
// which every detector there subclasses purely to call self.alert(...).
package detect

import (
	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/config"
)

// Sink is the minimal alert/metric-publishing capability every detector
// needs; internal/alert.Store satisfies it.
type Sink interface {
	PushAlert(a alert.Alert)
	PushMetric(m alert.MetricSample)
}

// base is embedded by every concrete detector. It is not exported; callers
// construct detectors via each package-level New function.
type base struct {
	sink       Sink
	clock      clock.Clock
	thresholds *config.ThresholdStore
}

func newBase(sink Sink, c clock.Clock, thresholds *config.ThresholdStore) base {
	return base{sink: sink, clock: c, thresholds: thresholds}
}
