package rest

import (
	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/config"
)

// Store is the subset of internal/alert.Store used by the REST handlers.
// Defining an interface lets handlers be tested without a live capture
// pipeline.
type Store interface {
	GetAlerts(limit int) []alert.Alert
	GetMetrics(metric string, sinceSeconds float64) []alert.MetricSample
}

// metricByDetectorName maps the wire-stable detector name used in the
// /api/stats/{name} path to the metric name recorded by that detector.
var metricByDetectorName = map[string]string{
	"icmp":     alert.MetricICMPPacketsPerSecond,
	"ssh":      alert.MetricSSHAttemptsPerSecond,
	"arp":      alert.MetricARPSpoofingPerSecond,
	"portscan": alert.MetricPortscanAttemptsPerSec,
}

// thresholds and email are the runtime-mutable stores the set_threshold and
// set_email handlers write to.
type thresholds interface {
	Get(name string) int
	Set(name string, value int) error
	Snapshot() map[string]int
}

type emailSlot interface {
	Get() string
	Set(addr string)
}

var (
	_ thresholds = (*config.ThresholdStore)(nil)
	_ emailSlot  = (*config.EmailSlot)(nil)
)
