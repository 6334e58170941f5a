// Package alert implements the bounded in-memory alert/metric history and
// the best-effort push-broadcast fan-out to live subscribers.
package alert

import "encoding/json"

// Alert is an immutable security event produced by a detector. Fields holds
// the detector-specific payload (source IP, counts, rates, affected MACs,
// reasons, etc.); MarshalJSON flattens it to top-level siblings of the
// common fields so the wire shape matches
// {timestamp, severity, detector, message, ...fields}.
type Alert struct {
	Timestamp float64
	Severity  string
	Detector  string
	Message   string
	Fields    map[string]any
}

// MarshalJSON implements json.Marshaler, flattening Fields into the
// top-level object alongside the common fields.
func (a Alert) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+4)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["timestamp"] = a.Timestamp
	out["severity"] = a.Severity
	out["detector"] = a.Detector
	out["message"] = a.Message
	return json.Marshal(out)
}

// Canonical metric names, wire-stable.
const (
	MetricICMPPacketsPerSecond    = "icmp_packets_per_second"
	MetricSSHAttemptsPerSecond    = "ssh_attempts_per_second"
	MetricARPSpoofingPerSecond    = "arp_spoofing_attempts_per_second"
	MetricPortscanAttemptsPerSec  = "portscan_attempts_per_second"
)

// MetricSample is an immutable {timestamp, metric, value} record.
type MetricSample struct {
	Timestamp float64 `json:"timestamp"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
}

// Severity levels, wire-stable strings.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Detector kind names, wire-stable strings.
const (
	DetectorICMPFlood     = "icmp_flood"
	DetectorSSHBruteforce = "ssh_bruteforce"
	DetectorARPSpoof      = "arp_spoof"
	DetectorPortScan      = "port_scan"
)
