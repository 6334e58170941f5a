package detect

import (
	"fmt"
	"strings"
	"sync"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/capture"
	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/config"
	"github.com/netsentinel/ids/internal/slidingwindow"
)

// PortScanConfig holds the tunables of the port-scan detector, all sourced
// from config.Config.
type PortScanConfig struct {
	FastWindowSeconds  float64
	SlowWindowSeconds  float64
	SlowDecay          float64
	MinUniquePortsFast int
	MinUniquePortsSlow int
	MinUniqueHostsFast int
	MinSynsFast        int
	MaxSynToSynAck     float64
	EnableUDP          bool
	MinUDPProbesFast   int
	MinICMPRatio       float64
	WhitelistCIDRs     []string
}

// events is the per-IP fast-window timestamp state. It is shared by both
// "directions": syn/rst/udp entries are appended under the packet's
// source IP; synack/icmp-unreachable entries are appended under the
// packet's destination IP (the treated-as-initiator address).
type events struct {
	synTimes         slidingwindow.Window
	synAckTimes      slidingwindow.Window
	rstTimes         slidingwindow.Window
	udpTimes         slidingwindow.Window
	icmpUnreachTimes slidingwindow.Window
}

// slowCounts is the per-IP exponentially-decayed longer-horizon state.
type slowCounts struct {
	uniquePorts map[string]map[uint16]struct{} // dst IP -> dst ports
	uniqueHosts map[string]struct{}
	syn         float64
	synack      float64
	udp         float64
	icmpUnreach float64
}

// PortScan is the port-scan / host-sweep detector: the most complex of the
// four, maintaining a fast precise window and a slow decayed counter set
// per source IP, and firing five independent heuristic rules.
type PortScan struct {
	base
	cfg       PortScanConfig
	whitelist *Whitelist

	mu              sync.Mutex
	ev              map[string]*events
	uniquePortsFast map[string]map[string]map[uint16]struct{} // src -> dst -> ports
	uniqueHostsFast map[string]map[string]struct{}            // src -> dst set
	slow            map[string]*slowCounts
}

// NewPortScan returns a PortScan detector configured per cfg.
func NewPortScan(sink Sink, c clock.Clock, thresholds *config.ThresholdStore, cfg PortScanConfig) *PortScan {
	return &PortScan{
		base:            newBase(sink, c, thresholds),
		cfg:             cfg,
		whitelist:       NewWhitelist(cfg.WhitelistCIDRs),
		ev:              make(map[string]*events),
		uniquePortsFast: make(map[string]map[string]map[uint16]struct{}),
		uniqueHostsFast: make(map[string]map[string]struct{}),
		slow:            make(map[string]*slowCounts),
	}
}

func (d *PortScan) eventsFor(ip string) *events {
	e, ok := d.ev[ip]
	if !ok {
		e = &events{}
		d.ev[ip] = e
	}
	return e
}

func (d *PortScan) slowFor(ip string) *slowCounts {
	s, ok := d.slow[ip]
	if !ok {
		s = &slowCounts{
			uniquePorts: make(map[string]map[uint16]struct{}),
			uniqueHosts: make(map[string]struct{}),
		}
		d.slow[ip] = s
	}
	return s
}

func addUniquePort(m map[string]map[string]map[uint16]struct{}, src, dst string, port uint16) {
	perDst, ok := m[src]
	if !ok {
		perDst = make(map[string]map[uint16]struct{})
		m[src] = perDst
	}
	ports, ok := perDst[dst]
	if !ok {
		ports = make(map[uint16]struct{})
		perDst[dst] = ports
	}
	ports[port] = struct{}{}
}

func addUniqueHost(m map[string]map[string]struct{}, src, dst string) {
	hosts, ok := m[src]
	if !ok {
		hosts = make(map[string]struct{})
		m[src] = hosts
	}
	hosts[dst] = struct{}{}
}

func countUniquePorts(perDst map[string]map[uint16]struct{}) int {
	total := 0
	for _, ports := range perDst {
		total += len(ports)
	}
	return total
}

// Accept implements capture.Sink. Only IP-bearing packets are processed.
func (d *PortScan) Accept(p capture.Packet) {
	if p.SrcIP == nil || p.DstIP == nil {
		return
	}
	src := p.SrcIP.String()
	dst := p.DstIP.String()

	if d.whitelist.Contains(p.SrcIP) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Slow-window decay is applied once per packet, to the packet's own
	// source only — this is deliberate, preserved behavior (see
	// DESIGN.md): it biases decayed counters toward high-traffic sources.
	sc := d.slowFor(src)
	sc.syn *= d.cfg.SlowDecay
	sc.synack *= d.cfg.SlowDecay
	sc.udp *= d.cfg.SlowDecay
	sc.icmpUnreach *= d.cfg.SlowDecay

	now := d.clock.Now()

	if p.Transport == capture.TransportTCP {
		flags := p.TCPFlags

		// Outbound SYN without ACK: start of a connection attempt.
		if flags.Has(capture.TCPFlagSYN) && !flags.Has(capture.TCPFlagACK) {
			d.eventsFor(src).synTimes.Add(now)
			addUniquePort(d.uniquePortsFast, src, dst, p.TCPDstPort)
			addUniqueHost(d.uniqueHostsFast, src, dst)
			sc.uniquePorts[dst] = mergePort(sc.uniquePorts[dst], p.TCPDstPort)
			sc.uniqueHosts[dst] = struct{}{}
			sc.syn++
		}

		// Any outbound TCP with SYN, RST, FIN, or ACK set: captures probes
		// observed only via RST/FIN, at the cost of re-touching the
		// uniqueness sets SYN packets already touched above.
		if flags.Has(capture.TCPFlagSYN) || flags.Has(capture.TCPFlagRST) || flags.Has(capture.TCPFlagFIN) || flags.Has(capture.TCPFlagACK) {
			addUniquePort(d.uniquePortsFast, src, dst, p.TCPDstPort)
			addUniqueHost(d.uniqueHostsFast, src, dst)
			sc.uniquePorts[dst] = mergePort(sc.uniquePorts[dst], p.TCPDstPort)
			sc.uniqueHosts[dst] = struct{}{}
		}

		// Inbound SYN-ACK: credited to the packet's destination, treated
		// as the original initiator of the handshake.
		if flags.Has(capture.TCPFlagSYN) && flags.Has(capture.TCPFlagACK) {
			initiator := dst
			d.eventsFor(initiator).synAckTimes.Add(now)
			d.slowFor(initiator).synack++
		}

		if flags.Has(capture.TCPFlagRST) {
			d.eventsFor(src).rstTimes.Add(now)
		}
	}

	if d.cfg.EnableUDP && p.Transport == capture.TransportUDP {
		d.eventsFor(src).udpTimes.Add(now)
		addUniquePort(d.uniquePortsFast, src, dst, p.UDPDstPort)
		addUniqueHost(d.uniqueHostsFast, src, dst)
		sc.uniquePorts[dst] = mergePort(sc.uniquePorts[dst], p.UDPDstPort)
		sc.uniqueHosts[dst] = struct{}{}
		sc.udp++
	}

	if d.cfg.EnableUDP && p.Transport == capture.TransportICMP && p.ICMPType == 3 && p.ICMPCode == 3 {
		initiator := dst
		d.eventsFor(initiator).icmpUnreachTimes.Add(now)
		d.slowFor(initiator).icmpUnreach++
	}

	ev := d.eventsFor(src)
	ev.synTimes.Prune(now, d.cfg.FastWindowSeconds)
	ev.synAckTimes.Prune(now, d.cfg.FastWindowSeconds)
	ev.rstTimes.Prune(now, d.cfg.FastWindowSeconds)
	if d.cfg.EnableUDP {
		ev.udpTimes.Prune(now, d.cfg.FastWindowSeconds)
		ev.icmpUnreachTimes.Prune(now, d.cfg.FastWindowSeconds)
	}
	// Uniqueness sets are not pruned per packet: this mirrors the source's
	// placeholder _prune_fast_uniques, which is a deliberate no-op. Only
	// Sweep discards a source's fast uniqueness sets, once all of its
	// fast-window sequences are empty.

	d.evaluate(now, src, ev, sc)
}

func mergePort(set map[uint16]struct{}, port uint16) map[uint16]struct{} {
	if set == nil {
		set = make(map[uint16]struct{})
	}
	set[port] = struct{}{}
	return set
}

func (d *PortScan) evaluate(now float64, src string, ev *events, sc *slowCounts) {
	synFast := ev.synTimes.Len()
	synackFast := ev.synAckTimes.Len()
	udpFast := 0
	if d.cfg.EnableUDP {
		udpFast = ev.udpTimes.Len()
	}

	uniquePortsFast := countUniquePorts(d.uniquePortsFast[src])
	uniqueHostsFast := len(d.uniqueHostsFast[src])

	synToSynAck := 0.0
	if synFast > 0 {
		synToSynAck = float64(synFast) / maxFloat(1, float64(synackFast))
	}

	uniquePortsSlow := countUniquePorts(sc.uniquePorts)
	uniqueHostsSlow := len(sc.uniqueHosts)
	synRatioSlow := 0.0
	if sc.syn > 0 {
		synRatioSlow = sc.syn / maxFloat(1, sc.synack)
	}
	udpICMPRatio := 0.0
	if sc.udp > 0 {
		udpICMPRatio = sc.icmpUnreach / maxFloat(1, sc.udp)
	}

	var reasons []string

	if uniquePortsFast >= d.cfg.MinUniquePortsFast && synToSynAck >= d.cfg.MaxSynToSynAck {
		reasons = append(reasons, fmt.Sprintf("FAST_TCP: %d unique ports, SYN:SYN-ACK=%.1f", uniquePortsFast, synToSynAck))
	}
	if uniquePortsFast >= d.cfg.MinUniquePortsFast && synFast >= d.cfg.MinSynsFast {
		reasons = append(reasons, fmt.Sprintf("FAST_TCP_PROBING: %d unique ports, SYNs=%d", uniquePortsFast, synFast))
	}
	if uniqueHostsFast >= d.cfg.MinUniqueHostsFast && synFast >= d.cfg.MinSynsFast && synToSynAck >= d.cfg.MaxSynToSynAck {
		reasons = append(reasons, fmt.Sprintf("FAST_HOST_SWEEP: %d unique hosts, SYNs=%d, SYN:SYN-ACK=%.1f", uniqueHostsFast, synFast, synToSynAck))
	}
	if uniquePortsSlow >= d.cfg.MinUniquePortsSlow && synRatioSlow >= d.cfg.MaxSynToSynAck {
		reasons = append(reasons, fmt.Sprintf("SLOW_TCP: %d unique ports (slow window), SYN:SYN-ACK=%.1f", uniquePortsSlow, synRatioSlow))
	}
	if d.cfg.EnableUDP && udpFast >= d.cfg.MinUDPProbesFast && udpICMPRatio >= d.cfg.MinICMPRatio {
		reasons = append(reasons, fmt.Sprintf("UDP_SCAN: udp_fast=%d, udp_slow=%.1f, icmp_slow=%.1f, udp_icmp_ratio=%.2f", udpFast, sc.udp, sc.icmpUnreach, udpICMPRatio))
	}

	if len(reasons) == 0 {
		return
	}

	fastMetrics := map[string]any{
		"unique_ports":  uniquePortsFast,
		"unique_hosts":  uniqueHostsFast,
		"syn":           synFast,
		"synack":        synackFast,
		"syn_to_synack": round(synToSynAck, 2),
		"udp":           udpFast,
	}
	slowMetrics := map[string]any{
		"unique_ports":  uniquePortsSlow,
		"unique_hosts":  uniqueHostsSlow,
		"syn":           round(sc.syn, 1),
		"synack":        round(sc.synack, 1),
		"syn_to_synack": round(synRatioSlow, 2),
		"udp":           round(sc.udp, 1),
		"icmp_unreach":  round(sc.icmpUnreach, 1),
	}
	if d.cfg.EnableUDP {
		slowMetrics["udp_icmp_ratio"] = round(udpICMPRatio, 2)
	} else {
		slowMetrics["udp_icmp_ratio"] = nil
	}

	d.sink.PushAlert(alert.Alert{
		Timestamp: now,
		Severity:  alert.SeverityMedium,
		Detector:  alert.DetectorPortScan,
		Message: fmt.Sprintf(
			"Port scan suspected from %s. Fast uniques: ports=%d, hosts=%d; Slow uniques: ports=%d, hosts=%d. Reasons: %s",
			src, uniquePortsFast, uniqueHostsFast, uniquePortsSlow, uniqueHostsSlow, strings.Join(reasons, ", "),
		),
		Fields: map[string]any{
			"src":          src,
			"fast_metrics": fastMetrics,
			"slow_metrics": slowMetrics,
			"reasons":      reasons,
		},
	})
	// Deliberately does not clear state after alerting: scans are ongoing
	// and repeated alerts are expected, naturally limited by scan
	// completion rather than a cooldown.
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func round(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// slowPruneEpsilon is the threshold below which a decayed slow counter is
// treated as effectively zero: multiplicative decay asymptotically
// approaches but rarely reaches exact 0.
const slowPruneEpsilon = 1e-6

// Sweep discards per-source state for sources with no retained fast-window
// events and no appreciable slow-window activity, bounding memory growth
// for long-running deployments (design note "Per-source state growth").
func (d *PortScan) Sweep() {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for src, ev := range d.ev {
		ev.synTimes.Prune(now, d.cfg.FastWindowSeconds)
		ev.synAckTimes.Prune(now, d.cfg.FastWindowSeconds)
		ev.rstTimes.Prune(now, d.cfg.FastWindowSeconds)
		ev.udpTimes.Prune(now, d.cfg.FastWindowSeconds)
		ev.icmpUnreachTimes.Prune(now, d.cfg.FastWindowSeconds)

		if ev.synTimes.Empty() && ev.synAckTimes.Empty() && ev.rstTimes.Empty() &&
			ev.udpTimes.Empty() && ev.icmpUnreachTimes.Empty() {
			delete(d.ev, src)
			delete(d.uniquePortsFast, src)
			delete(d.uniqueHostsFast, src)
		}
	}

	for src, sc := range d.slow {
		if sc.syn < slowPruneEpsilon && sc.synack < slowPruneEpsilon &&
			sc.udp < slowPruneEpsilon && sc.icmpUnreach < slowPruneEpsilon &&
			len(sc.uniquePorts) == 0 && len(sc.uniqueHosts) == 0 {
			delete(d.slow, src)
		}
	}
}
