// Package capture implements the packet ingestion pipeline: it pulls
// parsed frames from a PacketSource and hands each one to every registered
// detector Sink, in registration order, isolating faults so one detector's
// panic never stops the others or the capture loop.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// Packet is the parsed-frame contract the packet source delivers.
// Detectors never parse raw bytes; they only read these fields.
type Packet struct {
	// EtherType is the Ethernet payload type (e.g. 0x0800 for IPv4,
	// 0x0806 for ARP, 0x86DD for IPv6).
	EtherType uint16

	// ARP fields, populated when EtherType is ARP.
	ARPSenderIP  net.IP
	ARPSenderMAC net.HardwareAddr

	// IP fields, populated for IPv4/IPv6 packets.
	SrcIP net.IP
	DstIP net.IP

	// Transport holds which L4 protocol, if any, follows the IP header.
	Transport Transport

	// TCP fields.
	TCPSrcPort uint16
	TCPDstPort uint16
	TCPFlags   TCPFlags

	// UDP fields.
	UDPDstPort uint16

	// ICMP fields (IPv4 ICMP or IPv6 ICMPv6).
	ICMPType uint8
	ICMPCode uint8
}

// Transport identifies the layer-4 protocol carried by a Packet, if any.
type Transport uint8

const (
	TransportNone Transport = iota
	TransportTCP
	TransportUDP
	TransportICMP
	TransportICMPv6
)

// TCPFlags is the TCP control-bit byte, tested via the Has* helpers below.
type TCPFlags uint8

const (
	TCPFlagFIN TCPFlags = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

func (f TCPFlags) Has(bit TCPFlags) bool { return f&bit != 0 }

// PacketSource delivers parsed frames from a NIC or pcap file. It is an
// external collaborator; no concrete implementation ships in this
// repository (see cmd/sentineld for the stub used at startup).
type PacketSource interface {
	// Packets returns a channel of parsed frames. The channel is closed
	// when the source is exhausted or ctx is cancelled.
	Packets(ctx context.Context) (<-chan Packet, error)
}

// Sink receives every packet the dispatcher observes. Implemented by each
// detector. Accept must be non-blocking relative to packet rate and must
// not retain the Packet beyond the call (no copy is made for it).
type Sink interface {
	Accept(p Packet)
}

// Dispatcher is the capture loop: one PacketSource, N Sinks, registered in
// order and each isolated from the others' faults.
type Dispatcher struct {
	source PacketSource
	sinks  []namedSink
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type namedSink struct {
	name string
	sink Sink
}

// New returns a Dispatcher pulling packets from source.
func New(source PacketSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{source: source, logger: logger}
}

// Register adds a sink under name (used only for fault log messages).
// Sinks are invoked in registration order for every packet. Register must
// not be called concurrently with Run.
func (d *Dispatcher) Register(name string, sink Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
}

// Run blocks, pulling packets from the source and invoking every
// registered sink for each one, until ctx is cancelled or Stop is called.
// A panicking sink is recovered and logged; subsequent sinks still receive
// the packet, and the loop continues to the next packet.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	defer close(d.done)

	packets, err := d.source.Packets(ctx)
	if err != nil {
		return fmt.Errorf("capture: starting packet source: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-packets:
			if !ok {
				return nil
			}
			d.dispatch(p)
		}
	}
}

func (d *Dispatcher) dispatch(p Packet) {
	for _, ns := range d.sinks {
		d.invoke(ns, p)
	}
}

func (d *Dispatcher) invoke(ns namedSink, p Packet) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("capture: sink panicked, packet dropped for this sink",
				slog.String("sink", ns.name), slog.Any("panic", r))
		}
	}()
	ns.sink.Accept(p)
}

// Stop causes a running Run to return promptly. The current packet, if any,
// finishes processing first. Safe to call before Run or more than once.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
}
