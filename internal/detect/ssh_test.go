package detect_test

import (
	"net"
	"testing"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/capture"
	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/config"
	"github.com/netsentinel/ids/internal/detect"
)

func sshSYNPacket(src string) capture.Packet {
	return capture.Packet{
		Transport:  capture.TransportTCP,
		SrcIP:      net.ParseIP(src),
		TCPDstPort: 22,
		TCPFlags:   capture.TCPFlagSYN,
	}
}

func TestSSH_BruteForceWithCooldown(t *testing.T) {
	sink := &fakeSink{}
	c := clock.NewManual(0)
	thresholds := config.NewThresholdStore(map[string]int{"ssh": 10})
	d := detect.NewSSH(sink, c, thresholds, nil)

	for i := 0; i < 12; i++ {
		d.Accept(sshSYNPacket("192.168.1.55"))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("len(alerts) after first burst = %d, want 1", len(sink.alerts))
	}

	c.Advance(30) // well within the 60s window, well within the 300s cooldown
	for i := 0; i < 12; i++ {
		d.Accept(sshSYNPacket("192.168.1.55"))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("len(alerts) after second burst (within cooldown) = %d, want 1 (no retrigger)", len(sink.alerts))
	}

	c.Advance(275) // total 305s past the first alert
	for i := 0; i < 12; i++ {
		d.Accept(sshSYNPacket("192.168.1.55"))
	}
	if len(sink.alerts) != 2 {
		t.Fatalf("len(alerts) after cooldown elapsed = %d, want 2", len(sink.alerts))
	}
	if sink.alerts[1].Detector != alert.DetectorSSHBruteforce {
		t.Errorf("detector = %q, want %q", sink.alerts[1].Detector, alert.DetectorSSHBruteforce)
	}
}

func TestSSH_WhitelistedSourceIgnored(t *testing.T) {
	sink := &fakeSink{}
	c := clock.NewManual(0)
	thresholds := config.NewThresholdStore(map[string]int{"ssh": 1})
	d := detect.NewSSH(sink, c, thresholds, []string{"127.0.0.1"})

	d.Accept(sshSYNPacket("127.0.0.1"))
	if len(sink.alerts) != 0 {
		t.Fatalf("whitelisted source must never alert, got %d alerts", len(sink.alerts))
	}
}

func TestSSH_SweepPreservesOutstandingCooldown(t *testing.T) {
	sink := &fakeSink{}
	c := clock.NewManual(100000)
	thresholds := config.NewThresholdStore(map[string]int{"ssh": 10})
	d := detect.NewSSH(sink, c, thresholds, nil)

	for i := 0; i < 10; i++ {
		d.Accept(sshSYNPacket("192.168.1.55"))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("len(alerts) after first burst = %d, want 1", len(sink.alerts))
	}

	// The window is now empty (cleared on alert) but the cooldown has not
	// elapsed: Sweep must not discard the source's lastAlertAt entry.
	d.Sweep()

	c.Advance(30)
	for i := 0; i < 10; i++ {
		d.Accept(sshSYNPacket("192.168.1.55"))
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("len(alerts) within cooldown after sweep = %d, want 1 (sweep must not drop an active cooldown)", len(sink.alerts))
	}
}

func TestSSH_IgnoresNonSYNOrWrongPort(t *testing.T) {
	sink := &fakeSink{}
	c := clock.NewManual(0)
	thresholds := config.NewThresholdStore(map[string]int{"ssh": 1})
	d := detect.NewSSH(sink, c, thresholds, nil)

	ackOnly := sshSYNPacket("10.0.0.1")
	ackOnly.TCPFlags = capture.TCPFlagSYN | capture.TCPFlagACK
	d.Accept(ackOnly)

	wrongPort := sshSYNPacket("10.0.0.1")
	wrongPort.TCPDstPort = 80
	d.Accept(wrongPort)

	if len(sink.alerts) != 0 {
		t.Fatalf("non-matching packets must be ignored, got %d alerts", len(sink.alerts))
	}
}
