package alert_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubscriber struct {
	fail     bool
	received [][]byte
}

func (f *fakeSubscriber) Send(payload []byte) error {
	if f.fail {
		return errors.New("send failed")
	}
	f.received = append(f.received, payload)
	return nil
}

func TestStore_FailingSubscriberIsRemoved(t *testing.T) {
	s := alert.New(clock.NewManual(0), discardLogger(), nil, nil, nil)

	a := &fakeSubscriber{fail: true}
	b := &fakeSubscriber{}
	s.Subscribe(a)
	s.Subscribe(b)

	s.PushAlert(alert.Alert{Detector: alert.DetectorICMPFlood, Severity: alert.SeverityHigh})

	if len(b.received) != 1 {
		t.Fatalf("b.received = %d, want 1", len(b.received))
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1 (failing subscriber removed)", s.SubscriberCount())
	}

	s.PushAlert(alert.Alert{Detector: alert.DetectorSSHBruteforce, Severity: alert.SeverityHigh})
	if len(b.received) != 2 {
		t.Fatalf("b.received after second push = %d, want 2", len(b.received))
	}
	if len(a.received) != 0 {
		t.Fatalf("a.received = %d, want 0 (removed subscriber must not be re-delivered)", len(a.received))
	}
}

func TestStore_GetAlertsRespectsLimitAndOrder(t *testing.T) {
	s := alert.New(clock.NewManual(0), discardLogger(), nil, nil, nil)

	for i := 0; i < 5; i++ {
		s.PushAlert(alert.Alert{Detector: alert.DetectorARPSpoof, Message: string(rune('a' + i))})
	}

	got := s.GetAlerts(2)
	if len(got) != 2 {
		t.Fatalf("len(GetAlerts(2)) = %d, want 2", len(got))
	}
	if got[0].Message != "d" || got[1].Message != "e" {
		t.Errorf("GetAlerts(2) = %+v, want last two in order [d, e]", got)
	}
}

func TestStore_GetMetricsFiltersByNameAndWindow(t *testing.T) {
	c := clock.NewManual(0)
	s := alert.New(c, discardLogger(), nil, nil, nil)

	s.PushMetric(alert.MetricSample{Timestamp: 0, Metric: alert.MetricICMPPacketsPerSecond, Value: 1})
	c.Advance(5)
	s.PushMetric(alert.MetricSample{Timestamp: 5, Metric: alert.MetricSSHAttemptsPerSecond, Value: 2})
	c.Advance(5)
	s.PushMetric(alert.MetricSample{Timestamp: 10, Metric: alert.MetricICMPPacketsPerSecond, Value: 3})

	got := s.GetMetrics(alert.MetricICMPPacketsPerSecond, 6)
	if len(got) != 1 {
		t.Fatalf("len(GetMetrics) = %d, want 1 (older sample outside window, wrong-name sample excluded)", len(got))
	}
	if got[0].Value != 3 {
		t.Errorf("GetMetrics()[0].Value = %v, want 3", got[0].Value)
	}
}

type failingAlertLogger struct{}

func (failingAlertLogger) Append(payload json.RawMessage) error { return errors.New("disk full") }

func TestStore_AlertLogFailureDoesNotBlockPush(t *testing.T) {
	s := alert.New(clock.NewManual(0), discardLogger(), failingAlertLogger{}, nil, nil)
	s.PushAlert(alert.Alert{Detector: alert.DetectorPortScan})
	if len(s.GetAlerts(10)) != 1 {
		t.Fatalf("alert must still be retained even when durable logging fails")
	}
}
