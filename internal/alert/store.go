package alert

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/ringbuf"
)

const (
	alertsCapacity  = 1000
	metricsCapacity = 600
)

// Subscriber is a push-channel endpoint registered with the Store. Send
// delivers a pre-serialized envelope; an error removes the subscriber from
// the set before the next broadcast completes. Implementations must not
// block indefinitely (the websocket subscriber uses a bounded internal
// buffer and turns a full buffer into an error).
type Subscriber interface {
	Send(payload []byte) error
}

// AlertLogger appends alerts to a durable, tamper-evident log. Implemented
// by internal/alertlog.Logger. A nil AlertLogger disables logging.
type AlertLogger interface {
	Append(payload json.RawMessage) error
}

// Notifier sends an email notification for an alert. Implemented by
// internal/email.Notifier. A nil Notifier disables email.
type Notifier interface {
	Notify(a Alert) error
}

// Store is the event store and broadcaster: it retains bounded history of
// alerts and metric samples and fans out every push to subscribers.
type Store struct {
	clock  clock.Clock
	logger *slog.Logger

	alerts  *ringbuf.Buffer[Alert]
	metrics *ringbuf.Buffer[MetricSample]

	alertLog AlertLogger
	notifier Notifier
	emailGet func() string

	subMu sync.RWMutex
	subs  map[int]Subscriber
	nextID int
}

// New returns an empty Store. alertLog and notifier may be nil to disable
// those side effects; emailGet returns the current recipient address (or
// "") and may be nil to disable email entirely.
func New(c clock.Clock, logger *slog.Logger, alertLog AlertLogger, notifier Notifier, emailGet func() string) *Store {
	return &Store{
		clock:    c,
		logger:   logger,
		alerts:   ringbuf.New[Alert](alertsCapacity),
		metrics:  ringbuf.New[MetricSample](metricsCapacity),
		alertLog: alertLog,
		notifier: notifier,
		emailGet: emailGet,
		subs:     make(map[int]Subscriber),
	}
}

// PushAlert appends alert to the bounded history, durably logs it (if an
// AlertLogger is configured), fires an email notification (if a recipient
// is configured), and publishes it to every current subscriber. Email and
// logging failures are logged and swallowed; they never block or fail the
// push.
func (s *Store) PushAlert(a Alert) {
	s.alerts.Push(a)

	if s.alertLog != nil {
		raw, err := json.Marshal(a)
		if err != nil {
			s.logger.Warn("alert: failed to marshal alert for durable log", slog.Any("error", err))
		} else if err := s.alertLog.Append(raw); err != nil {
			s.logger.Warn("alert: failed to append to durable log", slog.Any("error", err))
		}
	}

	if s.notifier != nil && s.emailGet != nil && s.emailGet() != "" {
		if err := s.notifier.Notify(a); err != nil {
			s.logger.Warn("alert: email notification failed", slog.String("detector", a.Detector), slog.Any("error", err))
		}
	}

	s.publish(envelope{Type: "alert", Payload: a})
}

// PushMetric appends sample to the bounded history and publishes it.
func (s *Store) PushMetric(m MetricSample) {
	s.metrics.Push(m)
	s.publish(envelope{Type: "stat", Payload: m})
}

// GetAlerts returns the last limit alerts in insertion order.
func (s *Store) GetAlerts(limit int) []Alert {
	return s.alerts.Last(limit)
}

// GetMetrics returns, in insertion order, every sample with the given
// metric name whose timestamp is within sinceSeconds of now.
func (s *Store) GetMetrics(metric string, sinceSeconds float64) []MetricSample {
	now := s.clock.Now()
	cutoff := now - sinceSeconds
	return s.metrics.Filter(func(m MetricSample) bool {
		return m.Metric == metric && m.Timestamp >= cutoff
	})
}

// Subscribe registers sub and returns a handle to later Unsubscribe it.
func (s *Store) Subscribe(sub Subscriber) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	return id
}

// Unsubscribe removes the subscriber registered under id, if still present.
func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// SubscriberCount reports the number of currently registered subscribers.
func (s *Store) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// publish serializes env once and fans it out to every subscriber.
// Subscribers whose Send fails are removed before the next broadcast
// begins; the snapshot is taken under a read lock, sends happen outside
// any lock, and removal happens under a write lock, so no torn view is
// ever observed by a concurrent broadcast.
func (s *Store) publish(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("alert: failed to marshal broadcast envelope", slog.Any("error", err))
		return
	}

	s.subMu.RLock()
	snapshot := make(map[int]Subscriber, len(s.subs))
	for id, sub := range s.subs {
		snapshot[id] = sub
	}
	s.subMu.RUnlock()

	var failed []int
	for id, sub := range snapshot {
		if err := sub.Send(payload); err != nil {
			failed = append(failed, id)
		}
	}

	if len(failed) == 0 {
		return
	}
	s.subMu.Lock()
	for _, id := range failed {
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}
