// Package email implements the email-notifier external-collaborator
// contract: a synchronous, best-effort send of a templated plain-text
// message for selected alert kinds, via an external SMTP relay.
// Credentials are loaded from the process environment at startup.
package email

import (
	"fmt"
	"net/smtp"
	"os"
	"time"

	"github.com/netsentinel/ids/internal/alert"
)

// Environment variable names credentials are loaded from at startup.
const (
	EnvSMTPHost = "SENTINEL_SMTP_HOST"
	EnvSMTPPort = "SENTINEL_SMTP_PORT"
	EnvSMTPUser = "SENTINEL_SMTP_USER"
	EnvSMTPPass = "SENTINEL_SMTP_PASS"
	EnvFrom     = "SENTINEL_SMTP_FROM"
)

// sendTimeout bounds how long a single Notify call may block, per §5's
// "implementation-defined finite timeout (<=10s)".
const sendTimeout = 10 * time.Second

// Sender transmits a plain-text message via an external SMTP relay. It is
// satisfied by net/smtp.SendMail, letting tests substitute a fake.
type Sender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends templated email notifications for alerts. The zero value
// is usable but Notify always returns an error (no host configured); use
// FromEnv to build one from the process environment.
type Notifier struct {
	host, port, user, pass, from string
	recipient                   func() string
	send                         Sender
}

// FromEnv constructs a Notifier from the SENTINEL_SMTP_* environment
// variables, paired with recipientFn returning the live recipient address
// (the config.EmailSlot getter). If host is unset, Notify always fails
// (email quietly disabled, matching "configuration is out of scope").
func FromEnv(recipientFn func() string) *Notifier {
	return &Notifier{
		host:      os.Getenv(EnvSMTPHost),
		port:      os.Getenv(EnvSMTPPort),
		user:      os.Getenv(EnvSMTPUser),
		pass:      os.Getenv(EnvSMTPPass),
		from:      os.Getenv(EnvFrom),
		recipient: recipientFn,
		send:      smtp.SendMail,
	}
}

// Notify renders the template registered for a.Detector and sends it to the
// currently configured recipient. It never panics; all failures (missing
// configuration, no recipient, unknown detector, relay error) are returned
// as a plain error for the caller to log and swallow.
func (n *Notifier) Notify(a alert.Alert) error {
	if n.host == "" {
		return fmt.Errorf("email: no SMTP host configured")
	}
	to := ""
	if n.recipient != nil {
		to = n.recipient()
	}
	if to == "" {
		return fmt.Errorf("email: no recipient configured")
	}

	tmpl, ok := templates[a.Detector]
	if !ok {
		return fmt.Errorf("email: no template registered for detector %q", a.Detector)
	}

	subject, body := tmpl(a)
	msg := buildMessage(n.from, to, subject, body)

	addr := n.host
	if n.port != "" {
		addr = n.host + ":" + n.port
	}

	var auth smtp.Auth
	if n.user != "" {
		auth = smtp.PlainAuth("", n.user, n.pass, n.host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.send(addr, auth, n.from, []string{to}, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("email: send timed out after %s", sendTimeout)
	}
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, to, subject, body))
}
