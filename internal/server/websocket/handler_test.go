package websocket_test

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 mandated by RFC 6455
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/clock"
	ws "github.com/netsentinel/ids/internal/server/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(store *alert.Store) *ws.Handler {
	return ws.NewHandler(store, testLogger(), time.Second, 16)
}

func TestHandlerRejectsNonWebSocket(t *testing.T) {
	t.Parallel()

	store := alert.New(clock.NewManual(0), testLogger(), nil, nil, nil)
	h := newTestHandler(store)
	req := httptest.NewRequest(http.MethodGet, "/websocket/alerts", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUpgradeRequired {
		t.Errorf("expected status %d, got %d", http.StatusUpgradeRequired, rr.Code)
	}
}

func TestHandlerRejectsMissingKey(t *testing.T) {
	t.Parallel()

	store := alert.New(clock.NewManual(0), testLogger(), nil, nil, nil)
	h := newTestHandler(store)
	req := httptest.NewRequest(http.MethodGet, "/websocket/alerts", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

// readFrame reads one unmasked WebSocket text frame from r.
func readFrame(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	b0, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read frame byte 0: %v", err)
	}
	b1, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read frame byte 1: %v", err)
	}
	if b0 != 0x81 {
		t.Fatalf("expected FIN+text frame (0x81), got 0x%02x", b0)
	}
	if b1&0x80 != 0 {
		t.Fatal("server must not mask frames sent to clients (RFC 6455 §5.1)")
	}

	payloadLen := int(b1 & 0x7F)
	switch payloadLen {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(r, ext); err != nil {
			t.Fatalf("read extended length: %v", err)
		}
		payloadLen = int(binary.BigEndian.Uint16(ext))
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r, ext); err != nil {
			t.Fatalf("read extended length: %v", err)
		}
		payloadLen = int(binary.BigEndian.Uint64(ext))
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return payload
}

func dialWebSocket(t *testing.T, srvURL string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", strings.TrimPrefix(srvURL, "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	clientKey := "dGhlIHNhbXBsZSBub25jZQ==" // standard test key from RFC 6455
	req := "GET /websocket/alerts HTTP/1.1\r\n" +
		"Host: " + strings.TrimPrefix(srvURL, "http://") + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + clientKey + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write upgrade request: %v", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	expectedAccept := computeAcceptForTest(clientKey)
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != expectedAccept {
		t.Errorf("Sec-WebSocket-Accept: got %q, want %q", got, expectedAccept)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	return conn, reader
}

func TestHandler_SendsInitThenInitStatsThenPushedAlert(t *testing.T) {
	t.Parallel()

	store := alert.New(clock.NewManual(1000), testLogger(), nil, nil, nil)
	store.PushAlert(alert.Alert{Detector: alert.DetectorICMPFlood, Severity: alert.SeverityHigh})

	handler := newTestHandler(store)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn, reader := dialWebSocket(t, srv.URL)
	defer conn.Close()

	var initEnv struct {
		Type   string        `json:"type"`
		Alerts []alert.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(readFrame(t, reader), &initEnv); err != nil {
		t.Fatalf("unmarshal init frame: %v", err)
	}
	if initEnv.Type != "init" {
		t.Fatalf("first frame type = %q, want init", initEnv.Type)
	}
	if len(initEnv.Alerts) != 1 || initEnv.Alerts[0].Detector != alert.DetectorICMPFlood {
		t.Fatalf("init alerts = %+v, want one icmp_flood alert", initEnv.Alerts)
	}

	var statsEnv struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(readFrame(t, reader), &statsEnv); err != nil {
		t.Fatalf("unmarshal init_stats frame: %v", err)
	}
	if statsEnv.Type != "init_stats" {
		t.Fatalf("second frame type = %q, want init_stats", statsEnv.Type)
	}

	// Give the server a moment to finish registering the subscriber before
	// the next push, then verify the live feed delivers it.
	time.Sleep(20 * time.Millisecond)
	store.PushAlert(alert.Alert{Detector: alert.DetectorSSHBruteforce, Severity: alert.SeverityHigh})

	var pushEnv struct {
		Type    string      `json:"type"`
		Payload alert.Alert `json:"payload"`
	}
	if err := json.Unmarshal(readFrame(t, reader), &pushEnv); err != nil {
		t.Fatalf("unmarshal push frame: %v", err)
	}
	if pushEnv.Type != "alert" || pushEnv.Payload.Detector != alert.DetectorSSHBruteforce {
		t.Fatalf("push frame = %+v, want alert/ssh_bruteforce", pushEnv)
	}
}

func computeAcceptForTest(key string) string {
	const guid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	//nolint:gosec // SHA-1 mandated by RFC 6455
	h := sha1.New()
	h.Write([]byte(key + guid))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
