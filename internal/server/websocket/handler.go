package websocket

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 §4.1; not used for security
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/netsentinel/ids/internal/alert"
)

// maxFrameSize is the maximum WebSocket payload length (in bytes) that the
// server will accept from clients. Browser clients never send frames
// anywhere near this size; 64 KiB is a conservative guard against
// misbehaving or malicious clients.
const maxFrameSize = 64 * 1024

// wsGUID is the fixed GUID defined in RFC 6455 §4.1 for computing the
// Sec-WebSocket-Accept header value.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const initAlertsCount = 20
const initStatsWindowSeconds = 60

// Store is the subset of internal/alert.Store the WebSocket surface reads
// on connect and subscribes to for the push feed.
type Store interface {
	GetAlerts(limit int) []alert.Alert
	GetMetrics(metric string, sinceSeconds float64) []alert.MetricSample
	Subscribe(sub alert.Subscriber) int
	Unsubscribe(id int)
}

// Handler is an http.Handler that upgrades HTTP connections to WebSocket,
// replays initial state, then streams the live alert/metric push feed.
type Handler struct {
	store  Store
	logger *slog.Logger

	bufSize      int
	writeTimeout time.Duration
}

// NewHandler creates a Handler backed by store. writeTimeout <= 0 defaults
// to 10 seconds; bufSize <= 0 defaults to 64 queued frames per client.
func NewHandler(store Store, logger *slog.Logger, writeTimeout time.Duration, bufSize int) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{store: store, logger: logger, writeTimeout: writeTimeout, bufSize: bufSize}
}

// ServeHTTP handles the HTTP -> WebSocket upgrade and drives the connection
// lifecycle: handshake, initial state replay, then a write loop draining
// the subscriber's queue alongside a read loop that only watches for client
// disconnection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		h.logger.Error("websocket: hijack failed", slog.Any("error", err))
		return
	}

	accept := computeAcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	if _, err := bufrw.WriteString(resp); err != nil {
		h.logger.Error("websocket: handshake write failed", slog.Any("error", err))
		conn.Close()
		return
	}
	if err := bufrw.Flush(); err != nil {
		h.logger.Error("websocket: handshake flush failed", slog.Any("error", err))
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	sub := newSubscriber(clientID, h.bufSize)
	subID := h.store.Subscribe(sub)
	defer h.store.Unsubscribe(subID)

	h.logger.Info("websocket: client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	if err := h.sendInitialState(conn); err != nil {
		h.logger.Warn("websocket: failed to send initial state", slog.String("client_id", clientID), slog.Any("error", err))
		conn.Close()
		return
	}

	var closed atomic.Bool
	closeOnce := func() {
		if closed.CompareAndSwap(false, true) {
			sub.close()
			conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("websocket: readLoop panic recovered",
					slog.Any("recover", r), slog.String("client_id", clientID))
			}
		}()
		readLoop(conn, h.logger, clientID)
		closeOnce()
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.send:
			if !ok {
				closeOnce()
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				h.logger.Warn("websocket: set write deadline failed", slog.String("client_id", clientID), slog.Any("error", err))
				closeOnce()
				return
			}
			if err := writeTextFrame(conn, msg); err != nil {
				h.logger.Warn("websocket: write frame failed", slog.String("client_id", clientID), slog.Any("error", err))
				closeOnce()
				return
			}
		}
	}
}

// sendInitialState writes the init and init_stats frames required before
// any push-feed message, per the documented connect sequence.
func (h *Handler) sendInitialState(conn net.Conn) error {
	alerts := h.store.GetAlerts(initAlertsCount)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	initFrame, err := json.Marshal(map[string]any{"type": "init", "alerts": alerts})
	if err != nil {
		return fmt.Errorf("marshal init frame: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	if err := writeTextFrame(conn, initFrame); err != nil {
		return fmt.Errorf("write init frame: %w", err)
	}

	var stats []alert.MetricSample
	for _, metric := range []string{
		alert.MetricICMPPacketsPerSecond,
		alert.MetricSSHAttemptsPerSecond,
		alert.MetricARPSpoofingPerSecond,
		alert.MetricPortscanAttemptsPerSec,
	} {
		stats = append(stats, h.store.GetMetrics(metric, initStatsWindowSeconds)...)
	}
	if stats == nil {
		stats = []alert.MetricSample{}
	}
	statsFrame, err := json.Marshal(map[string]any{"type": "init_stats", "stats": stats})
	if err != nil {
		return fmt.Errorf("marshal init_stats frame: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	if err := writeTextFrame(conn, statsFrame); err != nil {
		return fmt.Errorf("write init_stats frame: %w", err)
	}
	return nil
}

// --- RFC 6455 framing helpers ----------------------------------------------

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func computeAcceptKey(key string) string {
	//nolint:gosec // SHA-1 is mandated by RFC 6455; not used for security
	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// writeTextFrame encodes payload as a single, unfragmented WebSocket text
// frame (FIN=1, opcode=0x1). Server-to-client frames must not be masked
// (RFC 6455 §5.1).
func writeTextFrame(conn net.Conn, payload []byte) error {
	n := len(payload)
	var header []byte

	switch {
	case n < 126:
		header = []byte{0x81, byte(n)}
	case n < 65536:
		header = []byte{0x81, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x81
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readLoop reads and discards incoming WebSocket frames from conn until the
// connection is closed or a close frame is received. Clients of this feed
// never send application payloads; this only exists to detect disconnect.
func readLoop(conn net.Conn, logger *slog.Logger, clientID string) {
	buf := bufio.NewReader(conn)
	for {
		b0, err := buf.ReadByte()
		if err != nil {
			break
		}
		b1, err := buf.ReadByte()
		if err != nil {
			break
		}

		opcode := b0 & 0x0F
		masked := (b1 & 0x80) != 0
		length := int64(b1 & 0x7F)

		switch length {
		case 126:
			var ext [2]byte
			if _, err := buf.Read(ext[:]); err != nil {
				return
			}
			length = int64(binary.BigEndian.Uint16(ext[:]))
		case 127:
			var ext [8]byte
			if _, err := buf.Read(ext[:]); err != nil {
				return
			}
			rawLen := binary.BigEndian.Uint64(ext[:])
			if rawLen > maxFrameSize {
				return
			}
			length = int64(rawLen)
		}

		if masked {
			var maskKey [4]byte
			if _, err := buf.Read(maskKey[:]); err != nil {
				return
			}
		}

		if length > 0 {
			if _, err := io.CopyN(io.Discard, buf, length); err != nil {
				return
			}
		}

		if opcode == 0x08 {
			logger.Debug("websocket: received close frame", slog.String("client_id", clientID))
			return
		}
	}
}
