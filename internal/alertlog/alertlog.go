// Package alertlog implements the tamper-evident alert log backing the
// logging.alerts_log configuration key: every pushed alert is appended as a
// SHA-256 hash-chained JSON line, independent of and in addition to the
// bounded in-memory history internal/alert keeps. The chain lets an
// operator detect after the fact whether any entry was edited or removed.
//
// event_hash for entry N is SHA-256(JSON({seq, ts, alert, prev_hash})); the
// genesis entry's prev_hash is 64 ASCII zeros.
package alertlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first entry in a fresh chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// line is the on-disk JSON shape of one log entry.
type line struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Alert     json.RawMessage `json:"alert"`
	PrevHash  string          `json:"prev_hash"`
	EventHash string          `json:"event_hash"`
}

// hashed is the subset of line fields covered by EventHash.
type hashed struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Alert     json.RawMessage `json:"alert"`
	PrevHash  string          `json:"prev_hash"`
}

// Logger appends alert records to a hash-chained, append-only file.
// Construct with Open; a Logger must not be copied after first use.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	seq      int64
}

// Open opens (creating if absent) the log at path. If the file already has
// entries, Open replays them to restore the chain state and verifies the
// existing chain is intact, returning an error if it has been tampered with.
func Open(path string) (*Logger, error) {
	prevHash := GenesisHash
	seq := int64(0)

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("alertlog: open for reading %q: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 10*1024*1024)
		for scanner.Scan() {
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var ln line
			if err := json.Unmarshal(raw, &ln); err != nil {
				f.Close()
				return nil, fmt.Errorf("alertlog: malformed entry at seq %d: %w", seq+1, err)
			}
			if got := computeHash(ln); got != ln.EventHash {
				f.Close()
				return nil, fmt.Errorf("alertlog: hash mismatch at seq %d: stored %q, computed %q", ln.Seq, ln.EventHash, got)
			}
			if ln.PrevHash != prevHash {
				f.Close()
				return nil, fmt.Errorf("alertlog: chain break at seq %d: expected prev_hash %q, got %q", ln.Seq, prevHash, ln.PrevHash)
			}
			prevHash = ln.EventHash
			seq = ln.Seq
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("alertlog: scanning existing log %q: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("alertlog: open for appending %q: %w", path, err)
	}

	return &Logger{file: f, prevHash: prevHash, seq: seq}, nil
}

// Append writes alertJSON (the marshaled Alert) as the next hash-chained
// entry. Safe for concurrent use.
func (l *Logger) Append(alertJSON json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln := line{
		Seq:       l.seq + 1,
		Timestamp: time.Now().UTC(),
		Alert:     alertJSON,
		PrevHash:  l.prevHash,
	}
	ln.EventHash = computeHash(ln)

	raw, err := json.Marshal(ln)
	if err != nil {
		return fmt.Errorf("alertlog: marshal entry: %w", err)
	}
	raw = append(raw, '\n')

	if _, err := l.file.Write(raw); err != nil {
		return fmt.Errorf("alertlog: write entry: %w", err)
	}

	l.seq = ln.Seq
	l.prevHash = ln.EventHash
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("alertlog: sync: %w", err)
	}
	return l.file.Close()
}

// Verify re-reads the log at path and checks the full hash chain,
// returning every entry's raw alert payload in order. An empty or absent
// file is valid and returns an empty slice.
func Verify(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("alertlog: verify open %q: %w", path, err)
	}
	defer f.Close()

	var alerts []json.RawMessage
	prevHash := GenesisHash
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ln line
		if err := json.Unmarshal(raw, &ln); err != nil {
			return nil, fmt.Errorf("alertlog: malformed entry: %w", err)
		}
		if ln.PrevHash != prevHash {
			return nil, fmt.Errorf("alertlog: chain break at seq %d: expected prev_hash %q, got %q", ln.Seq, prevHash, ln.PrevHash)
		}
		if got := computeHash(ln); got != ln.EventHash {
			return nil, fmt.Errorf("alertlog: hash mismatch at seq %d: stored %q, computed %q", ln.Seq, ln.EventHash, got)
		}
		alerts = append(alerts, ln.Alert)
		prevHash = ln.EventHash
	}
	return alerts, scanner.Err()
}

func computeHash(ln line) string {
	raw, err := json.Marshal(hashed{Seq: ln.Seq, Timestamp: ln.Timestamp, Alert: ln.Alert, PrevHash: ln.PrevHash})
	if err != nil {
		panic(fmt.Sprintf("alertlog: marshal hashed content: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
