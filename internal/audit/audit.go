// Package audit writes a tamper-evident JSONL record of server and session
// security events. Every entry carries the SHA-256 hash of its predecessor.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/rdpd/internal/config"
	"github.com/breeze-rmm/rdpd/internal/logging"
)

var log = logging.L("audit")

// Event types.
const (
	EventServerStart          = "server_start"
	EventServerStop           = "server_stop"
	EventSessionOpened        = "session_opened"
	EventLogonAccepted        = "logon_accepted"
	EventLogonRejected        = "logon_rejected"
	EventLogonDeferred        = "logon_deferred"
	EventCapabilitiesRejected = "capabilities_rejected"
	EventSessionClosed        = "session_closed"
	EventLogRotated           = "log_rotated"
)

const genesisHash = "genesis"

// Entries of these types are fsynced before Log returns.
var criticalEvents = map[string]bool{
	EventServerStart:   true,
	EventServerStop:    true,
	EventLogonAccepted: true,
	EventLogonRejected: true,
}

// Entry is one audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	SessionID string         `json:"sessionId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger appends hash-chained entries and rotates by size. After rotation
// the new file opens with an EventLogRotated entry linked to the last hash
// of the old one.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
}

// NewLogger opens path for appending, continuing any chain already in it.
func NewLogger(path string, maxSizeMB, maxBackups int) (*Logger, error) {
	if path == "" {
		return nil, errors.New("audit: empty log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	l := &Logger{
		filePath:   path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
	}
	if last, err := lastHash(path); err != nil {
		log.Warn("cannot resume audit hash chain, starting a new one", "path", path, logging.KeyError, err)
	} else if last != "" {
		l.prevHash = last
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}

	log.Info("audit logger started", "path", path)
	return l, nil
}

// FromConfig returns nil, without error, when auditing is disabled. A nil
// *Logger accepts and discards every call.
func FromConfig(cfg *config.Config) (*Logger, error) {
	if !cfg.AuditEnabled {
		return nil, nil
	}
	return NewLogger(cfg.AuditFile, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
}

// Log appends an entry. The chain only advances after a successful write,
// so a failed entry leaves no gap.
func (l *Logger) Log(eventType, sessionID string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		SessionID: sessionID,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	data, err := seal(&entry)
	if err != nil {
		log.Error("failed to encode audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			log.Error("audit log rotation failed", logging.KeyError, err)
			l.dropped.Add(1)
			return
		}
		// The sentinel moved the chain head.
		entry.PrevHash = l.prevHash
		if data, err = seal(&entry); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	if err := l.write(data); err != nil {
		log.Error("failed to write audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}
	l.prevHash = entry.EntryHash

	if criticalEvents[eventType] {
		if err := l.file.Sync(); err != nil {
			log.Error("failed to fsync audit entry", logging.KeyError, err, "eventType", eventType)
		}
	}
}

// Close is a no-op on a nil Logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount is the number of entries that could not be written, or -1
// for a nil Logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// seal computes entry's hash and returns its JSONL encoding.
func seal(entry *Entry) ([]byte, error) {
	hash, err := computeHash(*entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return append(data, '\n'), nil
}

// computeHash length-prefixes every field so no two field combinations
// share an encoding.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.SessionID, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		detailBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) write(data []byte) error {
	if l.file == nil {
		return errors.New("audit log closed")
	}
	n, err := l.file.Write(data)
	l.written += int64(n)
	return err
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove oldest audit backup", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to shift audit backup", "src", src, "dst", dst, logging.KeyError, err)
		}
	}
	if err := os.Rename(l.filePath, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to rename current audit log", logging.KeyError, err)
	}

	if err := l.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		PrevHash:  l.prevHash,
		Details:   map[string]any{"previousFile": l.backupName(1)},
	}
	data, err := seal(&sentinel)
	if err == nil {
		err = l.write(data)
	}
	if err != nil {
		log.Error("audit rotation sentinel failed, hash chain restarts", logging.KeyError, err)
		l.dropped.Add(1)
		l.prevHash = genesisHash
		return nil
	}
	l.prevHash = sentinel.EntryHash
	return nil
}

func (l *Logger) backupName(index int) string {
	if index == 0 {
		return l.filePath
	}
	return fmt.Sprintf("%s.%d", l.filePath, index)
}

// lastHash returns the entry hash of the final record in path, or "" when
// the file does not exist or is empty.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			last = append(last[:0], sc.Bytes()...)
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}
	var e Entry
	if err := json.Unmarshal(last, &e); err != nil {
		return "", fmt.Errorf("decode last entry: %w", err)
	}
	return e.EntryHash, nil
}

// VerifyError locates the first broken link in a chain.
type VerifyError struct {
	Line   int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("audit chain broken at line %d: %s", e.Line, e.Reason)
}

// Verify walks one audit file and checks every entry's hash and its link
// to the entry before it. The first entry may link anywhere, since it may
// continue a rotated file. It returns the number of entries checked.
func Verify(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	prev := ""
	n, line := 0, 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return n, &VerifyError{Line: line, Reason: "malformed entry: " + err.Error()}
		}
		want, err := computeHash(e)
		if err != nil {
			return n, &VerifyError{Line: line, Reason: err.Error()}
		}
		if want != e.EntryHash {
			return n, &VerifyError{Line: line, Reason: "entry hash mismatch"}
		}
		if n > 0 && e.PrevHash != prev {
			return n, &VerifyError{Line: line, Reason: "previous hash mismatch"}
		}
		prev = e.EntryHash
		n++
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	return n, nil
}
