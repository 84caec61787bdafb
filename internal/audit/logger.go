package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"selkie/internal/security"
)

// Log appends audit entries to a per-session JSONL file. Each entry is one
// line, written whole under the lock, so a crash can lose at most the line
// being written and concurrent readers never see a partial entry.
type Log struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	sessionID string
	maxDetail int
	enabled   bool
	retention time.Duration
	redactor  *security.Redactor
}

// Config holds audit log settings.
type Config struct {
	Enabled       bool
	MaxDetailLen  int // per-entry detail cap, default 1000
	RetentionDays int // session files older than this are removed, default 30
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxDetailLen:  1000,
		RetentionDays: 30,
	}
}

// Open creates or appends to the session's audit file under
// configDir/audit. A disabled config yields a Log that drops everything.
func Open(configDir, sessionID string, cfg Config) (*Log, error) {
	if !cfg.Enabled {
		return &Log{enabled: false}, nil
	}
	if cfg.MaxDetailLen == 0 {
		cfg.MaxDetailLen = 1000
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}

	auditDir := filepath.Join(configDir, "audit")
	// 0700: entries can carry command output and file paths
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(auditDir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &Log{
		f:         f,
		path:      path,
		sessionID: sessionID,
		maxDetail: cfg.MaxDetailLen,
		enabled:   true,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		redactor:  security.NewRedactor(),
	}, nil
}

func (l *Log) Enabled() bool {
	return l != nil && l.enabled
}

// Append writes one entry. A nil or disabled log accepts and drops it.
// Detail and target are redacted first; command output and command lines
// are the fields that carry pasted secrets.
func (l *Log) Append(e *Entry) error {
	if !l.Enabled() || e == nil {
		return nil
	}

	e.Target = l.redactor.Redact(e.Target)
	e.Detail = TruncateDetail(l.redactor.Redact(e.Detail), l.maxDetail)
	if e.SessionID == "" {
		e.SessionID = l.sessionID
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Path returns the session file location, empty when disabled.
func (l *Log) Path() string {
	if !l.Enabled() {
		return ""
	}
	return l.path
}

func (l *Log) Close() error {
	if !l.Enabled() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// CleanupOldSessions removes session files past the retention period and
// returns how many were deleted.
func (l *Log) CleanupOldSessions() (int, error) {
	if !l.Enabled() {
		return 0, nil
	}

	dir := filepath.Dir(l.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-l.retention)
	removed := 0
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".jsonl" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && de.Name() != filepath.Base(l.path) {
			if err := os.Remove(filepath.Join(dir, de.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// ReadFile parses a JSONL audit file. Unparseable lines are skipped so one
// corrupt line cannot hide the rest of a session.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
