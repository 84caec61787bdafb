package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry types.
const (
	TypeTurn   = "turn"
	TypeAction = "action"
)

// Entry is one line of the audit log. Turn entries summarize a whole
// exchange; action entries record each executed block within it.
type Entry struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	Action     string    `json:"action,omitempty"` // FILE_WRITE, COMMAND, ...
	Target     string    `json:"target,omitempty"`
	OK         bool      `json:"ok"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Detail     string    `json:"detail,omitempty"` // truncated output or error text
	DurationMs int64     `json:"duration_ms"`
}

// NewTurnEntry starts a turn-level entry. The caller fills the outcome
// fields before appending.
func NewTurnEntry(sessionID, turnID string) *Entry {
	return &Entry{
		ID:        uuid.New().String(),
		Time:      time.Now(),
		Type:      TypeTurn,
		SessionID: sessionID,
		TurnID:    turnID,
	}
}

// NewActionEntry starts an action-level entry.
func NewActionEntry(sessionID, turnID, action, target string) *Entry {
	return &Entry{
		ID:        uuid.New().String(),
		Time:      time.Now(),
		Type:      TypeAction,
		SessionID: sessionID,
		TurnID:    turnID,
		Action:    action,
		Target:    target,
	}
}

// Complete fills in the outcome fields.
func (e *Entry) Complete(ok bool, errorKind, detail string, d time.Duration) *Entry {
	e.OK = ok
	e.ErrorKind = errorKind
	e.Detail = detail
	e.DurationMs = d.Milliseconds()
	return e
}

// TruncateDetail caps detail text so one huge command output cannot bloat
// the log.
func TruncateDetail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
