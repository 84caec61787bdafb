package engine

import (
	"fmt"
	"strings"
	"time"

	"selkie/internal/action"
	"selkie/internal/client"
)

// EventType discriminates the events RunTurn emits.
type EventType int

const (
	// EventTextChunk carries a span of plain model text.
	EventTextChunk EventType = iota
	// EventActionStarted announces a parsed block about to execute.
	EventActionStarted
	// EventActionCompleted carries the result of the announced block.
	EventActionCompleted
	// EventTurnCancelled reports that cancellation stopped the turn. It
	// is always followed by EventTurnComplete.
	EventTurnCancelled
	// EventTurnComplete is the final event of every turn and carries the
	// TurnRecord. The channel closes after it.
	EventTurnComplete
)

func (t EventType) String() string {
	switch t {
	case EventTextChunk:
		return "text"
	case EventActionStarted:
		return "action-started"
	case EventActionCompleted:
		return "action-completed"
	case EventTurnCancelled:
		return "turn-cancelled"
	case EventTurnComplete:
		return "turn-complete"
	default:
		return "unknown"
	}
}

// Event is one emission from a running turn. The populated fields depend
// on Type: Text for TextChunk, Block for ActionStarted, Block and Result
// for ActionCompleted, Record for TurnComplete.
type Event struct {
	Type   EventType
	Text   string
	Block  *action.Block
	Result *action.Result
	Record *TurnRecord
}

// Span is one ordered element of a turn transcript: either a text span
// or an executed block with its result.
type Span struct {
	Text   string
	Block  *action.Block
	Result *action.Result
}

// TurnRecord is the complete account of one turn.
type TurnRecord struct {
	ID         string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Context assembly outcome for this turn.
	ContextTokens int
	ContextFiles  int

	// Provider-reported usage, when the stream carried it.
	InputTokens  int
	OutputTokens int

	Spans    []Span
	Warnings []string

	Cancelled bool

	// Err is the transport or assembly failure that ended the turn
	// early, nil for a clean finish. Per-action failures live on their
	// Span results, never here.
	Err error
}

// Text concatenates the plain-text spans of the record.
func (r *TurnRecord) Text() string {
	var out string
	for _, s := range r.Spans {
		out += s.Text
	}
	return out
}

// Transcript reconstructs the assistant reply, action markers included,
// so callers can feed it back as conversation history.
func (r *TurnRecord) Transcript() string {
	var sb strings.Builder
	for _, s := range r.Spans {
		if s.Block == nil {
			sb.WriteString(s.Text)
			continue
		}
		b := s.Block
		sb.WriteString("[")
		sb.WriteString(string(b.Kind))
		if b.Target != "" {
			sb.WriteString(": ")
			sb.WriteString(b.Target)
		}
		if b.Dir != "" {
			fmt.Fprintf(&sb, " dir=%q", b.Dir)
		}
		if b.TimeoutMs > 0 {
			fmt.Fprintf(&sb, " timeout=%d", b.TimeoutMs)
		}
		sb.WriteString("]\n")
		if b.Body != "" {
			sb.WriteString(b.Body)
			if !strings.HasSuffix(b.Body, "\n") {
				sb.WriteString("\n")
			}
		}
		sb.WriteString("[/")
		sb.WriteString(string(b.Kind))
		sb.WriteString("]\n")
	}
	return sb.String()
}

// Actions returns the executed blocks of the record in emission order.
func (r *TurnRecord) Actions() []Span {
	var out []Span
	for _, s := range r.Spans {
		if s.Block != nil {
			out = append(out, s)
		}
	}
	return out
}

// Duration is the wall-clock length of the turn.
func (r *TurnRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TurnRequest is one user turn to run.
type TurnRequest struct {
	// Message is the user's prompt for this turn.
	Message string

	// History carries prior conversation turns, oldest first. The engine
	// is stateless across turns; the caller owns the transcript.
	History []client.Message

	// UserPaths are root-relative files the user named. They take top
	// priority during context assembly.
	UserPaths []string
}

// FileSummary describes one indexed file for ContextSummary.
type FileSummary struct {
	Path   string
	Tokens int

	// Cached reports whether the file's current content is in the cache.
	Cached bool

	// IncludedInLastTurn reports whether the most recent RunTurn sent
	// this file to the model.
	IncludedInLastTurn bool
}
