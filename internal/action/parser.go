package action

import (
	"regexp"
	"strconv"
	"strings"

	"selkie/internal/logging"
)

// Event is one parser emission: a plain-text span or a completed block.
// Exactly one of Text and Block is set.
type Event struct {
	Text  string
	Block *Block
}

// Warning records a non-fatal parse degradation.
type Warning struct {
	Kind    Kind
	Target  string
	Message string
}

type parserState int

const (
	stateScanning parserState = iota
	stateInBody
)

// StreamParser is an incremental reducer over model reply fragments. It
// recognizes opening markers `[KIND: target]` and closing markers
// `[/KIND]`, each on its own line. Fragment boundaries are arbitrary: a
// marker split across fragments parses the same as whole-text delivery.
// Malformed or unterminated blocks degrade to literal text, never errors.
// Single-threaded by design; the orchestrator owns one parser per turn.
type StreamParser struct {
	state parserState
	carry string // trailing partial line held between fragments

	// current block while InBody
	kind    Kind
	target  string
	dir     string
	timeout int
	openRaw string // opening marker line verbatim, for degradation flush
	body    strings.Builder

	text     strings.Builder // pending plain text
	warnings []Warning
}

// NewStreamParser creates a parser in the Scanning state.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Feed consumes one fragment and returns the events it completed.
func (p *StreamParser) Feed(fragment string) []Event {
	var events []Event
	p.carry += fragment

	for {
		nl := strings.IndexByte(p.carry, '\n')
		if nl < 0 {
			break
		}
		line := p.carry[:nl+1]
		p.carry = p.carry[nl+1:]
		events = p.consumeLine(line, events)
	}

	// A trailing partial line can only still become a marker if it opens
	// a bracket; anything else is released as text immediately.
	if p.state == stateScanning && p.carry != "" && !maybeMarkerPrefix(p.carry) {
		p.text.WriteString(p.carry)
		p.carry = ""
	}

	return p.flushText(events)
}

// Close ends the stream. The final unterminated line is processed as a
// line; a block still open after that is flushed back as literal text
// with a recorded warning.
func (p *StreamParser) Close() []Event {
	var events []Event

	if p.carry != "" {
		line := p.carry
		p.carry = ""
		events = p.consumeLine(line, events)
	}

	if p.state == stateInBody {
		p.warn("unterminated block at end of stream")
		p.text.WriteString(p.openRaw)
		p.text.WriteString(p.body.String())
		p.resetBlock()
		p.state = stateScanning
	}

	return p.flushText(events)
}

// Warnings returns the degradations recorded so far.
func (p *StreamParser) Warnings() []Warning {
	return p.warnings
}

func (p *StreamParser) consumeLine(line string, events []Event) []Event {
	switch p.state {
	case stateScanning:
		kind, target, ok := parseOpenMarker(line)
		if !ok {
			p.text.WriteString(line)
			return events
		}
		events = p.flushText(events)
		p.state = stateInBody
		p.kind = kind
		p.openRaw = line
		p.target = target
		if kind == KindCommand {
			p.target, p.dir, p.timeout = parseCommandTarget(target)
		}
		return events

	case stateInBody:
		if isCloseMarker(line, p.kind) {
			block := &Block{
				Kind:      p.kind,
				Target:    p.target,
				Body:      p.body.String(),
				Dir:       p.dir,
				TimeoutMs: p.timeout,
			}
			p.resetBlock()
			p.state = stateScanning
			return append(events, Event{Block: block})
		}
		// Opening markers inside a body are literal text; blocks do not
		// nest.
		p.body.WriteString(line)
		return events
	}
	return events
}

func (p *StreamParser) resetBlock() {
	p.kind = ""
	p.target = ""
	p.dir = ""
	p.timeout = 0
	p.openRaw = ""
	p.body.Reset()
}

func (p *StreamParser) flushText(events []Event) []Event {
	if p.text.Len() == 0 {
		return events
	}
	events = append(events, Event{Text: p.text.String()})
	p.text.Reset()
	return events
}

func (p *StreamParser) warn(message string) {
	w := Warning{Kind: p.kind, Target: p.target, Message: message}
	p.warnings = append(p.warnings, w)
	logging.Warn("action block degraded",
		"kind", string(w.Kind), "target", w.Target, "reason", message)
}

var markerNameRe = regexp.MustCompile(`^[A-Z][A-Z_]*$`)

// parseOpenMarker recognizes `[KIND: target]` or bare `[KIND]` occupying
// the whole line. Unknown names stay literal text.
func parseOpenMarker(line string) (Kind, string, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return "", "", false
	}
	inner := trimmed[1 : len(trimmed)-1]
	if strings.HasPrefix(inner, "/") {
		return "", "", false
	}

	name, target := inner, ""
	if colon := strings.IndexByte(inner, ':'); colon >= 0 {
		name = inner[:colon]
		target = strings.TrimSpace(inner[colon+1:])
	}
	if !markerNameRe.MatchString(name) {
		return "", "", false
	}
	kind, ok := KindFromMarker(name)
	if !ok {
		return "", "", false
	}
	return kind, target, true
}

func isCloseMarker(line string, kind Kind) bool {
	return strings.TrimSpace(line) == "[/"+string(kind)+"]"
}

// maybeMarkerPrefix reports whether a partial line could still turn into
// a marker once the rest of it arrives.
func maybeMarkerPrefix(s string) bool {
	t := strings.TrimLeft(s, " \t")
	return t == "" || t[0] == '['
}

var commandAttrRe = regexp.MustCompile(`\s+(dir|timeout)=("([^"]*)"|(\S+))\s*$`)

// parseCommandTarget splits trailing `dir="..."` and `timeout=ms`
// attributes off a COMMAND target, leaving the command line itself.
func parseCommandTarget(raw string) (string, string, int) {
	cmdline := strings.TrimSpace(raw)
	var dir string
	var timeoutMs int
	for {
		m := commandAttrRe.FindStringSubmatchIndex(cmdline)
		if m == nil {
			return cmdline, dir, timeoutMs
		}
		key := cmdline[m[2]:m[3]]
		var val string
		if m[6] >= 0 {
			val = cmdline[m[6]:m[7]]
		} else {
			val = cmdline[m[8]:m[9]]
		}
		switch key {
		case "dir":
			dir = val
		case "timeout":
			if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
				timeoutMs = ms
			}
		}
		cmdline = strings.TrimRight(cmdline[:m[0]], " \t")
	}
}
