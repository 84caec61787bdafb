package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"selkie/internal/action"
	"selkie/internal/engine"
)

// Format selects the turn output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, markdown, or json)", s)
	}
}

// Muted professional palette, aligned with the terminal theme.
var (
	colorSuccess = lipgloss.Color("#059669") // Emerald 600
	colorError   = lipgloss.Color("#DC2626") // Red 600
	colorMuted   = lipgloss.Color("#9CA3AF") // Gray 400
	colorAccent  = lipgloss.Color("#22D3EE") // Cyan 400
)

var (
	styleOK     = lipgloss.NewStyle().Foreground(colorSuccess)
	styleFail   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(colorMuted)
	styleAction = lipgloss.NewStyle().Foreground(colorAccent)
)

// Renderer turns engine output into terminal text. One renderer serves
// one output stream; it is not safe for concurrent use.
type Renderer struct {
	format Format
	color  bool
	md     *glamour.TermRenderer
}

// New builds a renderer. Markdown output renders through glamour; the
// other formats never touch it.
func New(format Format, color bool) (*Renderer, error) {
	r := &Renderer{format: format, color: color}

	if format == FormatMarkdown {
		style := "dark"
		if !color {
			style = "notty"
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(0),
		)
		if err != nil {
			return nil, fmt.Errorf("building markdown renderer: %w", err)
		}
		r.md = md
	}

	return r, nil
}

// Format returns the configured output format.
func (r *Renderer) Format() Format { return r.format }

// Text passes a streaming model text span through. JSON mode stays
// silent until the final record.
func (r *Renderer) Text(s string) string {
	if r.format == FormatJSON {
		return ""
	}
	return s
}

// ActionStarted renders the announcement line for a block.
func (r *Renderer) ActionStarted(block *action.Block) string {
	if r.format == FormatJSON {
		return ""
	}
	return r.paint(styleAction, fmt.Sprintf("▶ %s %s", block.Kind, block.Target)) + "\n"
}

// ActionResult renders the outcome line for a block. Command and git
// output is shown; file output only when the action failed.
func (r *Renderer) ActionResult(block *action.Block, res *action.Result) string {
	if r.format == FormatJSON {
		return ""
	}

	var sb strings.Builder
	if res.OK {
		sb.WriteString(r.paint(styleOK, fmt.Sprintf("✓ %s %s", block.Kind, block.Target)))
	} else {
		sb.WriteString(r.paint(styleFail, fmt.Sprintf("✗ %s %s [%s]", block.Kind, block.Target, res.ErrorKind)))
	}
	if res.Duration >= time.Millisecond {
		sb.WriteString(r.paint(styleMuted, fmt.Sprintf(" (%s)", res.Duration.Round(time.Millisecond))))
	}
	sb.WriteString("\n")

	showOutput := !res.OK || block.Kind == action.KindCommand || block.Kind == action.KindGit
	if out := strings.TrimRight(res.Output, "\n"); out != "" && showOutput {
		for _, line := range strings.Split(out, "\n") {
			sb.WriteString(r.paint(styleMuted, "  "+line))
			sb.WriteString("\n")
		}
	}
	for _, note := range res.Notes {
		sb.WriteString(r.paint(styleMuted, "  note: "+note))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Turn renders the complete record. For text and markdown this is the
// full transcript plus a summary footer; for json it is the only output.
func (r *Renderer) Turn(record *engine.TurnRecord) (string, error) {
	switch r.format {
	case FormatJSON:
		return r.turnJSON(record)
	case FormatMarkdown:
		return r.turnTranscript(record, r.renderMarkdown)
	default:
		return r.turnTranscript(record, func(s string) string { return s })
	}
}

func (r *Renderer) turnTranscript(record *engine.TurnRecord, text func(string) string) (string, error) {
	var sb strings.Builder
	for _, span := range record.Spans {
		if span.Block == nil {
			sb.WriteString(text(span.Text))
			continue
		}
		sb.WriteString(r.ActionStarted(span.Block))
		sb.WriteString(r.ActionResult(span.Block, span.Result))
	}
	sb.WriteString(r.Footer(record))
	return sb.String(), nil
}

func (r *Renderer) turnJSON(record *engine.TurnRecord) (string, error) {
	out, err := json.MarshalIndent(jsonTurnFrom(record), "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// Footer summarizes the turn: identity, counts, usage, warnings, error.
func (r *Renderer) Footer(record *engine.TurnRecord) string {
	if r.format == FormatJSON {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")

	parts := []string{
		"turn " + shortID(record.ID),
		"model " + record.Model,
		fmt.Sprintf("%d actions", len(record.Actions())),
		record.Duration().Round(10 * time.Millisecond).String(),
	}
	if record.InputTokens > 0 || record.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("tokens in %d out %d", record.InputTokens, record.OutputTokens))
	}
	if record.ContextFiles > 0 {
		parts = append(parts, fmt.Sprintf("context %d files ~%d tokens", record.ContextFiles, record.ContextTokens))
	}
	sb.WriteString(r.paint(styleMuted, "── "+strings.Join(parts, " · ")))
	sb.WriteString("\n")

	for _, w := range record.Warnings {
		sb.WriteString(r.paint(styleMuted, "warning: "+w))
		sb.WriteString("\n")
	}
	if record.Cancelled {
		sb.WriteString(r.paint(styleFail, "turn cancelled"))
		sb.WriteString("\n")
	}
	if record.Err != nil {
		sb.WriteString(r.paint(styleFail, "error: "+record.Err.Error()))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Renderer) renderMarkdown(s string) string {
	if r.md == nil || s == "" {
		return s
	}
	rendered, err := r.md.Render(s)
	if err != nil {
		return s
	}
	return rendered
}

// paint applies a style only when color output is on.
func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// jsonTurn is the machine-readable record shape.
type jsonTurn struct {
	ID            string     `json:"id"`
	Model         string     `json:"model"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	ContextFiles  int        `json:"context_files"`
	ContextTokens int        `json:"context_tokens"`
	InputTokens   int        `json:"input_tokens,omitempty"`
	OutputTokens  int        `json:"output_tokens,omitempty"`
	Spans         []jsonSpan `json:"spans"`
	Warnings      []string   `json:"warnings,omitempty"`
	Cancelled     bool       `json:"cancelled,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type jsonSpan struct {
	Type       string `json:"type"` // "text" or "action"
	Text       string `json:"text,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Target     string `json:"target,omitempty"`
	OK         *bool  `json:"ok,omitempty"`
	Output     string `json:"output,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func jsonTurnFrom(record *engine.TurnRecord) jsonTurn {
	jt := jsonTurn{
		ID:            record.ID,
		Model:         record.Model,
		StartedAt:     record.StartedAt,
		FinishedAt:    record.FinishedAt,
		DurationMs:    record.Duration().Milliseconds(),
		ContextFiles:  record.ContextFiles,
		ContextTokens: record.ContextTokens,
		InputTokens:   record.InputTokens,
		OutputTokens:  record.OutputTokens,
		Warnings:      record.Warnings,
		Cancelled:     record.Cancelled,
	}
	if record.Err != nil {
		jt.Error = record.Err.Error()
	}
	for _, span := range record.Spans {
		if span.Block == nil {
			jt.Spans = append(jt.Spans, jsonSpan{Type: "text", Text: span.Text})
			continue
		}
		ok := span.Result.OK
		jt.Spans = append(jt.Spans, jsonSpan{
			Type:       "action",
			Kind:       string(span.Block.Kind),
			Target:     span.Block.Target,
			OK:         &ok,
			Output:     span.Result.Output,
			ErrorKind:  span.Result.ErrorKind,
			DurationMs: span.Result.Duration.Milliseconds(),
		})
	}
	return jt
}
