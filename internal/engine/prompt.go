package engine

import (
	"fmt"
	"strings"

	filectx "selkie/internal/context"
)

// systemPrompt teaches the model the action vocabulary. The grammar here
// must stay in lockstep with the stream parser: markers on their own
// line, closing tag per kind, dir/timeout attributes on COMMAND.
func systemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are a coding assistant operating inside a project directory.\n")
	sb.WriteString("You can read and modify files and run commands by emitting action blocks\n")
	sb.WriteString("in your reply. Everything outside an action block is shown to the user\n")
	sb.WriteString("as ordinary text.\n\n")

	sb.WriteString("ACTION BLOCKS\n\n")
	sb.WriteString("Each marker must be on its own line. Supported actions:\n\n")

	sb.WriteString("Write a file (content between the markers, created or overwritten):\n")
	sb.WriteString("[FILE_WRITE: relative/path.go]\n")
	sb.WriteString("package main\n")
	sb.WriteString("[/FILE_WRITE]\n\n")

	sb.WriteString("Read a file (its content is returned to you next turn):\n")
	sb.WriteString("[FILE_READ: relative/path.go]\n")
	sb.WriteString("[/FILE_READ]\n\n")

	sb.WriteString("Delete a file:\n")
	sb.WriteString("[FILE_DELETE: relative/path.go]\n")
	sb.WriteString("[/FILE_DELETE]\n\n")

	sb.WriteString("Run a shell command (optional dir=\"subdir\" and timeout=milliseconds):\n")
	sb.WriteString("[COMMAND: go test ./... dir=\"internal\" timeout=60000]\n")
	sb.WriteString("[/COMMAND]\n\n")

	sb.WriteString("Run a git operation (status, diff, log, commit, add only):\n")
	sb.WriteString("[GIT: status]\n")
	sb.WriteString("[/GIT]\n\n")

	sb.WriteString("RULES\n\n")
	sb.WriteString("1. All paths are relative to the project root. Never use absolute paths\n")
	sb.WriteString("   or .. segments; they will be rejected.\n")
	sb.WriteString("2. FILE_WRITE replaces the whole file. Include the complete new content,\n")
	sb.WriteString("   never a fragment or a diff.\n")
	sb.WriteString("3. Explain what you are doing in plain text around your action blocks.\n")
	sb.WriteString("4. Actions execute in the order they appear in your reply.\n")
	sb.WriteString("5. A failed action does not stop the rest; check results before building\n")
	sb.WriteString("   on them.\n")

	return sb.String()
}

// userMessage prepends the assembled project context to the user's
// prompt. Files are fenced and labeled by path so the model can cite
// them back.
func userMessage(asm *filectx.AssembledContext, message string) string {
	if asm == nil || len(asm.Files) == 0 {
		return message
	}

	var sb strings.Builder
	sb.WriteString("PROJECT CONTEXT\n\n")
	sb.WriteString(fmt.Sprintf("%d files, ~%d tokens. Current content follows.\n\n",
		len(asm.Files), asm.TotalTokens))

	for _, f := range asm.Files {
		sb.WriteString("--- ")
		sb.WriteString(f.Path)
		sb.WriteString(" ---\n")
		sb.Write(f.Content)
		if len(f.Content) > 0 && f.Content[len(f.Content)-1] != '\n' {
			sb.WriteByte('\n')
		}
		sb.WriteString("--- end ---\n\n")
	}

	if len(asm.Skipped) > 0 {
		sb.WriteString(fmt.Sprintf("(%d files omitted for budget or read errors)\n\n", len(asm.Skipped)))
	}

	sb.WriteString("USER REQUEST\n\n")
	sb.WriteString(message)
	return sb.String()
}
