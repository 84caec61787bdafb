package action

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runParser feeds text in chunks of the given size (0 = whole text) and
// returns emitted blocks plus the concatenated plain text.
func runParser(text string, chunkSize int) ([]Block, string, []Warning) {
	p := NewStreamParser()
	var events []Event

	if chunkSize <= 0 {
		events = append(events, p.Feed(text)...)
	} else {
		for start := 0; start < len(text); start += chunkSize {
			end := start + chunkSize
			if end > len(text) {
				end = len(text)
			}
			events = append(events, p.Feed(text[start:end])...)
		}
	}
	events = append(events, p.Close()...)

	var blocks []Block
	var plain strings.Builder
	for _, ev := range events {
		if ev.Block != nil {
			blocks = append(blocks, *ev.Block)
		} else {
			plain.WriteString(ev.Text)
		}
	}
	return blocks, plain.String(), p.Warnings()
}

func TestParseSingleWriteBlock(t *testing.T) {
	text := "Creating the file now.\n" +
		"[FILE_WRITE: src/main.go]\n" +
		"package main\n" +
		"\n" +
		"func main() {}\n" +
		"[/FILE_WRITE]\n" +
		"Done.\n"

	blocks, plain, warnings := runParser(text, 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, Block{
		Kind:   KindFileWrite,
		Target: "src/main.go",
		Body:   "package main\n\nfunc main() {}\n",
	}, blocks[0])
	assert.Equal(t, "Creating the file now.\nDone.\n", plain)
	assert.Empty(t, warnings)
}

func TestMarkerSplitAcrossFragments(t *testing.T) {
	p := NewStreamParser()
	var events []Event
	events = append(events, p.Feed("[FILE_WR")...)
	events = append(events, p.Feed("ITE: a.txt]\nhi\n[/FILE_WRITE]")...)
	events = append(events, p.Close()...)

	var blocks []Block
	for _, ev := range events {
		if ev.Block != nil {
			blocks = append(blocks, *ev.Block)
		}
	}
	require.Len(t, blocks, 1)
	assert.Equal(t, Block{Kind: KindFileWrite, Target: "a.txt", Body: "hi\n"}, blocks[0])
}

func TestFragmentSplitEquivalence(t *testing.T) {
	text := "Plan first.\n" +
		"[FILE_WRITE: pkg/app.go]\n" +
		"package pkg\n" +
		"[/FILE_WRITE]\n" +
		"Then check status:\n" +
		"[GIT: status]\n" +
		"[/GIT]\n" +
		"[COMMAND: go test ./... dir=\"pkg\" timeout=5000]\n" +
		"[/COMMAND]\n" +
		"All done.\n"

	wantBlocks, wantPlain, _ := runParser(text, 0)
	require.Len(t, wantBlocks, 3)

	// Any split point must produce the identical block sequence and the
	// identical concatenated text.
	for i := 0; i <= len(text); i++ {
		p := NewStreamParser()
		var events []Event
		events = append(events, p.Feed(text[:i])...)
		events = append(events, p.Feed(text[i:])...)
		events = append(events, p.Close()...)

		var blocks []Block
		var plain strings.Builder
		for _, ev := range events {
			if ev.Block != nil {
				blocks = append(blocks, *ev.Block)
			} else {
				plain.WriteString(ev.Text)
			}
		}
		if diff := cmp.Diff(wantBlocks, blocks); diff != "" {
			t.Fatalf("split at %d changed blocks (-want +got):\n%s", i, diff)
		}
		if plain.String() != wantPlain {
			t.Fatalf("split at %d changed text: %q != %q", i, plain.String(), wantPlain)
		}
	}

	// Byte-by-byte delivery too.
	gotBlocks, gotPlain, _ := runParser(text, 1)
	assert.Equal(t, wantBlocks, gotBlocks)
	assert.Equal(t, wantPlain, gotPlain)
}

func TestCommandAttributes(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		cmd     string
		dir     string
		timeout int
	}{
		{"plain", "[COMMAND: ls -la]", "ls -la", "", 0},
		{"dir", "[COMMAND: cargo test dir=\"backend\"]", "cargo test", "backend", 0},
		{"timeout", "[COMMAND: sleep 1 timeout=500]", "sleep 1", "", 500},
		{"both", "[COMMAND: make build dir=\"sub\" timeout=60000]", "make build", "sub", 60000},
		{"bare dir value", "[COMMAND: pwd dir=sub]", "pwd", "sub", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks, _, _ := runParser(tc.line+"\n[/COMMAND]\n", 0)
			require.Len(t, blocks, 1)
			assert.Equal(t, tc.cmd, blocks[0].Target)
			assert.Equal(t, tc.dir, blocks[0].Dir)
			assert.Equal(t, tc.timeout, blocks[0].TimeoutMs)
		})
	}
}

func TestUnterminatedBlockDegradesToText(t *testing.T) {
	blocks, plain, warnings := runParser("[COMMAND: ls]\nls -la", 0)

	assert.Empty(t, blocks, "no action may be emitted from an unterminated block")
	assert.Equal(t, "[COMMAND: ls]\nls -la", plain)
	require.Len(t, warnings, 1)
	assert.Equal(t, KindCommand, warnings[0].Kind)
}

func TestInnerMarkersAreLiteralBody(t *testing.T) {
	text := "[FILE_WRITE: doc.md]\n" +
		"Example:\n" +
		"[COMMAND: rm -rf /]\n" +
		"[FILE_WRITE: other.txt]\n" +
		"[/FILE_WRITE]\n"

	blocks, _, warnings := runParser(text, 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, KindFileWrite, blocks[0].Kind)
	assert.Equal(t, "doc.md", blocks[0].Target)
	assert.Equal(t, "Example:\n[COMMAND: rm -rf /]\n[FILE_WRITE: other.txt]\n", blocks[0].Body)
	assert.Empty(t, warnings)
}

func TestUnknownMarkerStaysText(t *testing.T) {
	text := "[NOT_A_KIND: x]\nbody\n[/NOT_A_KIND]\n"
	blocks, plain, _ := runParser(text, 0)
	assert.Empty(t, blocks)
	assert.Equal(t, text, plain)
}

func TestMarkerMustOwnItsLine(t *testing.T) {
	t.Run("text before marker", func(t *testing.T) {
		blocks, plain, _ := runParser("see [FILE_READ: a.txt]\n", 0)
		assert.Empty(t, blocks)
		assert.Equal(t, "see [FILE_READ: a.txt]\n", plain)
	})
	t.Run("text after marker", func(t *testing.T) {
		blocks, plain, _ := runParser("[FILE_READ: a.txt] please\n", 0)
		assert.Empty(t, blocks)
		assert.Equal(t, "[FILE_READ: a.txt] please\n", plain)
	})
	t.Run("surrounding whitespace ok", func(t *testing.T) {
		blocks, _, _ := runParser("  [FILE_READ: a.txt]  \n[/FILE_READ]\n", 0)
		require.Len(t, blocks, 1)
		assert.Equal(t, "a.txt", blocks[0].Target)
	})
}

func TestMismatchedCloseMarkerDegrades(t *testing.T) {
	blocks, plain, warnings := runParser("[FILE_WRITE: a.txt]\nbody\n[/COMMAND]\n", 0)

	assert.Empty(t, blocks)
	assert.Equal(t, "[FILE_WRITE: a.txt]\nbody\n[/COMMAND]\n", plain)
	require.Len(t, warnings, 1)
	assert.Equal(t, KindFileWrite, warnings[0].Kind)
}

func TestClosingMarkerAtStreamEndWithoutNewline(t *testing.T) {
	blocks, _, warnings := runParser("[FILE_READ: notes.txt]\n[/FILE_READ]", 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, KindFileRead, blocks[0].Kind)
	assert.Empty(t, warnings)
}

func TestInterleavedTextAndBlocks(t *testing.T) {
	text := "a\n[GIT: status]\n[/GIT]\nb\n[GIT: log -5]\n[/GIT]\nc\n"
	blocks, plain, _ := runParser(text, 0)

	require.Len(t, blocks, 2)
	assert.Equal(t, "status", blocks[0].Target)
	assert.Equal(t, "log -5", blocks[1].Target)
	assert.Equal(t, "a\nb\nc\n", plain)
}

func TestCRLFMarkersRecognized(t *testing.T) {
	blocks, _, _ := runParser("[FILE_DELETE: tmp.txt]\r\n[/FILE_DELETE]\r\n", 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, KindFileDelete, blocks[0].Kind)
	assert.Equal(t, "tmp.txt", blocks[0].Target)
}
