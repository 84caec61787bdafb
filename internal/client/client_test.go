package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// stream builds a StreamingResponse whose channel already holds the given
// chunks and is closed.
func stream(chunks ...ResponseChunk) *StreamingResponse {
	ch := make(chan ResponseChunk, len(chunks))
	done := make(chan struct{})
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	close(done)
	return &StreamingResponse{Chunks: ch, Done: done}
}

func TestCollectConcatenatesText(t *testing.T) {
	resp, err := stream(
		ResponseChunk{Text: "Hello"},
		ResponseChunk{Text: ", "},
		ResponseChunk{Text: "world", Done: true},
	).Collect()

	require.NoError(t, err)
	require.Equal(t, "Hello, world", resp.Text)
}

func TestCollectReturnsFirstError(t *testing.T) {
	boom := errors.New("stream broke")

	_, err := stream(
		ResponseChunk{Text: "partial"},
		ResponseChunk{Err: boom, Done: true},
	).Collect()

	require.ErrorIs(t, err, boom)
}

func TestCollectUsesLatestCumulativeUsage(t *testing.T) {
	// Providers report cumulative counts, so the last nonzero value is the
	// total for the reply.
	resp, err := stream(
		ResponseChunk{Text: "a", InputTokens: 12, OutputTokens: 1},
		ResponseChunk{Text: "b", InputTokens: 12, OutputTokens: 2},
		ResponseChunk{Text: "c", InputTokens: 12, OutputTokens: 3, Done: true},
	).Collect()

	require.NoError(t, err)
	require.Equal(t, 12, resp.InputTokens)
	require.Equal(t, 3, resp.OutputTokens)
}

func TestCollectEmptyStream(t *testing.T) {
	resp, err := stream().Collect()

	require.NoError(t, err)
	require.Empty(t, resp.Text)
	require.Zero(t, resp.InputTokens)
}
