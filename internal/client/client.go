package client

import "context"

// Conversation roles. The wire formats differ per provider; these are the
// neutral names the engine speaks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of conversation.
type Message struct {
	Role string
	Text string
}

// Request carries everything one streaming call needs. The system prompt
// travels separately because providers wire it differently.
type Request struct {
	System  string
	History []Message
	Message string
}

// Client is the transport to one model provider. Stream returns quickly;
// chunks arrive on the response channel until a chunk with Done is sent
// and the channel closes. A transport failure arrives as a chunk carrying
// Err, it is never retried past the client's own retry budget.
type Client interface {
	Stream(ctx context.Context, req Request) (*StreamingResponse, error)
	Model() string
	Close() error
}

// StreamingResponse is a live model reply.
type StreamingResponse struct {
	// Chunks receives response fragments. Closed when the reply ends.
	Chunks <-chan ResponseChunk

	// Done is closed when the producing goroutine has fully stopped.
	Done <-chan struct{}
}

// ResponseChunk is one fragment of a streaming reply.
type ResponseChunk struct {
	Text string

	// Err is set when the stream failed; such a chunk is always final.
	Err error

	// Done marks the final chunk.
	Done bool

	// Token usage from provider metadata, usually on the final chunk.
	InputTokens  int
	OutputTokens int
}

// Response is a fully collected reply.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Collect drains the stream into a single Response. The first error chunk
// aborts collection and is returned. Providers report cumulative token
// usage, so the latest nonzero count wins.
func (sr *StreamingResponse) Collect() (*Response, error) {
	resp := &Response{}

	for chunk := range sr.Chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		resp.Text += chunk.Text
		if chunk.InputTokens > 0 {
			resp.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			resp.OutputTokens = chunk.OutputTokens
		}
	}

	return resp, nil
}
