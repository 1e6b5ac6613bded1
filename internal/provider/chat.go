package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// eventPrefix marks one encoded delta frame in the provider's SSE stream.
const eventPrefix = "data: "

// doneSentinel is the literal frame that terminates a successful stream.
const doneSentinel = "[DONE]"

// reasoningFields is the ordered list of delta field names probed for
// reasoning content. Providers disagree on the name, so the first present,
// non-empty value wins.
var reasoningFields = []string{"reasoning_content", "reasoning", "thinking"}

// ChatMessage is one message in a chat completion request. Content is
// either a plain string or a []ContentPart for vision requests.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URL or remote URL.
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a plain-text chat message.
func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: text}
}

// VisionMessage builds a user message carrying text plus one base64 JPEG.
func VisionMessage(text, imageBase64 string) ChatMessage {
	return ChatMessage{Role: "user", Content: []ContentPart{
		{Type: "text", Text: text},
		{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + imageBase64}},
	}}
}

// ChatRequest holds the parameters for one chat completion call.
type ChatRequest struct {
	// Messages is the full conversation handed to the provider.
	Messages []ChatMessage
	// Temperature controls response randomness.
	Temperature float64
	// TopP is the nucleus sampling cutoff.
	TopP float64
	// MaxTokens caps the response length.
	MaxTokens int
	// Thinking requests the provider's reasoning token channel. When false
	// any reasoning fields in the stream are ignored.
	Thinking bool
}

// Delta is one decoded token-stream fragment. Either field may be empty.
type Delta struct {
	// Content is a visible answer fragment.
	Content string
	// Thinking is a reasoning fragment. Only populated when the request
	// asked for thinking.
	Thinking string
}

// chatWireRequest is the JSON body sent to the chat completions endpoint.
type chatWireRequest struct {
	Model          string         `json:"model"`
	Messages       []ChatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"top_p"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Stream         bool           `json:"stream"`
	EnableThinking *bool          `json:"enable_thinking,omitempty"`
	StreamOptions  *streamOptions `json:"stream_options,omitempty"`
}

// streamOptions carries streaming extensions understood by reasoning-capable
// providers.
type streamOptions struct {
	IncludeReasoning bool `json:"include_reasoning"`
}

// ChatClient issues chat completion calls. It is safe for concurrent use.
type ChatClient struct {
	// endpoint is the chat API target.
	endpoint Endpoint
	// pool is the shared outbound connection handle.
	pool *Pool
}

// NewChatClient constructs a ChatClient over the shared pool.
func NewChatClient(endpoint Endpoint, pool *Pool) *ChatClient {
	return &ChatClient{endpoint: endpoint, pool: pool}
}

// Configured reports whether the chat endpoint is set up.
func (c *ChatClient) Configured() bool {
	return c.endpoint.Configured()
}

// marshalRequest renders the wire body for req.
func (c *ChatClient) marshalRequest(req ChatRequest, stream bool) ([]byte, error) {
	wire := chatWireRequest{
		Model:       c.endpoint.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.Thinking {
		enabled := true
		wire.EnableThinking = &enabled
		if stream {
			wire.StreamOptions = &streamOptions{IncludeReasoning: true}
		}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal chat request: %w", err)
	}
	return payload, nil
}

// StreamChat opens a streaming chat completion. The caller owns the context
// deadline (use ChatTimeout) and must Close the returned stream. A non-2xx
// status is returned as *HTTPError with the response body as detail.
func (c *ChatClient) StreamChat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload, err := c.marshalRequest(req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.endpoint.newRequest(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.pool.Client().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: chat request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, newHTTPError(resp.StatusCode, body)
	}

	return &ChatStream{
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
		thinking: req.Thinking,
	}, nil
}

// ChatStream reads decoded deltas off one streaming chat response.
// It is not safe for concurrent use; one goroutine drives one stream.
type ChatStream struct {
	// body is the underlying response body, closed by Close.
	body io.ReadCloser
	// reader buffers the byte stream for line-oriented scanning.
	reader *bufio.Reader
	// thinking gates reasoning-field extraction.
	thinking bool
	// done is set once the sentinel terminator has been seen.
	done bool
}

// Recv returns the next non-empty delta. It returns io.EOF when the stream
// terminated (sentinel frame or natural end of body). Malformed lines are
// skipped; one bad line never aborts an otherwise-good stream.
func (s *ChatStream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.done = true
				return Delta{}, io.EOF
			}
			return Delta{}, fmt.Errorf("provider: stream read: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}
		payload := line[len(eventPrefix):]
		if payload == doneSentinel {
			s.done = true
			return Delta{}, io.EOF
		}

		delta, ok := parseDelta([]byte(payload), s.thinking)
		if !ok {
			// Undecodable frame: skip, keep streaming.
			continue
		}
		if delta.Content == "" && delta.Thinking == "" {
			continue
		}
		return delta, nil
	}
}

// Close releases the upstream response body. Always call it, including on
// early exit, so the provider connection is returned or torn down promptly.
func (s *ChatStream) Close() error {
	return s.body.Close()
}

// parseDelta decodes one frame payload into a Delta. ok=false means the
// line is malformed and should be skipped; malformed frames are a parse
// outcome, never an error.
func parseDelta(payload []byte, thinking bool) (Delta, bool) {
	var frame struct {
		Choices []struct {
			Delta map[string]any `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Delta{}, false
	}
	if len(frame.Choices) == 0 || frame.Choices[0].Delta == nil {
		return Delta{}, false
	}

	raw := frame.Choices[0].Delta
	var d Delta
	if v, ok := raw["content"].(string); ok {
		d.Content = v
	}
	if thinking {
		d.Thinking = probeReasoning(raw)
	}
	return d, true
}

// probeReasoning returns the first present, non-empty reasoning field in
// priority order.
func probeReasoning(fields map[string]any) string {
	for _, name := range reasoningFields {
		if v, ok := fields[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// chatCompletionResponse is the JSON body of a blocking chat completion.
type chatCompletionResponse struct {
	Choices []struct {
		Message map[string]any `json:"message"`
	} `json:"choices"`
}

// Complete issues a blocking (non-streaming) chat completion and returns
// the answer text and any reasoning text.
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (content, thinking string, err error) {
	if !c.Configured() {
		return "", "", ErrNotConfigured
	}

	payload, err := c.marshalRequest(req, false)
	if err != nil {
		return "", "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	httpReq, err := c.endpoint.newRequest(callCtx, "/chat/completions", payload)
	if err != nil {
		return "", "", err
	}

	resp, err := c.pool.Client().Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("provider: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", "", newHTTPError(resp.StatusCode, body)
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", fmt.Errorf("provider: decode chat response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return "", "", fmt.Errorf("provider: chat response contained no choices")
	}

	msg := result.Choices[0].Message
	if v, ok := msg["content"].(string); ok {
		content = v
	}
	if req.Thinking {
		thinking = probeReasoning(msg)
	}
	return content, thinking, nil
}

// Verify issues a minimal completion to confirm the endpoint accepts chat
// calls. Used by POST /api/models/verify.
func (c *ChatClient) Verify(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	_, _, err := c.Complete(ctx, ChatRequest{
		Messages:  []ChatMessage{TextMessage("user", "Say OK")},
		MaxTokens: 5,
	})
	return err
}

// Ping probes the chat endpoint for readiness checks.
func (c *ChatClient) Ping(ctx context.Context) error { return c.Verify(ctx) }

// Name returns the label used in readiness responses.
func (c *ChatClient) Name() string { return "chat" }
