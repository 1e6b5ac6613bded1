// Package relay consumes a provider's token stream and re-emits it to the
// caller as a normalized newline-delimited JSON event stream, separating
// visible answer tokens from reasoning tokens, accumulating both, and
// persisting the completed message when the stream ends. A blocking variant
// performs the same request/accumulate/persist steps without incremental
// events.
//
// The relay is a state machine: CONNECTING → STREAMING → (COMPLETING |
// FAILED). A successful stream ends with exactly one {"done":true} event;
// a failed one with exactly one {"error":...} event and nothing after it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/rag"
	"github.com/chatraw/chatraw/internal/store"
)

// titlePreviewLen is the maximum title length generated from the first user
// message of a conversation.
const titlePreviewLen = 30

// titleMessageThreshold is the message count at or below which the title
// side effect fires after persisting the assistant turn (first exchange).
const titleMessageThreshold = 2

// Event is one frame of the normalized NDJSON stream handed to the caller.
// Exactly one field is set per event.
type Event struct {
	// ChatID is emitted once, first, so the caller learns the thread ID.
	ChatID string `json:"chat_id,omitempty"`
	// Content is a visible answer fragment.
	Content string `json:"content,omitempty"`
	// Thinking is a reasoning fragment.
	Thinking string `json:"thinking,omitempty"`
	// References lists the retrieval results used for this answer.
	References []rag.Candidate `json:"references,omitempty"`
	// Done terminates a successful stream.
	Done bool `json:"done,omitempty"`
	// Error terminates a failed stream; no events follow it.
	Error string `json:"error,omitempty"`
}

// ChatCaller is the provider surface the relay drives. *provider.ChatClient
// satisfies it.
type ChatCaller interface {
	// StreamChat opens a streaming completion.
	StreamChat(ctx context.Context, req provider.ChatRequest) (*provider.ChatStream, error)
	// Complete performs a blocking completion.
	Complete(ctx context.Context, req provider.ChatRequest) (content, thinking string, err error)
}

// Persister is the store surface the relay needs to finalize a message.
// *store.Store satisfies it.
type Persister interface {
	// AddMessage persists one completed assistant turn.
	AddMessage(ctx context.Context, chatID string, role store.Role, content string) (store.Message, error)
	// MessageCount reports how many messages the chat holds.
	MessageCount(ctx context.Context, chatID string) (int, error)
	// UpdateChatTitle sets the auto-generated chat title.
	UpdateChatTitle(ctx context.Context, chatID, title string) error
}

// Request is one retrieval-augmented chat turn handed to the relay.
type Request struct {
	// ChatID is the conversation thread being extended.
	ChatID string
	// UserMessage is the raw user message, used for title generation.
	UserMessage string
	// Messages is the fully assembled conversation (history + context +
	// final user message) sent to the provider.
	Messages []provider.ChatMessage
	// Temperature, TopP, and MaxTokens are the generation parameters.
	Temperature float64
	TopP        float64
	MaxTokens   int
	// Thinking requests the reasoning token channel.
	Thinking bool
	// References are the retrieval results, echoed to the caller after the
	// answer completes.
	References []rag.Candidate
}

// Result is the outcome of a blocking (non-streaming) chat turn.
type Result struct {
	// Content is the visible answer text.
	Content string `json:"content"`
	// Thinking is the accumulated reasoning text, if any.
	Thinking string `json:"thinking,omitempty"`
	// References are the retrieval results used for this answer.
	References []rag.Candidate `json:"references"`
}

// Relay drives provider chat calls and owns the persistence of completed
// answers. It is safe for concurrent use; each call is independent.
type Relay struct {
	// chat is the provider client.
	chat ChatCaller
	// persister finalizes completed messages.
	persister Persister
}

// New constructs a Relay.
func New(chat ChatCaller, persister Persister) (*Relay, error) {
	if chat == nil {
		return nil, fmt.Errorf("relay: chat caller must not be nil")
	}
	if persister == nil {
		return nil, fmt.Errorf("relay: persister must not be nil")
	}
	return &Relay{chat: chat, persister: persister}, nil
}

// Stream runs one streaming chat turn, writing NDJSON events to w as they
// arrive. The caller's ctx governs cancellation: when the caller goes away
// the upstream provider connection is released promptly and nothing is
// persisted. Stream always terminates the event stream with done or error;
// it returns an error only to report the failure to the caller's logs;
// the wire-level outcome has already been written.
func (r *Relay) Stream(ctx context.Context, w io.Writer, req Request) error {
	log := logging.FromContext(ctx)

	if err := writeEvent(w, Event{ChatID: req.ChatID}); err != nil {
		return fmt.Errorf("relay: caller gone before stream start: %w", err)
	}

	// CONNECTING. The timeout spans the whole provider call including the
	// stream body; cancel on return releases the upstream connection.
	streamCtx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	stream, err := r.chat.StreamChat(streamCtx, r.providerRequest(req))
	if err != nil {
		// FAILED before any token arrived.
		_ = writeEvent(w, Event{Error: provider.Reason(err)})
		return fmt.Errorf("relay: connect: %w", err)
	}
	defer stream.Close()

	// STREAMING: demultiplex answer vs reasoning fragments, accumulate
	// both, and re-emit each immediately in arrival order.
	var answer, thinking strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Caller disconnected: stop consuming, persist nothing.
				return fmt.Errorf("relay: caller cancelled: %w", ctx.Err())
			}
			_ = writeEvent(w, Event{Error: provider.Reason(err)})
			return fmt.Errorf("relay: stream: %w", err)
		}

		if delta.Content != "" {
			answer.WriteString(delta.Content)
			if err := writeEvent(w, Event{Content: delta.Content}); err != nil {
				return fmt.Errorf("relay: caller gone mid-stream: %w", err)
			}
		}
		if delta.Thinking != "" {
			thinking.WriteString(delta.Thinking)
			if err := writeEvent(w, Event{Thinking: delta.Thinking}); err != nil {
				return fmt.Errorf("relay: caller gone mid-stream: %w", err)
			}
		}
	}

	// COMPLETING: persist only a complete answer, never a cancelled one.
	if ctx.Err() != nil {
		return fmt.Errorf("relay: caller cancelled at completion: %w", ctx.Err())
	}
	if answer.Len() > 0 {
		if err := r.finalize(ctx, req, answer.String(), thinking.String()); err != nil {
			log.Error("relay: finalize failed", slog.Any("error", err))
			_ = writeEvent(w, Event{Error: err.Error()})
			return fmt.Errorf("relay: finalize: %w", err)
		}
	}

	if len(req.References) > 0 {
		if err := writeEvent(w, Event{References: req.References}); err != nil {
			return fmt.Errorf("relay: caller gone at references: %w", err)
		}
	}
	return writeEvent(w, Event{Done: true})
}

// Complete runs one blocking chat turn: same request, accumulation, and
// persistence semantics as Stream, but the result is returned whole and
// failures surface as errors rather than events.
func (r *Relay) Complete(ctx context.Context, req Request) (Result, error) {
	content, thinking, err := r.chat.Complete(ctx, r.providerRequest(req))
	if err != nil {
		return Result{}, fmt.Errorf("relay: complete: %w", err)
	}

	if content != "" {
		if err := r.finalize(ctx, req, content, thinking); err != nil {
			return Result{}, fmt.Errorf("relay: finalize: %w", err)
		}
	}

	return Result{Content: content, Thinking: thinking, References: req.References}, nil
}

// providerRequest maps the relay request onto the provider call.
func (r *Relay) providerRequest(req Request) provider.ChatRequest {
	return provider.ChatRequest{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Thinking:    req.Thinking,
	}
}

// finalize persists the completed assistant message (the thinking text, if
// any, wrapped in a <think> block ahead of the answer) and fires the title
// side effect on the conversation's first exchange.
func (r *Relay) finalize(ctx context.Context, req Request, answer, thinking string) error {
	content := answer
	if thinking != "" {
		content = WrapThinking(thinking) + answer
	}

	if _, err := r.persister.AddMessage(ctx, req.ChatID, store.RoleAssistant, content); err != nil {
		return err
	}

	count, err := r.persister.MessageCount(ctx, req.ChatID)
	if err != nil {
		return err
	}
	if count <= titleMessageThreshold {
		if err := r.persister.UpdateChatTitle(ctx, req.ChatID, TitleFor(req.UserMessage)); err != nil {
			return err
		}
	}
	return nil
}

// WrapThinking renders accumulated reasoning text as the <think> block that
// prefixes a persisted answer.
func WrapThinking(thinking string) string {
	return "<think>\n" + thinking + "\n</think>\n\n"
}

// TitleFor derives a chat title from the triggering user message, truncated
// to a bounded preview length. The bound counts characters, not bytes, so a
// multibyte message is never cut mid-rune.
func TitleFor(userMessage string) string {
	runes := []rune(userMessage)
	if len(runes) > titlePreviewLen {
		return string(runes[:titlePreviewLen]) + "..."
	}
	return userMessage
}

// writeEvent marshals one event as a single NDJSON line. Write errors mean
// the caller is gone; the relay stops rather than buffering into the void.
func writeEvent(w io.Writer, e Event) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("relay: marshal event: %w", err)
	}
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("relay: write event: %w", err)
	}
	return nil
}
