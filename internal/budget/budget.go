// Package budget provides token budget estimation and message trimming for
// chat requests. Because chatraw talks to arbitrary OpenAI-compatible
// backends with different tokenizers, this package uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose and code).
// This deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/chatraw/chatraw/internal/provider"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output. Override with the model's configured context_length.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// chat messages, summing role + content for each message. Multi-part vision
// messages count only their text parts; image payloads are tokenized
// provider-side on a different scale entirely.
func EstimateMessages(msgs []provider.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(m.Role)
		total += Estimate(contentText(m.Content))
	}
	return total
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed
// contains messages that must not be trimmed (RAG context and the current
// user message). history contains prior conversation turns that may be
// dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned; fixed messages are never dropped
// here, so callers should warn separately if fixed alone exceeds the budget.
func TrimHistory(fixed, history []provider.ChatMessage, maxTokens int) []provider.ChatMessage {
	if len(history) == 0 {
		return history
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	fixedTokens := EstimateMessages(fixed)

	// History is typically ≤20 messages; a linear scan dropping the oldest
	// is clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// contentText extracts the estimable text from a message content value.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []provider.ContentPart:
		var s string
		for _, p := range v {
			s += p.Text
		}
		return s
	default:
		return ""
	}
}
