package metering

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message is the minimal chat message shape the counter needs.
type Message struct {
	Role    string
	Content string
	Name    string
}

// heuristicCharsPerToken is the character-per-token ratio used by the
// fast estimator. English text averages about four characters per token;
// using a slightly lower ratio keeps partial-stream bills conservative.
const heuristicCharsPerToken = 3.8

// Per-message formatting overhead in the chat wire format: role marker,
// separators and the trailing assistant primer.
const (
	messageOverheadTokens = 4
	replyPrimerTokens     = 2
)

// Counter counts tokens with tiktoken, falling back to the character
// heuristic when an encoding is unavailable for a model family.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// encodingForModel maps model-alias families to tiktoken encodings.
// Unknown families use cl100k_base, which is close enough for billing
// fallback purposes.
func encodingForModel(model string) string {
	switch {
	case hasPrefix(model, "gpt-4o"), hasPrefix(model, "o1"), hasPrefix(model, "o3"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (c *Counter) encoding(name string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", name, err)
	}
	c.encodings[name] = enc
	return enc, nil
}

// CountText returns the token count of a text for the given model.
// Falls back to EstimateText when the encoding cannot be initialized.
func (c *Counter) CountText(model, text string) int {
	if text == "" {
		return 0
	}

	enc, err := c.encoding(encodingForModel(model))
	if err != nil {
		return EstimateText(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages returns the token count of a conversation for the given
// model, including per-message formatting overhead.
func (c *Counter) CountMessages(model string, messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += c.CountText(model, msg.Content)
		if msg.Name != "" {
			total += c.CountText(model, msg.Name)
		}
	}
	return total + replyPrimerTokens
}

// EstimateText estimates tokens from character count. Used on the
// streaming hot path where a full tokenizer pass is too expensive.
func EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/heuristicCharsPerToken) + 1
}

// EstimateMessages estimates tokens for a conversation with the character
// heuristic, including chat formatting overhead.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += EstimateText(msg.Content)
		if msg.Name != "" {
			total += EstimateText(msg.Name)
		}
	}
	return total + replyPrimerTokens
}
