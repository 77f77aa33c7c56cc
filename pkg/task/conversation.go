package task

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/mozilla/pilo-sub005/pkg/types"
)

// defaultTokenBudget bounds the prompt size sent each iteration.
const defaultTokenBudget = 48000

// trimMarker replaces dropped history so the model knows steps are missing.
const trimMarker = "[earlier steps omitted to fit the context window]"

// Conversation is the running message history for one task. The system
// prompt and the original task statement are pinned; older observations in
// between are dropped oldest-first once the token budget is exceeded.
type Conversation struct {
	system  *types.Message
	task    *types.Message
	history []*types.Message
	budget  int
	encoder *tiktoken.Tiktoken
}

// NewConversation creates a conversation with the given system prompt and
// task statement. A budget of 0 uses the default.
func NewConversation(systemPrompt, task string, budget int) *Conversation {
	if budget <= 0 {
		budget = defaultTokenBudget
	}
	// Encoder load can fail offline; token counting then degrades to a
	// bytes/4 estimate rather than failing the task.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		encoder = nil
	}
	return &Conversation{
		system:  types.NewSystemMessage(systemPrompt),
		task:    types.NewUserMessage(task),
		budget:  budget,
		encoder: encoder,
	}
}

// Add appends a message to the history.
func (c *Conversation) Add(m *types.Message) {
	c.history = append(c.history, m)
}

// Messages returns the prompt for the next generation, trimmed to budget.
func (c *Conversation) Messages() []*types.Message {
	c.trim()
	out := make([]*types.Message, 0, len(c.history)+2)
	out = append(out, c.system, c.task)
	out = append(out, c.history...)
	return out
}

// TokenCount returns the approximate token size of the full prompt.
func (c *Conversation) TokenCount() int {
	total := c.countTokens(c.system.Content) + c.countTokens(c.task.Content)
	for _, m := range c.history {
		total += c.countTokens(m.Content)
	}
	return total
}

// trim drops oldest history until the prompt fits the budget, leaving a
// marker in place of what was removed. The most recent exchange always
// survives, even over budget: without it the model has nothing to act on.
func (c *Conversation) trim() {
	for c.TokenCount() > c.budget && len(c.history) > 2 {
		if c.history[0].Content == trimMarker {
			c.history = c.history[1:]
		}
		c.history = c.history[1:]
		c.history = append([]*types.Message{types.NewUserMessage(trimMarker)}, c.history...)
	}
}

func (c *Conversation) countTokens(s string) int {
	if c.encoder == nil {
		return len(s) / 4
	}
	return len(c.encoder.Encode(s, nil, nil))
}
