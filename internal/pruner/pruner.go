// Package pruner trims conversation history to fit a model context window.
// Pruning drops whole turns from the oldest end and never separates an
// assistant tool call from the user message carrying its result.
package pruner

import (
	"fmt"

	"github.com/adze-dev/adze/pkg/models"
)

// Pruner decides whether and how to shrink the message window sent to the
// model. Budget is a token target; preservation rules take precedence over
// hitting it exactly. Units containing a protected message id are never
// dropped regardless of age.
type Pruner interface {
	ShouldPrune(messages []*models.Message, budget int) (bool, string)
	Prune(messages []*models.Message, budget int, protected map[string]struct{}) ([]*models.Message, *models.WindowChange)
}

// Config configures the default pruner.
type Config struct {
	// MinKeepUnits is the number of trailing turn units always kept,
	// budget or not.
	MinKeepUnits int `json:"min_keep_units" yaml:"min_keep_units"`

	// PreserveTask keeps the leading system messages and the first user
	// message through every prune.
	PreserveTask bool `json:"preserve_task" yaml:"preserve_task"`
}

// DefaultConfig returns a sensible default pruner configuration.
func DefaultConfig() Config {
	return Config{
		MinKeepUnits: 2,
		PreserveTask: true,
	}
}

// ContextPruner is the default Pruner. It groups messages into turn units,
// walks them newest to oldest until the budget is spent, and re-attaches the
// preserved preamble in front.
type ContextPruner struct {
	config Config
}

// New creates a pruner with the given configuration.
func New(config Config) *ContextPruner {
	if config.MinKeepUnits <= 0 {
		config.MinKeepUnits = 1
	}
	return &ContextPruner{config: config}
}

// ShouldPrune reports whether the window exceeds the budget, with a reason.
func (p *ContextPruner) ShouldPrune(messages []*models.Message, budget int) (bool, string) {
	if budget <= 0 {
		return false, ""
	}
	tokens := EstimateTokens(messages)
	if tokens <= budget {
		return false, ""
	}
	return true, fmt.Sprintf("estimated tokens %d exceeds budget %d", tokens, budget)
}

// Prune returns the trimmed window and a description of the change, or the
// input unchanged and nil when nothing had to go.
func (p *ContextPruner) Prune(messages []*models.Message, budget int, protected map[string]struct{}) ([]*models.Message, *models.WindowChange) {
	if ok, _ := p.ShouldPrune(messages, budget); !ok {
		return messages, nil
	}

	preamble := p.preamble(messages)
	units := groupUnits(messages[len(preamble):])

	preambleTokens := EstimateTokens(preamble)
	kept := 0
	spent := 0
	for i := len(units) - 1; i >= 0; i-- {
		unitTokens := EstimateTokens(units[i])
		if kept >= p.config.MinKeepUnits && preambleTokens+spent+unitTokens > budget {
			break
		}
		spent += unitTokens
		kept++
	}
	cut := len(units) - kept

	out := make([]*models.Message, 0, len(messages))
	out = append(out, preamble...)
	for i, unit := range units {
		if i >= cut || containsProtected(unit, protected) {
			out = append(out, unit...)
		}
	}
	if len(out) == len(messages) {
		return messages, nil
	}

	return out, &models.WindowChange{
		FromMessages: len(messages),
		ToMessages:   len(out),
		FromTokens:   EstimateTokens(messages),
		ToTokens:     EstimateTokens(out),
	}
}

// preamble returns the prefix that survives every prune: leading system
// messages and, when configured, the first user message.
func (p *ContextPruner) preamble(messages []*models.Message) []*models.Message {
	var out []*models.Message
	i := 0
	for ; i < len(messages) && messages[i].Role == models.RoleSystem; i++ {
		out = append(out, messages[i])
	}
	if p.config.PreserveTask && i < len(messages) && messages[i].Role == models.RoleUser {
		out = append(out, messages[i])
	}
	return out
}

func containsProtected(unit []*models.Message, protected map[string]struct{}) bool {
	if len(protected) == 0 {
		return false
	}
	for _, msg := range unit {
		if _, ok := protected[msg.ID]; ok {
			return true
		}
	}
	return false
}

// groupUnits splits history into indivisible turn units. A user message
// directly after an assistant message carries that assistant's tool result,
// so the two travel together.
func groupUnits(messages []*models.Message) [][]*models.Message {
	var units [][]*models.Message
	for i := 0; i < len(messages); i++ {
		unit := []*models.Message{messages[i]}
		if messages[i].Role == models.RoleAssistant && i+1 < len(messages) && messages[i+1].Role == models.RoleUser {
			unit = append(unit, messages[i+1])
			i++
		}
		units = append(units, unit)
	}
	return units
}

// EstimateTokens provides a rough token estimate for messages. It uses the
// ~4 characters per token heuristic plus a small per-message overhead.
func EstimateTokens(messages []*models.Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
		totalChars += 20
	}
	return totalChars / 4
}
