package tokens

import "fmt"

// SafetyBuffer is subtracted from the remaining input budget before any
// comparison, absorbing small differences between counters.
const SafetyBuffer = 20

// Budget bounds one request to the generation backend. It is computed per
// invocation and never persisted.
type Budget struct {
	MaxInputTokens     int
	MaxOutputTokens    int
	SystemPromptTokens int
}

// Remaining is the hard ceiling for user content: the input ceiling minus the
// output reserve and the system prompt.
func (b Budget) Remaining() int {
	return b.MaxInputTokens - b.MaxOutputTokens - b.SystemPromptTokens
}

// Available is Remaining minus SafetyBuffer; content at or below it is
// accepted without truncation.
func (b Budget) Available() int {
	return b.Remaining() - SafetyBuffer
}

// WithSystemPrompt returns a copy of b with the system prompt cost set.
func (b Budget) WithSystemPrompt(tokens int) Budget {
	b.SystemPromptTokens = tokens
	return b
}

// String formats the budget for trace output.
func (b Budget) String() string {
	return fmt.Sprintf("max_input=%d max_output=%d system=%d available=%d",
		b.MaxInputTokens, b.MaxOutputTokens, b.SystemPromptTokens, b.Available())
}
