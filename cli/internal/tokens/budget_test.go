package tokens

import (
	"strings"
	"testing"
)

func TestBudget_Available(t *testing.T) {
	t.Parallel()
	b := Budget{MaxInputTokens: 4096, MaxOutputTokens: 500}.WithSystemPrompt(300)
	if got := b.Remaining(); got != 3296 {
		t.Errorf("Remaining() = %d, want 3296", got)
	}
	if got := b.Available(); got != 3276 {
		t.Errorf("Available() = %d, want 3276", got)
	}
	if !strings.Contains(b.String(), "available=3276") {
		t.Errorf("String() = %q", b.String())
	}
}

func TestBudget_negative(t *testing.T) {
	t.Parallel()
	b := Budget{MaxInputTokens: 100, MaxOutputTokens: 90, SystemPromptTokens: 50}
	if b.Available() >= 0 {
		t.Errorf("Available() = %d, want negative", b.Available())
	}
}
