package compose

import (
	"fmt"
	"strings"
	"testing"

	"diffsum/cli/internal/tokens"
)

// words counts whitespace-separated words, a deterministic stand-in for a tokenizer.
type words struct{}

func (words) Count(s string) int { return len(strings.Fields(s)) }

func fileDiff(name string, n int) string {
	return name + strings.Repeat(" w", n-1)
}

func TestPack_degenerate(t *testing.T) {
	t.Parallel()
	if got := Pack(nil, 10, words{}); got != nil {
		t.Errorf("Pack(nil) = %v, want nil", got)
	}
	one := fileDiff("a", 50)
	got := Pack([]string{one}, 10, words{})
	if len(got) != 1 || got[0].Content != one || !got[0].Over || got[0].Files != 1 {
		t.Errorf("Pack(single) = %+v", got)
	}
}

func TestPack_greedyFirstFit(t *testing.T) {
	t.Parallel()
	diffs := []string{fileDiff("a", 4), fileDiff("b", 4), fileDiff("c", 4), fileDiff("d", 2)}
	got := Pack(diffs, 10, words{})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Files != 2 || got[1].Files != 2 {
		t.Errorf("files per chunk = %d,%d, want 2,2", got[0].Files, got[1].Files)
	}
	if !strings.HasPrefix(got[0].Content, "a") || !strings.HasPrefix(got[1].Content, "c") {
		t.Errorf("order not preserved: %q | %q", got[0].Content, got[1].Content)
	}
	if got[1].Tokens != 6 {
		t.Errorf("Tokens = %d, want 6", got[1].Tokens)
	}
}

func TestPack_oversizedFileOwnChunk(t *testing.T) {
	t.Parallel()
	diffs := []string{fileDiff("a", 3), fileDiff("big", 40), fileDiff("c", 3)}
	got := Pack(diffs, 10, words{})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Over || !got[1].Over || got[2].Over {
		t.Errorf("Over flags = %v %v %v, want false true false", got[0].Over, got[1].Over, got[2].Over)
	}
}

func TestPack_neverExceedsLimit(t *testing.T) {
	t.Parallel()
	counter := tokens.NewCounter(nil, tokens.CounterOptions{})
	var diffs []string
	for i := 0; i < 40; i++ {
		diffs = append(diffs, fmt.Sprintf("diff --git a/f%d b/f%d\n%s", i, i, strings.Repeat("+x\n", i%7*9+1)))
	}
	const max = 60
	chunks := Pack(diffs, max, counter)
	var rebuilt []string
	for _, c := range chunks {
		if got := counter.Count(c.Content); got > max && c.Files > 1 {
			t.Errorf("chunk with %d files has %d tokens > %d", c.Files, got, max)
		}
		if c.Tokens != counter.Count(c.Content) {
			t.Errorf("Tokens = %d, want %d", c.Tokens, counter.Count(c.Content))
		}
		rebuilt = append(rebuilt, c.Content)
	}
	if strings.Join(rebuilt, Separator) != strings.Join(diffs, Separator) {
		t.Error("chunks do not preserve file order and content")
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()
	got := Join([]string{" first ", "", "second\n"})
	if got != "first\n\nsecond" {
		t.Errorf("Join = %q", got)
	}
}
