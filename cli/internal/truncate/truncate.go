// Package truncate forces request content under the input-token ceiling.
//
// Fit prefers whole files: when the content is several file diffs it keeps
// files in order while they fit in 90% of the budget, cuts the first file
// that does not fit at a line boundary, and drops the rest. Otherwise the
// whole content is cut at the longest line-aligned prefix that fits. Every
// cut ends with Notice. If the result still exceeds the ceiling after a few
// tighter retries, Fit fails with a *BudgetError rather than sending an
// oversized request.
package truncate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"diffsum/cli/internal/tokens"
)

// Notice is appended wherever content was cut.
const Notice = "[... diff truncated to fit the token budget ...]"

const (
	// DefaultMaxRetries bounds the tighter passes after the first cut.
	DefaultMaxRetries = 3
	// conservativeFraction of the budget is used by the file pass to absorb
	// drift between estimated and exact counts.
	conservativeFraction = 0.9
	// minFileTokens is the least budget worth spending on a partial file.
	minFileTokens = 50
	fileSeparator = "\ndiff --git "
)

// ErrBudgetExceeded matches *BudgetError with errors.Is.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetError reports content that could not be brought under the ceiling.
type BudgetError struct {
	MaxInputTokens     int
	MaxOutputTokens    int
	SystemPromptTokens int
	ContentTokens      int // tokens of the smallest attempt
	Remaining          int // tokens left for content
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("request content needs %d tokens but only %d remain (max input %d, system prompt %d, output reserve %d); raise max_input_tokens",
		e.ContentTokens, e.Remaining, e.MaxInputTokens, e.SystemPromptTokens, e.MaxOutputTokens)
}

// Is reports whether target is ErrBudgetExceeded.
func (e *BudgetError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Counter returns the token count of a string.
type Counter interface {
	Count(text string) int
}

// Mode records how Fit produced its result.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeFiles Mode = "files"
	ModeFull  Mode = "full"
)

// Result is the content to send and how it was produced.
type Result struct {
	Content string
	Tokens  int
	Mode    Mode
}

// Truncated reports whether content was cut.
func (r Result) Truncated() bool {
	return r.Mode != ModeNone
}

// Truncator cuts content to a token budget.
type Truncator struct {
	counter    Counter
	maxRetries int
}

// New returns a Truncator counting with counter.
func New(counter Counter) *Truncator {
	return &Truncator{counter: counter, maxRetries: DefaultMaxRetries}
}

// Fit returns content that brings the request within budget. Content at or
// below budget.Available() is returned unchanged.
func (t *Truncator) Fit(content string, budget tokens.Budget) (Result, error) {
	avail := budget.Available()
	n := t.counter.Count(content)
	if n <= avail {
		return Result{Content: content, Tokens: n, Mode: ModeNone}, nil
	}
	ceiling := budget.Remaining()
	limit := avail
	best := n
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		out, mode := t.shrink(content, limit)
		got := t.counter.Count(out)
		if got <= ceiling {
			return Result{Content: out, Tokens: got, Mode: mode}, nil
		}
		if got < best {
			best = got
		}
		step := got - ceiling
		if step < limit/10 {
			step = limit / 10
		}
		if step < 1 {
			step = 1
		}
		limit -= step
	}
	return Result{}, &BudgetError{
		MaxInputTokens:     budget.MaxInputTokens,
		MaxOutputTokens:    budget.MaxOutputTokens,
		SystemPromptTokens: budget.SystemPromptTokens,
		ContentTokens:      best,
		Remaining:          ceiling,
	}
}

func (t *Truncator) shrink(content string, limit int) (string, Mode) {
	if files := splitFiles(content); len(files) > 1 {
		if out, ok := t.byFiles(files, limit); ok {
			return out, ModeFiles
		}
	}
	return Prefix(content, limit, t.counter), ModeFull
}

// byFiles keeps whole files while they fit in the conservative limit and
// cuts the first file that does not.
func (t *Truncator) byFiles(files []string, limit int) (string, bool) {
	conservative := int(float64(limit) * conservativeFraction)
	noticeCost := t.counter.Count(Notice) + 1
	var kept []string
	used := 0
	for _, f := range files {
		candidate := strings.Join(append(kept[:len(kept):len(kept)], f), "\n")
		n := t.counter.Count(candidate)
		if n <= conservative {
			kept = append(kept, f)
			used = n
			continue
		}
		rest := conservative - used - noticeCost
		if rest >= minFileTokens {
			if p := prefixLines(f, rest, t.counter); p != "" {
				kept = append(kept, withNotice(p))
				return strings.Join(kept, "\n"), true
			}
		}
		if len(kept) == 0 {
			return "", false
		}
		kept = append(kept, Notice)
		return strings.Join(kept, "\n"), true
	}
	return strings.Join(kept, "\n"), true
}

// Prefix returns the longest line-aligned prefix of text that fits in limit
// tokens together with Notice. Text that already fits is returned unchanged;
// when limit <= 0 or no line fits, Notice alone is returned.
func Prefix(text string, limit int, counter Counter) string {
	if limit <= 0 {
		return Notice
	}
	if counter.Count(text) <= limit {
		return text
	}
	room := limit - counter.Count(Notice) - 1
	if room <= 0 {
		return Notice
	}
	p := prefixLines(text, room, counter)
	if p == "" {
		return Notice
	}
	return withNotice(p)
}

// prefixLines binary-searches the number of whole lines whose combined
// count is within limit. Cuts never split a line.
func prefixLines(text string, limit int, counter Counter) string {
	lines := strings.SplitAfter(text, "\n")
	ends := make([]int, len(lines)+1)
	for i, l := range lines {
		ends[i+1] = ends[i] + len(l)
	}
	// k is the first line count whose prefix no longer fits.
	k := sort.Search(len(lines)+1, func(k int) bool {
		return counter.Count(text[:ends[k]]) > limit
	})
	if k == 0 {
		return ""
	}
	return text[:ends[k-1]]
}

func withNotice(p string) string {
	if !strings.HasSuffix(p, "\n") {
		p += "\n"
	}
	return p + Notice
}

// splitFiles splits content into per-file diffs on "diff --git" headers.
func splitFiles(content string) []string {
	parts := strings.Split(content, fileSeparator)
	for i := 1; i < len(parts); i++ {
		parts[i] = "diff --git " + parts[i]
	}
	return parts
}
