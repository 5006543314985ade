// Package compose packs per-file diffs into request chunks that each fit a
// token limit.
//
// Packing is greedy first-fit in file order: a file joins the current chunk
// when the chunk still fits with it, otherwise the chunk is closed and the
// file starts the next one. This is not optimal bin-packing; it keeps file
// order and needs one pass. A file that alone exceeds the limit becomes its
// own oversized chunk for the truncate package to handle.
package compose

import "strings"

// Separator joins file diffs inside a chunk.
const Separator = "\n"

// Counter returns the token count of a string.
type Counter interface {
	Count(text string) int
}

// Chunk is one request's worth of file diffs.
type Chunk struct {
	Content string
	Files   int  // number of file diffs packed into Content
	Tokens  int  // Count(Content)
	Over    bool // a single file whose own diff exceeds the limit
}

// Pack groups diffs into chunks whose token count is at most maxTokens,
// preserving order. Empty input returns nil; a single diff is returned as
// one chunk unchanged.
func Pack(diffs []string, maxTokens int, counter Counter) []Chunk {
	if len(diffs) == 0 {
		return nil
	}
	if len(diffs) == 1 {
		n := counter.Count(diffs[0])
		return []Chunk{{Content: diffs[0], Files: 1, Tokens: n, Over: n > maxTokens}}
	}

	var (
		chunks []Chunk
		cur    strings.Builder
		files  int
		tokens int
	)
	flush := func() {
		if files == 0 {
			return
		}
		chunks = append(chunks, Chunk{Content: cur.String(), Files: files, Tokens: tokens, Over: tokens > maxTokens})
		cur.Reset()
		files, tokens = 0, 0
	}
	for _, d := range diffs {
		if files == 0 {
			cur.WriteString(d)
			files, tokens = 1, counter.Count(d)
			continue
		}
		candidate := cur.String() + Separator + d
		n := counter.Count(candidate)
		if n <= maxTokens {
			cur.WriteString(Separator)
			cur.WriteString(d)
			files++
			tokens = n
			continue
		}
		flush()
		cur.WriteString(d)
		files, tokens = 1, counter.Count(d)
	}
	flush()
	return chunks
}

// Contents returns the chunk texts in order.
func Contents(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

// Join combines per-chunk results with a blank line, in chunk order,
// skipping empty results.
func Join(results []string) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r = strings.TrimSpace(r); r != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, "\n\n")
}
