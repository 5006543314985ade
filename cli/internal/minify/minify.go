// Package minify shrinks oversized unified diffs so they cost fewer prompt
// tokens while keeping enough signal to summarize the change. Each file
// section runs through four ordered stages: binary marker removal, body
// truncation, long context-run summarization and whitespace-only change
// compression. Added and removed lines always keep their prefix; every
// dropped span is replaced by a "[... ...]" summary line.
package minify

import (
	"fmt"
	"regexp"
	"strings"

	"diffsum/cli/internal/diff"
)

const (
	// DefaultThreshold is the diff size in bytes below which nothing is changed.
	DefaultThreshold = 32 * 1024
	// DefaultMaxFileLines is the number of body lines kept per file.
	DefaultMaxFileLines = 400
	// DefaultContextRun is the longest run of context lines kept verbatim.
	DefaultContextRun = 8
	// DefaultContextKeep is the number of context lines kept at each end of a summarized run.
	DefaultContextKeep = 3
	// DefaultBlankRun is the longest run of whitespace-only changed lines kept verbatim.
	DefaultBlankRun = 5
)

// binaryLine matches git's notice for binary content.
var binaryLine = regexp.MustCompile(`^Binary files .* differ$`)

// Options tunes Optimize. Zero fields take the defaults.
type Options struct {
	Threshold    int
	MaxFileLines int
	ContextRun   int
	ContextKeep  int
	BlankRun     int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxFileLines <= 0 {
		o.MaxFileLines = DefaultMaxFileLines
	}
	if o.ContextRun <= 0 {
		o.ContextRun = DefaultContextRun
	}
	if o.ContextKeep <= 0 {
		o.ContextKeep = DefaultContextKeep
	}
	if 2*o.ContextKeep >= o.ContextRun {
		o.ContextKeep = o.ContextRun / 2
	}
	if o.BlankRun <= 0 {
		o.BlankRun = DefaultBlankRun
	}
	return o
}

// Optimize returns text unchanged when it is smaller than the threshold;
// otherwise each "diff --git" section is optimized independently. Text
// without section headers is treated as a single section.
func Optimize(text string, opts Options) string {
	opts = opts.withDefaults()
	if len(text) < opts.Threshold {
		return text
	}
	files := diff.Split(text, nil)
	if len(files) == 0 {
		return optimizeSection(text, opts)
	}
	return diff.Join(OptimizeAll(files, opts))
}

// OptimizeFiles optimizes every file when their combined size reaches the
// threshold and returns files unchanged otherwise.
func OptimizeFiles(files []diff.FileDiff, opts Options) []diff.FileDiff {
	opts = opts.withDefaults()
	if diff.TotalSize(files) < opts.Threshold {
		return files
	}
	return OptimizeAll(files, opts)
}

// OptimizeAll runs the stages on every file regardless of size.
func OptimizeAll(files []diff.FileDiff, opts Options) []diff.FileDiff {
	opts = opts.withDefaults()
	out := make([]diff.FileDiff, len(files))
	for i, f := range files {
		out[i] = diff.NewFileDiff(f.Path, optimizeSection(f.Diff, opts))
	}
	return out
}

// optimizeSection optimizes each "diff --git" occurrence in text on its own,
// so merged sections keep their per-occurrence headers.
func optimizeSection(text string, opts Options) string {
	parts := strings.Split(text, "\ndiff --git ")
	for i, p := range parts {
		if i > 0 {
			p = "diff --git " + p
		}
		parts[i] = optimizeOne(p, opts)
	}
	return strings.Join(parts, "\n")
}

func optimizeOne(section string, opts Options) string {
	lines := strings.Split(section, "\n")
	lines = stripBinaryMarkers(lines)
	lines = truncateBody(lines, opts.MaxFileLines)
	lines = summarizeContext(lines, opts.ContextRun, opts.ContextKeep)
	lines = compressBlankChanges(lines, opts.BlankRun)
	return strings.Join(lines, "\n")
}

func isHunkHeader(line string) bool {
	return strings.HasPrefix(line, "@@")
}

func isMarker(line string) bool {
	return strings.HasPrefix(line, "[... ")
}

// firstHunk returns the index of the first hunk header, or len(lines).
func firstHunk(lines []string) int {
	for i, l := range lines {
		if isHunkHeader(l) {
			return i
		}
	}
	return len(lines)
}

func stripBinaryMarkers(lines []string) []string {
	out := lines[:0]
	for _, l := range lines {
		if binaryLine.MatchString(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// truncateBody keeps file headers, hunk headers and the first max body lines.
func truncateBody(lines []string, max int) []string {
	start := firstHunk(lines)
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	kept, omitted := 0, 0
	for _, l := range lines[start:] {
		if isHunkHeader(l) {
			out = append(out, l)
			continue
		}
		if kept < max {
			out = append(out, l)
			kept++
			continue
		}
		omitted++
	}
	if omitted > 0 {
		out = append(out, fmt.Sprintf("[... %d more lines truncated ...]", omitted))
	}
	return out
}

func isContext(line string) bool {
	if line == "" {
		return true
	}
	switch line[0] {
	case '+', '-', '\\':
		return false
	}
	return !isHunkHeader(line) && !isMarker(line)
}

// summarizeContext replaces runs of more than run context lines with the
// first and last keep lines around a count marker.
func summarizeContext(lines []string, run, keep int) []string {
	start := firstHunk(lines)
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	body := lines[start:]
	for i := 0; i < len(body); {
		if !isContext(body[i]) {
			out = append(out, body[i])
			i++
			continue
		}
		j := i
		for j < len(body) && isContext(body[j]) {
			j++
		}
		n := j - i
		if n <= run {
			out = append(out, body[i:j]...)
		} else {
			out = append(out, body[i:i+keep]...)
			out = append(out, fmt.Sprintf("[... %d unchanged lines ...]", n-2*keep))
			out = append(out, body[j-keep:j]...)
		}
		i = j
	}
	return out
}

func isBlankChange(line string) bool {
	if line == "" || (line[0] != '+' && line[0] != '-') {
		return false
	}
	return strings.TrimSpace(line[1:]) == ""
}

// compressBlankChanges collapses runs of more than run whitespace-only
// added or removed lines into one marker.
func compressBlankChanges(lines []string, run int) []string {
	start := firstHunk(lines)
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)
	body := lines[start:]
	for i := 0; i < len(body); {
		if !isBlankChange(body[i]) {
			out = append(out, body[i])
			i++
			continue
		}
		j := i
		for j < len(body) && isBlankChange(body[j]) {
			j++
		}
		if n := j - i; n > run {
			out = append(out, fmt.Sprintf("[... %d whitespace-only lines changed ...]", n))
		} else {
			out = append(out, body[i:j]...)
		}
		i = j
	}
	return out
}
