package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// headerPrefix introduces each per-file section of a git diff.
const headerPrefix = "diff --git "

// maxPathLen is the length at which a parsed path is treated as garbage.
const maxPathLen = 500

// FileDiff is one file's diff within a change set. Diff holds the complete
// section including its "diff --git" header; when a file appears more than
// once in the input, the sections are joined with a newline.
type FileDiff struct {
	Path string
	Diff string
	Size int // len(Diff)
}

// NewFileDiff returns a FileDiff with Size derived from text.
func NewFileDiff(path, text string) FileDiff {
	return FileDiff{Path: path, Diff: text, Size: len(text)}
}

var (
	// headerRegex matches "a/<path> b/<path>", optionally quoted by git.
	headerRegex = regexp.MustCompile(`^"?a/(.+?)"? "?b/(.+?)"?$`)
	// templateRegex matches interpolation syntax that never appears in real paths.
	templateRegex = regexp.MustCompile("\\$\\{|\\{\\{|\\}\\}|<%|%>|`")
	digitsOnly    = regexp.MustCompile(`^[\d\s]+$`)
)

// Split parses raw git diff output into one FileDiff per distinct file, in
// first-seen order. The "b" path is canonical. Sections whose path fails
// validation are skipped. If known is non-empty, paths not in known are
// skipped too; known is the authoritative list of changed paths.
// Input without any "diff --git" header yields nil.
func Split(raw string, known []string) []FileDiff {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var allowed map[string]struct{}
	if len(known) > 0 {
		allowed = make(map[string]struct{}, len(known))
		for _, p := range known {
			allowed[p] = struct{}{}
		}
	}

	var out []FileDiff
	index := make(map[string]int)
	for _, s := range splitSections(raw) {
		path, ok := sectionPath(s)
		if !ok {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[path]; !ok {
				continue
			}
		}
		if i, seen := index[path]; seen {
			out[i] = NewFileDiff(path, out[i].Diff+"\n"+s)
			continue
		}
		index[path] = len(out)
		out = append(out, NewFileDiff(path, s))
	}
	return out
}

// Paths returns the paths of files in order.
func Paths(files []FileDiff) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// Join concatenates file diffs back into a single diff string.
func Join(files []FileDiff) string {
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = f.Diff
	}
	return strings.Join(parts, "\n")
}

// TotalSize returns the sum of file sizes.
func TotalSize(files []FileDiff) int {
	n := 0
	for _, f := range files {
		n += f.Size
	}
	return n
}

// splitSections splits raw on the header prefix and returns each section
// with its header restored and trailing newlines trimmed. Text before the
// first header is dropped.
func splitSections(raw string) []string {
	chunks := strings.Split(raw, headerPrefix)
	if len(chunks) < 2 {
		return nil
	}
	sections := make([]string, 0, len(chunks)-1)
	for _, c := range chunks[1:] {
		sections = append(sections, headerPrefix+strings.TrimRight(c, "\n"))
	}
	return sections
}

// sectionPath extracts and validates the "b" path from a section header.
func sectionPath(section string) (string, bool) {
	header := strings.TrimPrefix(section, headerPrefix)
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	header = strings.TrimRight(header, "\r")
	m := headerRegex.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	path := m[2]
	if strings.HasSuffix(header, `"`) {
		var ok bool
		if path, ok = unquotePath(header); !ok {
			return "", false
		}
	}
	if !validPath(path) {
		return "", false
	}
	return path, true
}

// unquotePath decodes the "b" side of a header git wrote as a C-style
// quoted string, e.g. "b/caf\303\251.txt".
func unquotePath(header string) (string, bool) {
	i := strings.LastIndex(header, ` "b/`)
	if i < 0 {
		return "", false
	}
	s, err := strconv.Unquote(header[i+1:])
	if err != nil {
		return "", false
	}
	return strings.TrimPrefix(s, "b/"), true
}

// validPath rejects paths that come from mis-split or embedded diff text.
func validPath(p string) bool {
	switch {
	case p == "":
		return false
	case len(p) >= maxPathLen:
		return false
	case strings.ContainsAny(p, "\r\n"):
		return false
	case strings.HasPrefix(p, "a/"):
		return false
	case templateRegex.MatchString(p):
		return false
	case digitsOnly.MatchString(p):
		return false
	}
	return true
}
